// Package transport carries EXECUTE_DM and PING between the orchestrator and
// the page-automation process, either in-process or over HTTP.
package transport

import (
	"context"
	"errors"
	"fmt"

	"dm-outreach-engine/internal/dom"
	"dm-outreach-engine/internal/protocol"
)

var ErrNotReady = errors.New("page agent not ready")

// Error is a TransportError: the agent was unreachable or answered with
// something other than a well-formed reply.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Agent is the page-automation side of the protocol.
type Agent interface {
	Ping(ctx context.Context, tabID string) error
	ExecuteDM(ctx context.Context, tabID, text string) (protocol.Result, error)
}

// Surfaces resolves a tab id to its live document.
type Surfaces interface {
	Surface(ctx context.Context, tabID string) (dom.Surface, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, s dom.Surface, message string) protocol.Result
}

// Local runs the Delivery Operation in-process against the tab's surface.
type Local struct {
	surfaces  Surfaces
	deliverer Deliverer
}

func NewLocal(surfaces Surfaces, deliverer Deliverer) *Local {
	return &Local{surfaces: surfaces, deliverer: deliverer}
}

func (l *Local) Ping(ctx context.Context, tabID string) error {
	if _, err := l.surfaces.Surface(ctx, tabID); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return nil
}

func (l *Local) ExecuteDM(ctx context.Context, tabID, text string) (protocol.Result, error) {
	s, err := l.surfaces.Surface(ctx, tabID)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("resolve tab %s: %w", tabID, err)
	}
	return l.deliverer.Deliver(ctx, s, text), nil
}
