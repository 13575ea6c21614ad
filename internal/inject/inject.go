// Package inject deposits text into a reactive rich-text editor so the host
// application's own state tracking sees it as typed input.
package inject

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"dm-outreach-engine/internal/dom"
	"dm-outreach-engine/internal/pace"
)

var ErrNoSurface = errors.New("no editable surface")

// Timing bounds the keystroke cadence.
type Timing struct {
	FocusSettle time.Duration
	KeyMin      time.Duration
	KeyMax      time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		FocusSettle: 200 * time.Millisecond,
		KeyMin:      20 * time.Millisecond,
		KeyMax:      70 * time.Millisecond,
	}
}

type Injector struct {
	Timing Timing
	Rand   pace.Source
	Sleep  pace.Sleeper
}

func New(rnd pace.Source) *Injector {
	return &Injector{Timing: DefaultTiming(), Rand: rnd, Sleep: pace.Sleep}
}

// Inject types text into el. The primary path focuses, clears, raises one
// insertText event per character, then commits the assembled paragraph. If
// any primary step fails the content is set directly as a fallback. The two
// paths never both run to completion.
func (in *Injector) Inject(ctx context.Context, el dom.Editable, text string) error {
	if el == nil {
		return ErrNoSurface
	}
	err := in.typeText(ctx, el, text)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Debug().Err(err).Msg("keystroke input failed, setting content directly")
	if ferr := el.SetText(text); ferr != nil {
		return fmt.Errorf("inject text: %v; fallback: %w", err, ferr)
	}
	return nil
}

func (in *Injector) typeText(ctx context.Context, el dom.Editable, text string) error {
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	if err := in.Sleep(ctx, in.Timing.FocusSettle); err != nil {
		return err
	}
	if err := el.Clear(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	var frag strings.Builder
	for _, r := range text {
		frag.WriteRune(r)
		if err := el.InputText(string(r)); err != nil {
			return fmt.Errorf("input %q: %w", r, err)
		}
		if err := in.Sleep(ctx, pace.Between(in.Rand, in.Timing.KeyMin, in.Timing.KeyMax)); err != nil {
			return err
		}
	}

	if err := el.Replace(frag.String()); err != nil {
		return fmt.Errorf("replace: %w", err)
	}
	return nil
}
