// Package delivery runs one "open composer, type, submit" sequence against a
// page surface.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"dm-outreach-engine/internal/dom"
	"dm-outreach-engine/internal/inject"
	"dm-outreach-engine/internal/pace"
	"dm-outreach-engine/internal/protocol"
)

// Timing holds the waits between steps.
type Timing struct {
	ComposerMin time.Duration
	ComposerMax time.Duration
	SettleMin   time.Duration
	SettleMax   time.Duration
	AfterSubmit time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		ComposerMin: 2000 * time.Millisecond,
		ComposerMax: 3500 * time.Millisecond,
		SettleMin:   800 * time.Millisecond,
		SettleMax:   1500 * time.Millisecond,
		AfterSubmit: 2000 * time.Millisecond,
	}
}

type Deliverer struct {
	Locators Locators
	Timing   Timing
	Injector *inject.Injector
	Rand     pace.Source
	Sleep    pace.Sleeper
}

func New(rnd pace.Source) *Deliverer {
	return &Deliverer{
		Locators: DefaultLocators(),
		Timing:   DefaultTiming(),
		Injector: inject.New(rnd),
		Rand:     rnd,
		Sleep:    pace.Sleep,
	}
}

// Deliver never panics or returns an error; every failure is in the Result.
func (d *Deliverer) Deliver(ctx context.Context, s dom.Surface, message string) (res protocol.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("delivery panicked")
			res = protocol.Failed(fmt.Sprintf("delivery panicked: %v", r))
		}
	}()
	if err := d.deliver(ctx, s, message); err != nil {
		log.Debug().Err(err).Msg("delivery failed")
		return protocol.Failed(err.Error())
	}
	return protocol.Succeeded()
}

func (d *Deliverer) deliver(ctx context.Context, s dom.Surface, message string) error {
	if s == nil {
		return fmt.Errorf("no page surface")
	}

	open, err := d.resolve(ctx, s, d.Locators.OpenComposer, `"Message" button`)
	if err != nil {
		return err
	}
	if err := open.Click(); err != nil {
		return fmt.Errorf("click message button: %w", err)
	}
	if err := d.Sleep(ctx, pace.Between(d.Rand, d.Timing.ComposerMin, d.Timing.ComposerMax)); err != nil {
		return err
	}

	in, err := d.resolve(ctx, s, d.Locators.Input, "message input")
	if err != nil {
		return err
	}
	editable, ok := in.(dom.Editable)
	if !ok {
		return fmt.Errorf("message input is not editable")
	}
	if err := d.Injector.Inject(ctx, editable, message); err != nil {
		return fmt.Errorf("type message: %w", err)
	}
	if err := d.Sleep(ctx, pace.Between(d.Rand, d.Timing.SettleMin, d.Timing.SettleMax)); err != nil {
		return err
	}

	send, err := d.resolve(ctx, s, d.Locators.Submit, "send button (message may be empty)")
	if err != nil {
		return err
	}
	if err := send.Click(); err != nil {
		return fmt.Errorf("click send button: %w", err)
	}
	if err := d.Sleep(ctx, d.Timing.AfterSubmit); err != nil {
		return err
	}
	log.Debug().Msg("message submitted")
	return nil
}

// resolve re-queries the live surface every time; elements are not kept
// across the waits above.
func (d *Deliverer) resolve(ctx context.Context, s dom.Surface, q dom.Query, what string) (dom.Element, error) {
	m, found, err := dom.Resolve(ctx, s, q)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", what, err)
	}
	if !found {
		return nil, fmt.Errorf("%s not found", what)
	}
	log.Debug().Str("control", what).Str("strategy", m.Strategy).Msg("control resolved")
	return m.Element, nil
}
