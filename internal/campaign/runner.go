// Package campaign runs one bounded list of targets at a time: expand the
// template, deliver to the current target, record the outcome, wait, advance.
package campaign

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"dm-outreach-engine/internal/observability"
	"dm-outreach-engine/internal/pace"
	"dm-outreach-engine/internal/protocol"
	"dm-outreach-engine/internal/spintax"
	"dm-outreach-engine/internal/target"
)

// Tabs opens a target's page and waits for it to load, returning a tab id.
type Tabs interface {
	Open(ctx context.Context, url string) (string, error)
}

// Agent is the page-automation process as seen through the transport.
type Agent interface {
	Ping(ctx context.Context, tabID string) error
	ExecuteDM(ctx context.Context, tabID, text string) (protocol.Result, error)
}

// Flags persists the coarse running flag.
type Flags interface {
	SetRunning(ctx context.Context, running bool) error
	Running(ctx context.Context) (bool, error)
}

// Emitter receives UI events. runID is empty for lines that belong to no run.
type Emitter interface {
	Log(runID string, level protocol.Level, text string)
	Progress(current, total int)
	Complete()
}

type Options struct {
	MaxTargets   int
	Extractor    *target.Extractor
	Rand         pace.Source
	Sleep        pace.Sleeper
	PingAttempts int
	PingInterval time.Duration
}

// Runner is the campaign state machine: Idle while active is nil, Running
// otherwise.
type Runner struct {
	tabs   Tabs
	agent  Agent
	flags  Flags
	events Emitter
	opts   Options

	mu     sync.Mutex
	active *state
	latest *state
	done   chan struct{} // closed when the latest run's goroutine exits

	flagMu sync.Mutex // orders running-flag writes
}

func New(tabs Tabs, agent Agent, flags Flags, events Emitter, opts Options) *Runner {
	if opts.MaxTargets <= 0 {
		opts.MaxTargets = DefaultMaxTargets
	}
	if opts.Extractor == nil {
		opts.Extractor = target.NewExtractor(target.DefaultHost)
	}
	if opts.Rand == nil {
		opts.Rand = pace.Seeded()
	}
	if opts.Sleep == nil {
		opts.Sleep = pace.Sleep
	}
	if opts.PingAttempts <= 0 {
		opts.PingAttempts = 3
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 500 * time.Millisecond
	}
	return &Runner{tabs: tabs, agent: agent, flags: flags, events: events, opts: opts}
}

// Start validates cfg and begins a run. It is a no-op while a run is active.
// Configuration errors, including references outside the accepted host, are
// logged to the UI and returned; no state is created.
func (r *Runner) Start(ctx context.Context, cfg Config) error {
	err := cfg.Validate(r.opts.MaxTargets)
	if err == nil {
		err = cfg.CheckTargets(r.opts.Extractor)
	}
	if err != nil {
		r.events.Log("", protocol.Error, err.Error())
		return err
	}

	r.mu.Lock()
	if r.active != nil {
		id := r.active.id
		r.mu.Unlock()
		log.Debug().Str("run_id", id).Msg("start ignored, campaign already running")
		return nil
	}
	runCtx := context.WithoutCancel(ctx)
	st := &state{
		id:        uuid.NewString(),
		cfg:       Config{Targets: append([]string(nil), cfg.Targets...), Message: cfg.Message, DelayMin: cfg.DelayMin, DelayMax: cfg.DelayMax},
		running:   true,
		startedAt: time.Now(),
	}
	st.ctx, st.cancel = context.WithCancel(runCtx)
	prev, done := r.done, make(chan struct{})
	r.active, r.latest, r.done = st, st, done
	r.mu.Unlock()

	r.syncFlag(ctx)
	log.Info().Str("run_id", st.id).Int("targets", len(st.cfg.Targets)).Msg("campaign started")
	r.events.Log(st.id, protocol.Info, fmt.Sprintf("Campaign started: %d targets", len(st.cfg.Targets)))

	go r.run(runCtx, st, prev, done)
	return nil
}

// Stop ends the active run at once. An in-flight delivery finishes and is
// recorded, but nothing after it runs. Safe to call while idle.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	st := r.active
	if st != nil {
		st.running = false
		st.endedAt = time.Now()
		r.active = nil
	}
	r.mu.Unlock()

	r.syncFlag(ctx)
	if st == nil {
		return
	}
	st.cancel()
	log.Info().Str("run_id", st.id).Msg("campaign stopped")
	r.events.Log(st.id, protocol.Warning, "Campaign stopped")
}

// Running reports whether a run is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Status is the active run, or the most recent one, or a zero Snapshot.
func (r *Runner) Status() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return Snapshot{Outcomes: []Outcome{}}
	}
	return r.latest.snapshot()
}

// Wait blocks until the latest run's goroutine has exited, including any
// delivery still in flight after Stop.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearStale resets a running flag left behind by a process that died
// mid-run. Run state is not replayed.
func (r *Runner) ClearStale(ctx context.Context) error {
	was, err := r.flags.Running(ctx)
	if err != nil {
		return fmt.Errorf("read running flag: %w", err)
	}
	if !was || r.Running() {
		return nil
	}
	r.events.Log("", protocol.Warning, "Previous campaign was interrupted; its progress was not kept")
	return r.writeFlag(ctx)
}

// writeFlag persists whether a run is active. Each write reads the state it
// writes while holding flagMu, so the last write always matches the Runner.
func (r *Runner) writeFlag(ctx context.Context) error {
	r.flagMu.Lock()
	defer r.flagMu.Unlock()
	running := r.Running()
	if running {
		observability.CampaignRunning.Set(1)
	} else {
		observability.CampaignRunning.Set(0)
	}
	return r.flags.SetRunning(ctx, running)
}

func (r *Runner) syncFlag(ctx context.Context) {
	if err := r.writeFlag(ctx); err != nil {
		log.Warn().Err(err).Msg("persist running flag")
	}
}

func (r *Runner) run(ctx context.Context, st *state, prev, done chan struct{}) {
	defer close(done)
	if prev != nil {
		// a stopped run may still have a delivery in flight
		<-prev
	}
	for r.processCurrent(ctx, st) && r.advance(ctx, st) {
	}
}

// processCurrent handles the target under the cursor. false means the run
// is over, by completion or stop.
func (r *Runner) processCurrent(ctx context.Context, st *state) bool {
	r.mu.Lock()
	running, cur, total := st.running, st.cursor, len(st.cfg.Targets)
	r.mu.Unlock()

	if !running {
		return false
	}
	if cur >= total {
		r.finalize(ctx, st)
		return false
	}

	ref := st.cfg.Targets[cur]
	handle := r.opts.Extractor.DisplayID(ref)
	message := spintax.Expand(st.cfg.Message, r.opts.Rand)

	r.events.Progress(cur, total)
	r.events.Log(st.id, protocol.Info, fmt.Sprintf("Processing (%d/%d): %s", cur+1, total, handle))

	start := time.Now()
	out := r.deliver(ctx, st.id, ref, message)
	observability.ObserveDelivery(out.Success, time.Since(start))

	r.mu.Lock()
	st.outcomes = append(st.outcomes, out)
	r.mu.Unlock()

	if out.Success {
		r.events.Log(st.id, protocol.Success, "Sent: "+handle)
	} else {
		r.events.Log(st.id, protocol.Error, fmt.Sprintf("Failed: %s: %s", handle, out.Error))
	}
	log.Info().Str("run_id", st.id).Str("target", handle).Bool("success", out.Success).Str("error", out.Error).Msg("target processed")
	return true
}

// advance moves the cursor and paces before the next target.
func (r *Runner) advance(ctx context.Context, st *state) bool {
	r.mu.Lock()
	if !st.running {
		r.mu.Unlock()
		return false
	}
	st.cursor++
	more := st.cursor < len(st.cfg.Targets)
	r.mu.Unlock()

	if !more {
		r.finalize(ctx, st)
		return false
	}

	delay := pace.Between(r.opts.Rand, st.cfg.DelayMin, st.cfg.DelayMax)
	r.events.Log(st.id, protocol.Info, fmt.Sprintf("Waiting %ds before continuing...", int((delay+500*time.Millisecond)/time.Second)))
	if err := r.opts.Sleep(st.ctx, delay); err != nil {
		log.Debug().Err(err).Str("run_id", st.id).Msg("pacing wait interrupted")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return st.running
}

func (r *Runner) finalize(ctx context.Context, st *state) {
	r.mu.Lock()
	if !st.running {
		r.mu.Unlock()
		return
	}
	st.running = false
	st.endedAt = time.Now()
	total, succeeded, recorded := len(st.cfg.Targets), st.succeeded(), len(st.outcomes)
	if r.active == st {
		r.active = nil
	}
	r.mu.Unlock()
	st.cancel()

	r.events.Log(st.id, protocol.Success, fmt.Sprintf("Campaign complete: %d/%d sent", succeeded, recorded))
	r.events.Progress(total, total)
	r.events.Complete()

	r.syncFlag(ctx)
	log.Info().Str("run_id", st.id).Int("succeeded", succeeded).Int("total", total).Msg("campaign complete")
}

// deliver opens the target, waits for the page agent and runs one delivery.
// Every failure, panics included, becomes a failed Outcome.
func (r *Runner) deliver(ctx context.Context, runID, ref, message string) (out Outcome) {
	out.Target = ref
	defer func() {
		if p := recover(); p != nil {
			out = Outcome{Target: ref, Error: fmt.Sprintf("panic: %v", p)}
		}
	}()

	tab, err := r.tabs.Open(ctx, ref)
	if err != nil {
		out.Error = fmt.Sprintf("open page: %v", err)
		return out
	}
	r.events.Log(runID, protocol.Info, "Page loaded")

	if err := r.ping(ctx, tab); err != nil {
		out.Error = fmt.Sprintf("page agent not ready: %v", err)
		return out
	}

	res, err := r.agent.ExecuteDM(ctx, tab, message)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if !res.Success {
		out.Error = res.Error
		if out.Error == "" {
			out.Error = "no result from page agent"
		}
		return out
	}
	out.Success = true
	return out
}

func (r *Runner) ping(ctx context.Context, tab string) error {
	var err error
	for i := 0; i < r.opts.PingAttempts; i++ {
		if err = r.agent.Ping(ctx, tab); err == nil {
			return nil
		}
		if i < r.opts.PingAttempts-1 {
			if serr := r.opts.Sleep(ctx, r.opts.PingInterval); serr != nil {
				return serr
			}
		}
	}
	return err
}
