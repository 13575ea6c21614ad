package campaign

import (
	"context"
	"time"
)

// Outcome is one target's result. Append-only.
type Outcome struct {
	Target  string `json:"target"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// state is the per-run state; the Runner's mutex guards every field after
// construction except cfg, id and ctx.
type state struct {
	id        string
	cfg       Config
	cursor    int
	outcomes  []Outcome
	running   bool
	startedAt time.Time
	endedAt   time.Time

	// ctx is cancelled by stop or finalize; only pacing waits observe it.
	ctx    context.Context
	cancel context.CancelFunc
}

// Snapshot is a read-only copy of run state for the UI.
type Snapshot struct {
	RunID     string    `json:"runId,omitempty"`
	Running   bool      `json:"running"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Outcomes  []Outcome `json:"outcomes"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
}

func (s *state) snapshot() Snapshot {
	return Snapshot{
		RunID:     s.id,
		Running:   s.running,
		Current:   s.cursor,
		Total:     len(s.cfg.Targets),
		Succeeded: s.succeeded(),
		Outcomes:  append([]Outcome{}, s.outcomes...),
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
	}
}

func (s *state) succeeded() int {
	n := 0
	for _, o := range s.outcomes {
		if o.Success {
			n++
		}
	}
	return n
}
