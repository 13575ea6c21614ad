package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"dm-outreach-engine/internal/cache"
	"dm-outreach-engine/internal/campaign"
	"dm-outreach-engine/internal/protocol"
	"dm-outreach-engine/internal/spintax"
	"dm-outreach-engine/internal/storage"
	"dm-outreach-engine/internal/target"
)

const maxBody = 256 << 10

// Campaign is the run control surface the UI drives.
type Campaign interface {
	Start(ctx context.Context, cfg campaign.Config) error
	Stop(ctx context.Context)
	Status() campaign.Snapshot
}

// Events is the subscription side of the event bus.
type Events interface {
	Subscribe() (<-chan protocol.Message, []protocol.Message, func())
	Clear()
}

type Handler struct {
	Runner     Campaign
	Events     Events
	KV         storage.KV
	Extractor  *target.Extractor
	MaxTargets int

	form cache.Snapshot[storage.Form]
}

func NewHandler(runner Campaign, events Events, kv storage.KV, ex *target.Extractor, maxTargets int) *Handler {
	if maxTargets <= 0 {
		maxTargets = campaign.DefaultMaxTargets
	}
	if ex == nil {
		ex = target.NewExtractor(target.DefaultHost)
	}
	return &Handler{Runner: runner, Events: events, KV: kv, Extractor: ex, MaxTargets: maxTargets}
}

// RefreshForm reloads the saved form into the read cache.
func (h *Handler) RefreshForm(ctx context.Context) error {
	f, err := storage.LoadForm(ctx, h.KV)
	if err != nil {
		return fmt.Errorf("load form: %w", err)
	}
	h.form.Store(f)
	return nil
}

func (h *Handler) Form() storage.Form { return h.form.Load() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// Messages accepts START_TASK and STOP_TASK.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{"read body"})
		return
	}
	msg, err := protocol.Decode(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{err.Error()})
		return
	}

	ctx := r.Context()
	switch msg.Type {
	case protocol.StartTask:
		cfg := campaign.FromTask(h.taskConfig(msg.Config))
		if err := h.start(ctx, cfg); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, campaign.ErrInvalidConfig) {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, errorBody{err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, h.Runner.Status())
	case protocol.StopTask:
		h.Runner.Stop(ctx)
		writeJSON(w, http.StatusOK, h.Runner.Status())
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{"unsupported message type " + string(msg.Type)})
	}
}

// start refuses references off the accepted host before the runner sees them.
func (h *Handler) start(ctx context.Context, cfg campaign.Config) error {
	if err := cfg.CheckTargets(h.Extractor); err != nil {
		return err
	}
	return h.Runner.Start(ctx, cfg)
}

// taskConfig uses an explicit payload as given; without one it builds the
// payload from the saved form, parsed the way the UI form parses it.
func (h *Handler) taskConfig(explicit *protocol.TaskConfig) protocol.TaskConfig {
	if explicit != nil {
		return *explicit
	}
	f := h.form.Load()
	min, max := f.DelaysMs()
	return protocol.TaskConfig{
		Links:    h.Extractor.Parse(f.ProfileLinks, h.MaxTargets),
		Message:  strings.TrimSpace(f.MessageTemplate),
		DelayMin: min,
		DelayMax: max,
	}
}

func (h *Handler) GetForm(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.form.Load())
}

func (h *Handler) PutForm(w http.ResponseWriter, r *http.Request) {
	var f storage.Form
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&f); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{"decode form: " + err.Error()})
		return
	}
	if err := storage.SaveForm(r.Context(), h.KV, f); err != nil {
		log.Error().Err(err).Msg("save form")
		writeJSON(w, http.StatusInternalServerError, errorBody{"save form"})
		return
	}
	h.form.Store(f)
	writeJSON(w, http.StatusOK, f)
}

type campaignStatus struct {
	campaign.Snapshot
	Links    string `json:"links"`
	Variants int    `json:"variants"`
}

func (h *Handler) Campaign(w http.ResponseWriter, _ *http.Request) {
	f := h.form.Load()
	n := h.Extractor.Count(f.ProfileLinks)
	if n > h.MaxTargets {
		n = h.MaxTargets
	}
	writeJSON(w, http.StatusOK, campaignStatus{
		Snapshot: h.Runner.Status(),
		Links:    fmt.Sprintf("%d/%d", n, h.MaxTargets),
		Variants: spintax.Variants(f.MessageTemplate),
	})
}

// Stream sends the event history, then live events, as server-sent events
// until the client goes away.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{"streaming unsupported"})
		return
	}
	ch, history, cancel := h.Events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, m := range history {
		if err := writeEvent(w, m); err != nil {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, m); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ClearEvents drops the retained log history.
func (h *Handler) ClearEvents(w http.ResponseWriter, _ *http.Request) {
	h.Events.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func writeEvent(w io.Writer, m protocol.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.Type, b)
	return err
}
