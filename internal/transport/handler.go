package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"dm-outreach-engine/internal/observability"
	"dm-outreach-engine/internal/protocol"
)

const maxRequest = 64 << 10

// Handler serves the page-automation side of the protocol for a remote
// orchestrator.
func Handler(agent Agent) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/v1/messages", func(w http.ResponseWriter, req *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(req.Body, maxRequest))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := req.Context()
		switch msg.Type {
		case protocol.Ping:
			if err := agent.Ping(ctx, msg.TabID); err != nil {
				log.Debug().Err(err).Str("tab", msg.TabID).Msg("ping: not ready")
				writeJSON(w, http.StatusServiceUnavailable, protocol.PingReply{Ready: false})
				return
			}
			writeJSON(w, http.StatusOK, protocol.PingReply{Ready: true})
		case protocol.ExecuteDM:
			res, err := agent.ExecuteDM(ctx, msg.TabID, msg.Text)
			if err != nil {
				res = protocol.Failed(err.Error())
			}
			log.Info().Str("tab", msg.TabID).Bool("success", res.Success).Str("error", res.Error).Msg("execute dm")
			writeJSON(w, http.StatusOK, res)
		default:
			http.Error(w, "unsupported message type "+string(msg.Type), http.StatusBadRequest)
		}
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
