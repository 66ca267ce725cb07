package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/zevanoo/baileys-ez/cmd/internal/archive"
	"github.com/zevanoo/baileys-ez/orchestrator"
	"github.com/zevanoo/baileys-ez/session"
)

// clientView is one entry of GET /clients.
type clientView struct {
	ID          string         `json:"id"`
	State       string         `json:"state"`
	SessionPath string         `json:"session_path"`
	Phone       string         `json:"phone,omitempty"`
	Session     session.Status `json:"session"`
}

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	orch *orchestrator.Orchestrator,
	store archive.Store,
	metricsHandler http.Handler,
	ws http.Handler,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireArchive && store == nil {
			http.Error(w, "archive not configured", http.StatusServiceUnavailable)
			return
		}

		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := store.Ping(ctx)
			cancel()
			if err != nil {
				http.Error(w, "archive not ready", http.StatusServiceUnavailable)
				log.Info("readyz.archive.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		infos := orch.ListAllSessionsWithClients(r.Context(), cfg.ExtraSessionDirs...)
		if infos == nil {
			infos = []session.Info{}
		}
		writeJSON(w, log, http.StatusOK, infos)
	})

	mux.HandleFunc("GET /clients", func(w http.ResponseWriter, r *http.Request) {
		handles := orch.Clients()
		out := make([]clientView, 0, len(handles))
		for _, h := range handles {
			out = append(out, clientView{
				ID:          h.ID(),
				State:       h.State().String(),
				SessionPath: h.SessionPath(),
				Phone:       h.PhoneNumber(),
				Session:     orch.CheckStatus(r.Context(), h.SessionPath()),
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		writeJSON(w, log, http.StatusOK, out)
	})

	if ws != nil {
		mux.Handle("/ws", ws)
	}
}

func writeJSON(w http.ResponseWriter, log Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("http.json.encode.fail", "err", err)
	}
}
