// Package app wires the ezwa host runtime: config, logging, the client
// orchestrator, the message archive, HTTP routes and the event-stream gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zevanoo/baileys-ez/bridge"
	"github.com/zevanoo/baileys-ez/client"
	"github.com/zevanoo/baileys-ez/cmd/internal/archive"
	"github.com/zevanoo/baileys-ez/cmd/internal/gateway"
	"github.com/zevanoo/baileys-ez/metrics"
	"github.com/zevanoo/baileys-ez/orchestrator"
	"github.com/zevanoo/baileys-ez/serialize"
)

// App is the ezwa host: it owns the orchestrator, the archive and the HTTP
// server wiring.
type App struct {
	cfg Config
	log Logger

	metrics  *metrics.Metrics
	orch     *orchestrator.Orchestrator
	storage  *storage
	recorder *archive.Recorder
	ws       *gateway.Gateway

	// Ids excluded from ConnectOnStart by the manifest.
	manual map[string]bool
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	orch, m := NewOrchestrator(cfg, log)
	if err := ensureDir(cfg.SessionDir); err != nil {
		return nil, err
	}

	if cfg.CleanOnStart {
		if n := orch.CleanupCorrupt(ctx); n > 0 {
			m.SessionsCleaned(n)
			log.Info("session.cleanup", "removed", n)
		}
	}

	manual, err := registerClients(ctx, orch, cfg, log)
	if err != nil {
		return nil, err
	}

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: m,
		orch:    orch,
		storage: st,
		manual:  manual,
	}
	if st.store != nil {
		a.recorder = archive.NewRecorder(st.store, orch.Events(), log, m)
	}
	a.ws = gateway.New(log, gateway.OrchestratorBackend{Orchestrator: orch}, st.store, m, cfg.Gateway)
	return a, nil
}

// NewOrchestrator builds the orchestrator and its metrics from cfg. It does
// not touch the filesystem.
func NewOrchestrator(cfg Config, log Logger) (*orchestrator.Orchestrator, *metrics.Metrics) {
	m := metrics.New()

	header := make(http.Header)
	if tok := strings.TrimSpace(cfg.BridgeToken); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}
	opener := &bridge.Dialer{
		URL:    cfg.BridgeURL,
		Header: header,
		Logger: log,
	}

	orch := orchestrator.New(orchestrator.Config{
		Folder:      cfg.SessionDir,
		PairingCode: cfg.PairingCode,
		SerializeOptions: serialize.Options{
			Prefixes:      cfg.Prefixes,
			MaxQuoteDepth: cfg.MaxQuoteDepth,
		},
		Opener: opener,
		Reconnect: client.ReconnectPolicy{
			Enabled:     cfg.Reconnect,
			Delay:       cfg.ReconnectDelay,
			MaxAttempts: cfg.ReconnectAttempts,
		},
		KeyPairCheck: cfg.KeyPairCheck,
		Logger:       log,
		Metrics:      m,
	})
	return orch, m
}

// registerClients adds the manifest clients, or one client per valid session
// directory when no manifest is configured. It returns the ids that must not
// be connected on start.
func registerClients(ctx context.Context, orch *orchestrator.Orchestrator, cfg Config, log Logger) (map[string]bool, error) {
	manual := make(map[string]bool)

	if strings.TrimSpace(cfg.ClientsFile) != "" {
		mf, err := LoadManifest(cfg.ClientsFile)
		if err != nil {
			return nil, err
		}
		for _, c := range mf.Clients {
			if _, err := orch.AddClient(mf.Options(c)); err != nil {
				return nil, fmt.Errorf("add client %q: %w", c.ID, err)
			}
			if !c.AutoConnect() {
				manual[c.ID] = true
			}
		}
		log.Info("clients.loaded", "source", "manifest", "path", cfg.ClientsFile, "clients", len(mf.Clients))
		return manual, nil
	}

	ids, err := orch.ListValid(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover sessions: %w", err)
	}
	for _, id := range ids {
		if _, err := orch.AddClient(client.Options{ID: id}); err != nil {
			return nil, fmt.Errorf("add client %q: %w", id, err)
		}
	}
	log.Info("clients.loaded", "source", "sessions", "path", orch.Base(), "clients", len(ids))
	return manual, nil
}

// Orchestrator returns the wired orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Handler returns the complete HTTP handler of the app.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.orch, a.storage.store, a.metrics.Handler(), a.ws)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log)
}

// Run starts background workers and the HTTP server, and blocks until ctx is
// cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	workCtx, stopWork := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopWork()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.ws.Run(workCtx)
	}()

	if a.recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.recorder.Run(workCtx)
		}()
	}

	if a.cfg.WatchSessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watchSessions(workCtx, a.orch, a.cfg.WatchDebounce, a.log); err != nil {
				a.log.Warn("session.watch.fail", "err", err)
			}
		}()
	}

	if a.cfg.ConnectOnStart {
		if strings.TrimSpace(a.cfg.BridgeURL) == "" {
			a.log.Warn("clients.connect.skip", "reason", "bridge url not configured")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.connectAll(workCtx)
			}()
		}
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"ws", streamURL(base),
		"archive", a.storage.kind,
		"clients", len(a.orch.Clients()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	stopWork()
	wg.Wait()

	for _, r := range a.orch.DisconnectAll(shutdownCtx) {
		if r.Err != nil {
			a.log.Warn("client.disconnect.fail", "client_id", r.ID, "err", r.Err)
		}
	}

	if err := a.storage.Close(); err != nil {
		a.log.Error("archive.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

func (a *App) connectAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, h := range a.orch.Clients() {
		if a.manual[h.ID()] {
			continue
		}
		wg.Add(1)
		go func(h *client.Handle) {
			defer wg.Done()
			err := h.Connect(ctx)
			switch {
			case err == nil:
				a.log.Info("client.connect.ok", "client_id", h.ID())
			case ctx.Err() != nil:
			default:
				a.log.Warn("client.connect.fail", "client_id", h.ID(), "err", err)
			}
		}(h)
	}
	wg.Wait()
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session dir: %w", err)
	}
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local browser can open.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// streamURL is the event stream endpoint under base.
func streamURL(base string) string {
	return wsBaseURL(base) + "/ws"
}

func wsBaseURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return "ws://" + httpURL
	}
}
