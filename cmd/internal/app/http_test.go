package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zevanoo/baileys-ez/cmd/internal/archive"
	"github.com/zevanoo/baileys-ez/session"
)

const validCreds = `{"registered":true,"noiseKey":{"a":1},"signedIdentityKey":{"a":1},"signedPreKey":{"a":1},"registrationId":7,"advSecretKey":"x"}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeCreds(t *testing.T, dir, body string) {
	t.Helper()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "creds.json"), []byte(body), 0o600); err != nil {
		t.Fatalf("write creds: %v", err)
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := LoadConfig()
	cfg.SessionDir = t.TempDir()
	cfg.ExtraSessionDirs = nil
	cfg.ClientsFile = ""
	cfg.BridgeURL = ""
	cfg.Archive = ArchiveMemory
	cfg.ConnectOnStart = false
	cfg.WatchSessions = false
	cfg.ReadinessRequireArchive = false
	return cfg
}

func newTestApp(t *testing.T, cfg Config) (*App, http.Handler) {
	t.Helper()

	a, err := New(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.storage.Close() })
	return a, a.Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestApp_DiscoversValidSessionsAndCleansCorrupt(t *testing.T) {
	cfg := testConfig(t)
	writeCreds(t, filepath.Join(cfg.SessionDir, "acct1"), validCreds)
	writeCreds(t, filepath.Join(cfg.SessionDir, "broken"), "{not json")

	a, h := newTestApp(t, cfg)

	if _, err := os.Stat(filepath.Join(cfg.SessionDir, "broken")); !os.IsNotExist(err) {
		t.Fatalf("corrupt session should be removed on start, stat err=%v", err)
	}
	if got := len(a.Orchestrator().Clients()); got != 1 {
		t.Fatalf("clients=%d want=1", got)
	}

	rr := get(t, h, "/clients")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /clients status=%d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Fatalf("content-type=%q", got)
	}

	var clients []clientView
	if err := json.Unmarshal(rr.Body.Bytes(), &clients); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(clients) != 1 || clients[0].ID != "acct1" || clients[0].State != "idle" || !clients[0].Session.Valid {
		t.Fatalf("unexpected clients: %+v", clients)
	}
	if clients[0].SessionPath != filepath.Join(cfg.SessionDir, "acct1") {
		t.Fatalf("session_path=%q", clients[0].SessionPath)
	}
}

func TestApp_SessionsIncludesExtraDirs(t *testing.T) {
	cfg := testConfig(t)
	extra := t.TempDir()
	cfg.ExtraSessionDirs = []string{extra}
	writeCreds(t, filepath.Join(cfg.SessionDir, "acct1"), validCreds)
	writeCreds(t, filepath.Join(extra, "other"), `{"registered":false}`)

	_, h := newTestApp(t, cfg)

	rr := get(t, h, "/sessions")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /sessions status=%d", rr.Code)
	}

	var infos []session.Info
	if err := json.Unmarshal(rr.Body.Bytes(), &infos); err != nil {
		t.Fatalf("decode: %v", err)
	}

	byID := make(map[string]session.Info, len(infos))
	for _, in := range infos {
		byID[in.ID] = in
	}
	if in, ok := byID["acct1"]; !ok || !in.Valid {
		t.Fatalf("acct1 missing or invalid: %+v", infos)
	}
	if in, ok := byID["other"]; !ok || in.Valid || in.Source != session.SourceExtra {
		t.Fatalf("extra session not reported as invalid extra: %+v", infos)
	}
}

func TestApp_HealthAndReady(t *testing.T) {
	cfg := testConfig(t)
	_, h := newTestApp(t, cfg)

	if rr := get(t, h, "/healthz"); rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("healthz=%d %q", rr.Code, rr.Body.String())
	}
	if rr := get(t, h, "/readyz"); rr.Code != http.StatusOK || rr.Body.String() != "ready\n" {
		t.Fatalf("readyz=%d %q", rr.Code, rr.Body.String())
	}
	if rr := get(t, h, "/metrics"); rr.Code != http.StatusOK {
		t.Fatalf("metrics=%d", rr.Code)
	}
	if rr := get(t, h, "/healthz"); rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}
}

func TestApp_ReadyRequiresArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive = ArchiveOff
	cfg.ReadinessRequireArchive = true
	_, h := newTestApp(t, cfg)

	if rr := get(t, h, "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz=%d want=503", rr.Code)
	}
}

type failingStore struct {
	archive.Store
}

func (failingStore) Ping(context.Context) error { return errors.New("down") }

func TestReadyz_ArchiveUnreachable(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	orch, m := NewOrchestrator(cfg, discardLogger())

	mux := http.NewServeMux()
	registerHTTP(mux, discardLogger(), cfg, orch, failingStore{}, m.Handler(), nil)

	if rr := get(t, mux, "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz=%d want=503", rr.Code)
	}
}

func TestApp_ManifestClients(t *testing.T) {
	cfg := testConfig(t)
	manifest := filepath.Join(t.TempDir(), "clients.yaml")
	body := "clients:\n  - id: acct1\n    phone: \"6281234567890\"\n  - id: acct2\n    connect: false\n"
	if err := os.WriteFile(manifest, []byte(body), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	cfg.ClientsFile = manifest

	a, h := newTestApp(t, cfg)

	if !a.manual["acct2"] || a.manual["acct1"] {
		t.Fatalf("manual=%v", a.manual)
	}

	var clients []clientView
	if err := json.Unmarshal(get(t, h, "/clients").Body.Bytes(), &clients); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(clients) != 2 || clients[0].ID != "acct1" || clients[0].Phone != "6281234567890" || clients[1].ID != "acct2" {
		t.Fatalf("unexpected clients: %+v", clients)
	}
	if clients[1].Session.Valid {
		t.Fatalf("acct2 has no session yet: %+v", clients[1])
	}
}
