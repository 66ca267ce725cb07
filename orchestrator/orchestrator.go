// Package orchestrator manages many client handles at once: registration,
// bulk connect and disconnect, one aggregate event bus, and session views
// that merge the filesystem with live clients.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/zevanoo/baileys-ez/client"
	"github.com/zevanoo/baileys-ez/events"
	"github.com/zevanoo/baileys-ez/serialize"
	"github.com/zevanoo/baileys-ez/session"
)

// ErrDuplicateClient is returned by AddClient for an id already registered.
var ErrDuplicateClient = errors.New("client already registered")

// Metrics receives orchestrator and handle counters.
type Metrics interface {
	client.Observer
	ClientRegistered(clientID string, added bool)
	SessionsCleaned(n int)
}

// Config holds the defaults applied to every client added to an Orchestrator.
type Config struct {
	// Folder is the base session directory. Empty selects session.DefaultFolder.
	Folder           string
	PairingCode      string
	Serializer       serialize.Func
	SocketConfig     map[string]any
	SerializeOptions serialize.Options
	Opener           client.Opener
	Reconnect        client.ReconnectPolicy
	KeyPairCheck     bool

	Logger  *slog.Logger
	Metrics Metrics
}

// Result is the outcome of a bulk operation for one client.
type Result struct {
	ID  string
	Err error
}

const lockStripes = 64

type entry struct {
	h   *client.Handle
	off func()

	// mu serializes connect, clean and remove of this client.
	mu sync.Mutex
}

// Orchestrator is a registry of client handles. It embeds the session
// registry of its base folder, so filesystem-level session operations are
// available directly.
type Orchestrator struct {
	*session.Registry

	cfg Config
	log *slog.Logger
	bus *events.Bus

	mu      sync.RWMutex
	clients map[string]*entry

	// Cleaning of directories that no registered client owns serializes on
	// a stripe of the path.
	stripes [lockStripes]sync.Mutex
}

// New constructs an empty Orchestrator.
func New(cfg Config) *Orchestrator {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg.Logger = log
	if cfg.Folder == "" {
		cfg.Folder = session.DefaultFolder
	}

	storeOpts := []session.Option{session.WithLogger(log)}
	if cfg.KeyPairCheck {
		storeOpts = append(storeOpts, session.WithKeyPairCheck())
	}

	return &Orchestrator{
		Registry: session.NewRegistry(session.NewStore(cfg.Folder, storeOpts...)),
		cfg:      cfg,
		log:      log,
		bus:      events.NewBus(log),
		clients:  make(map[string]*entry),
	}
}

// Events returns the aggregate bus. Every event of every registered client is
// republished here with its original id, client id and timestamp.
func (o *Orchestrator) Events() *events.Bus { return o.bus }

func (o *Orchestrator) stripe(path string) *sync.Mutex {
	return &o.stripes[xxhash.Sum64String(path)%lockStripes]
}

func (o *Orchestrator) lookup(id string) (*entry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.clients[id]
	return e, ok
}

// AddClient constructs a handle from opts, filling unset fields from the
// orchestrator defaults, and registers it.
func (o *Orchestrator) AddClient(opts client.Options) (*client.Handle, error) {
	if opts.SessionDir == "" {
		opts.SessionDir = o.Base()
	}
	if opts.PairingCode == "" {
		opts.PairingCode = o.cfg.PairingCode
	}
	if opts.DefaultSerializer == nil {
		opts.DefaultSerializer = o.cfg.Serializer
	}
	if opts.DefaultSocketConfig == nil {
		opts.DefaultSocketConfig = o.cfg.SocketConfig
	}
	if len(opts.SerializeOptions.Prefixes) == 0 && opts.SerializeOptions.MaxQuoteDepth == 0 {
		opts.SerializeOptions = o.cfg.SerializeOptions
	}
	if opts.Opener == nil {
		opts.Opener = o.cfg.Opener
	}
	if opts.Reconnect == (client.ReconnectPolicy{}) {
		opts.Reconnect = o.cfg.Reconnect
	}
	if opts.Logger == nil {
		opts.Logger = o.log
	}
	if opts.Observer == nil && o.cfg.Metrics != nil {
		opts.Observer = o.cfg.Metrics
	}
	opts.KeyPairCheck = opts.KeyPairCheck || o.cfg.KeyPairCheck

	h, err := client.New(opts)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if _, ok := o.clients[h.ID()]; ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClient, h.ID())
	}
	off := h.Events().OnAny(o.bus.Publish)
	o.clients[h.ID()] = &entry{h: h, off: off}
	o.mu.Unlock()

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.ClientRegistered(h.ID(), true)
	}
	o.log.Info("orchestrator.client.added", "client_id", h.ID(), "path", h.SessionPath())
	o.bus.Emit(h.ID(), events.ClientAdded, h.SessionPath())
	return h, nil
}

// RemoveClient disconnects and unregisters id. It reports false for an
// unknown id.
func (o *Orchestrator) RemoveClient(ctx context.Context, id string) bool {
	o.mu.Lock()
	e, ok := o.clients[id]
	if ok {
		delete(o.clients, id)
	}
	o.mu.Unlock()
	if !ok {
		return false
	}

	e.off()
	if err := e.h.Disconnect(ctx); err != nil {
		o.log.Warn("orchestrator.client.disconnect.fail", "client_id", id, "err", err)
	}

	// Wait out a ConnectAll call that was in flight, then make sure it is closed.
	e.mu.Lock()
	if err := e.h.Disconnect(ctx); err != nil {
		o.log.Warn("orchestrator.client.disconnect.fail", "client_id", id, "err", err)
	}
	e.mu.Unlock()

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.ClientRegistered(id, false)
	}
	o.log.Info("orchestrator.client.removed", "client_id", id)
	o.bus.Emit(id, events.ClientRemoved, e.h.SessionPath())
	return true
}

// Client returns the handle registered under id.
func (o *Orchestrator) Client(id string) (*client.Handle, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.clients[id]
	if !ok {
		return nil, false
	}
	return e.h, true
}

// Clients returns every registered handle sorted by id.
func (o *Orchestrator) Clients() []*client.Handle {
	o.mu.RLock()
	out := make([]*client.Handle, 0, len(o.clients))
	for _, e := range o.clients {
		out = append(out, e.h)
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ConnectAll connects every registered client concurrently and waits for all
// of them. A failing or hanging client never delays the others. Results are
// sorted by id.
func (o *Orchestrator) ConnectAll(ctx context.Context) []Result {
	return o.each(func(h *client.Handle) error {
		e, ok := o.lookup(h.ID())
		if !ok {
			return h.Connect(ctx)
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		return h.Connect(ctx)
	})
}

// DisconnectAll disconnects every registered client concurrently.
func (o *Orchestrator) DisconnectAll(ctx context.Context) []Result {
	return o.each(func(h *client.Handle) error {
		return h.Disconnect(ctx)
	})
}

func (o *Orchestrator) each(fn func(*client.Handle) error) []Result {
	hs := o.Clients()
	out := make([]Result, len(hs))

	var wg sync.WaitGroup
	for i, h := range hs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = Result{ID: h.ID(), Err: fn(h)}
		}()
	}
	wg.Wait()
	return out
}

// ClientSessionPaths maps every registered client id to its session directory.
func (o *Orchestrator) ClientSessionPaths() map[string]string {
	hs := o.Clients()
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		out[h.ID()] = h.SessionPath()
	}
	return out
}

// CheckAllClientSessions reports the stored session status of every client.
func (o *Orchestrator) CheckAllClientSessions(ctx context.Context) map[string]session.Status {
	hs := o.Clients()
	out := make(map[string]session.Status, len(hs))
	for _, h := range hs {
		out[h.ID()] = o.CheckStatus(ctx, h.SessionPath())
	}
	return out
}

// CleanClientSessions removes invalid session directories of clients that are
// not connected. It returns the number removed.
func (o *Orchestrator) CleanClientSessions(ctx context.Context) int {
	removed := 0
	for _, h := range o.Clients() {
		if ctx.Err() != nil {
			break
		}
		if o.cleanClient(ctx, h) {
			removed++
		}
	}
	o.countCleaned(removed)
	return removed
}

// cleanClient skips a client whose lock is held: it is connecting or being
// removed, so its directory is in use.
func (o *Orchestrator) cleanClient(ctx context.Context, h *client.Handle) bool {
	if e, ok := o.lookup(h.ID()); ok {
		if !e.mu.TryLock() {
			return false
		}
		defer e.mu.Unlock()
	}

	if h.State() != client.Idle {
		return false
	}
	_, ok := o.ValidateAndClean(ctx, h.SessionPath())
	return ok
}

// ListAllSessionsWithClients merges a scan of the base folder and extraDirs
// with the registered clients. A connected client is reported valid even if
// its directory momentarily fails the check; an idle client without a
// directory is omitted. Entries are unique by path.
func (o *Orchestrator) ListAllSessionsWithClients(ctx context.Context, extraDirs ...string) []session.Info {
	connected := o.connectedPaths()

	infos := o.ListAll(ctx, extraDirs...)
	seen := make(map[string]int, len(infos))
	out := make([]session.Info, 0, len(infos))
	for _, in := range infos {
		if _, dup := seen[in.Path]; dup {
			continue
		}
		if connected[in.Path] {
			in.Valid, in.Reason = true, ""
		}
		seen[in.Path] = len(out)
		out = append(out, in)
	}

	for _, h := range o.Clients() {
		path := h.SessionPath()
		if i, ok := seen[path]; ok {
			out[i].Source = session.SourceClient
			continue
		}
		if !connected[path] {
			if _, err := os.Stat(path); err != nil {
				continue
			}
		}
		st := o.CheckStatus(ctx, path)
		in := session.Info{ID: h.ID(), Path: path, Valid: st.Valid, Reason: st.Reason, Source: session.SourceClient}
		if connected[path] {
			in.Valid, in.Reason = true, ""
		}
		seen[path] = len(out)
		out = append(out, in)
	}
	return out
}

// CleanAllSessionsWithClients removes every invalid session directory found
// under the base folder, extraDirs and the registered clients' paths, except
// those in use by a live client. It returns the number removed.
func (o *Orchestrator) CleanAllSessionsWithClients(ctx context.Context, extraDirs ...string) int {
	busy := o.busyPaths()
	byPath := make(map[string]*client.Handle)
	for _, h := range o.Clients() {
		byPath[h.SessionPath()] = h
	}

	removed := 0
	done := make(map[string]bool)
	for _, in := range o.ListAll(ctx, extraDirs...) {
		if ctx.Err() != nil {
			break
		}
		done[in.Path] = true
		if in.Valid || busy[in.Path] {
			continue
		}
		if h, ok := byPath[in.Path]; ok {
			if o.cleanClient(ctx, h) {
				removed++
			}
			continue
		}
		if o.cleanPath(ctx, in.Path) {
			removed++
		}
	}

	for path, h := range byPath {
		if done[path] || ctx.Err() != nil {
			continue
		}
		if o.cleanClient(ctx, h) {
			removed++
		}
	}

	o.countCleaned(removed)
	return removed
}

func (o *Orchestrator) cleanPath(ctx context.Context, path string) bool {
	mu := o.stripe(path)
	mu.Lock()
	defer mu.Unlock()
	_, ok := o.ValidateAndClean(ctx, path)
	return ok
}

func (o *Orchestrator) connectedPaths() map[string]bool {
	out := make(map[string]bool)
	for _, h := range o.Clients() {
		if h.State() == client.Connected {
			out[h.SessionPath()] = true
		}
	}
	return out
}

func (o *Orchestrator) busyPaths() map[string]bool {
	out := make(map[string]bool)
	for _, h := range o.Clients() {
		if h.State() != client.Idle {
			out[h.SessionPath()] = true
		}
	}
	return out
}

func (o *Orchestrator) countCleaned(n int) {
	if n > 0 {
		o.log.Info("orchestrator.sessions.cleaned", "removed", n)
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SessionsCleaned(n)
	}
}
