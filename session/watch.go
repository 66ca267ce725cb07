package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind classifies a debounced filesystem change.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// Change reports activity inside one session directory.
type Change struct {
	ID   string
	Path string
	Kind ChangeKind
}

const defaultWatchDebounce = 250 * time.Millisecond

// Watch reports debounced changes of the session directories under base.
// The base directory must exist. The returned channel is closed when ctx is
// done or the underlying watcher fails.
func (s *Store) Watch(ctx context.Context, debounce time.Duration) (<-chan Change, error) {
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(s.base); err != nil {
		_ = w.Close()
		return nil, err
	}

	dirs, _ := listSubdirs(s.base)
	for _, d := range dirs {
		// Directories may vanish between listing and watching.
		_ = w.Add(d)
	}

	out := make(chan Change, 32)

	go func() {
		var (
			mu      sync.Mutex
			closed  bool
			timers  = make(map[string]*time.Timer)
			pending = make(map[string]ChangeKind)
		)

		defer func() {
			mu.Lock()
			closed = true
			for _, t := range timers {
				t.Stop()
			}
			mu.Unlock()
			_ = w.Close()
			close(out)
		}()

		schedule := func(id string, kind ChangeKind) {
			mu.Lock()
			defer mu.Unlock()

			// Creation and removal win over plain updates within one window.
			if prev, ok := pending[id]; !ok || prev == ChangeUpdated {
				pending[id] = kind
			}
			if t, ok := timers[id]; ok {
				t.Stop()
			}
			timers[id] = time.AfterFunc(debounce, func() {
				mu.Lock()
				defer mu.Unlock()
				if closed {
					return
				}
				k := pending[id]
				delete(pending, id)
				delete(timers, id)

				select {
				case out <- Change{ID: id, Path: s.Path(id), Kind: k}:
				default:
				}
			})
		}

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				id, top := s.sessionIDFor(ev.Name)
				if id == "" {
					continue
				}

				switch {
				case top && ev.Op&fsnotify.Create != 0:
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = w.Add(ev.Name)
						schedule(id, ChangeCreated)
					}
				case top && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					schedule(id, ChangeRemoved)
				case !top:
					schedule(id, ChangeUpdated)
				}

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("session.watch.error", "path", s.base, "err", err)
			}
		}
	}()

	return out, nil
}

// sessionIDFor maps a watched path to its session id. top reports whether the
// path is the session directory itself rather than a file inside it.
func (s *Store) sessionIDFor(path string) (id string, top bool) {
	rel, err := filepath.Rel(s.base, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	return parts[0], len(parts) == 1
}
