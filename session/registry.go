package session

import (
	"context"
	"path/filepath"
)

// Sources reported in Info.Source.
const (
	SourceBase   = "base"
	SourceExtra  = "extra"
	SourceClient = "client"
)

// Info is one discovered session directory.
type Info struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	Source string `json:"source"`
}

// Registry extends a Store from its single base directory to any number of
// extra directories. Ids are only unique within one directory, so the same id
// found under two roots is reported twice.
type Registry struct {
	*Store
}

// NewRegistry wraps store.
func NewRegistry(store *Store) *Registry {
	return &Registry{Store: store}
}

// GetInfo returns the status of the named session under the base path.
func (r *Registry) GetInfo(ctx context.Context, id string) Status {
	if !ValidID(id) {
		return Status{Reason: ReasonMissingCreds}
	}
	return r.CheckStatus(ctx, r.Path(id))
}

// ListAll scans the base path plus every extra directory.
func (r *Registry) ListAll(ctx context.Context, extraDirs ...string) []Info {
	var out []Info
	r.walk(ctx, extraDirs, func(dir, source string) {
		st := r.CheckStatus(ctx, dir)
		out = append(out, Info{
			ID:     filepath.Base(dir),
			Path:   dir,
			Valid:  st.Valid,
			Reason: st.Reason,
			Source: source,
		})
	})
	return out
}

// CleanAll removes every invalid session found under the base path and the
// extra directories. It returns the number of directories removed.
func (r *Registry) CleanAll(ctx context.Context, extraDirs ...string) int {
	removed := 0
	r.walk(ctx, extraDirs, func(dir, _ string) {
		if _, ok := r.ValidateAndClean(ctx, dir); ok {
			removed++
		}
	})
	return removed
}

func (r *Registry) walk(ctx context.Context, extraDirs []string, fn func(dir, source string)) {
	roots := []struct{ path, source string }{{r.Base(), SourceBase}}
	for _, d := range extraDirs {
		if d == "" {
			continue
		}
		if abs, err := filepath.Abs(d); err == nil {
			d = abs
		}
		roots = append(roots, struct{ path, source string }{filepath.Clean(d), SourceExtra})
	}

	for _, root := range roots {
		dirs, err := listSubdirs(root.path)
		if err != nil {
			r.log.Warn("session.scan.fail", "path", root.path, "err", err)
			continue
		}
		for _, d := range dirs {
			if ctx.Err() != nil {
				return
			}
			fn(d, root.source)
		}
	}
}
