package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zevanoo/baileys-ez/cmd/internal/archive"
)

// NewDBPool builds a pgxpool from cfg and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PingDB checks that a connection can be acquired within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// storage owns the archive and the resources behind it.
//
// Ownership model:
//   - storage owns the pool; PostgresStore.Close is a no-op.
//   - store is nil when the archive is off.
type storage struct {
	kind  string
	store archive.Store
	pool  *pgxpool.Pool
}

func (s *storage) Close() error {
	var err error
	if s.store != nil {
		err = s.store.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// openStorage selects the archive backend named by cfg.Archive.
func openStorage(ctx context.Context, cfg Config, log Logger) (*storage, error) {
	switch cfg.Archive {
	case ArchiveOff:
		log.Info("archive.disabled")
		return &storage{kind: ArchiveOff}, nil

	case ArchiveMemory, "":
		log.Info("archive.enabled", "backend", ArchiveMemory)
		return &storage{kind: ArchiveMemory, store: archive.NewMemoryStore()}, nil

	case ArchiveSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("archive: create dir: %w", err)
			}
		}
		st, err := archive.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("archive.enabled", "backend", ArchiveSQLite, "path", cfg.SQLitePath)
		return &storage{kind: ArchiveSQLite, store: st}, nil

	case ArchivePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("archive: connect postgres: %w", err)
		}
		st, err := archive.NewPostgresStore(pool, archive.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("archive.enabled", "backend", ArchivePostgres, "schema", cfg.DBSchema)
		return &storage{kind: ArchivePostgres, store: st, pool: pool}, nil

	default:
		return nil, fmt.Errorf("archive: unknown backend %q", cfg.Archive)
	}
}
