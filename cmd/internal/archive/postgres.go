package archive

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//   - Close() is therefore a no-op.
//
// Concurrency model:
//   - Appends take a transactional advisory lock per (client, chat), so
//     duplicates never consume a seq and ordering is strict under concurrency.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "ezwa").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("archive: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("archive: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "ezwa"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("archive: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the schema and tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	cursors := pgIdent(s.schema, "chat_cursors")
	messages := pgIdent(s.schema, "messages")

	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  client_id  TEXT        NOT NULL,
  chat       TEXT        NOT NULL,
  next_seq   BIGINT      NOT NULL DEFAULT 1,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (client_id, chat)
);

CREATE TABLE IF NOT EXISTS %s (
  client_id   TEXT        NOT NULL,
  chat        TEXT        NOT NULL,
  seq         BIGINT      NOT NULL,
  message_id  TEXT        NOT NULL,
  sender      TEXT        NOT NULL,
  push_name   TEXT        NOT NULL DEFAULT '',
  type        TEXT        NOT NULL,
  body        TEXT        NOT NULL,
  from_me     BOOLEAN     NOT NULL DEFAULT false,
  sent_at     TIMESTAMPTZ NOT NULL,
  archived_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (client_id, chat, seq),
  CONSTRAINT uq_messages_chat_message UNIQUE (client_id, chat, message_id)
);
`, pgx.Identifier{s.schema}.Sanitize(), cursors, messages)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("archive: ensure schema: %w", err)
	}
	return nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Ping checks that a connection can be acquired.
func (s *PostgresStore) Ping(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// Append archives a message with idempotency and monotonic seq allocation.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if s == nil || s.pool == nil {
		return AppendResult{}, errors.New("archive: nil store")
	}
	if err := in.validate(); err != nil {
		return AppendResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}
	now := in.now()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cursors := pgIdent(s.schema, "chat_cursors")
	messages := pgIdent(s.schema, "messages")

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ClientID+"/"+in.Chat); err != nil {
		return AppendResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	existing, err := readByMessageID(ctx, tx, messages, in.ClientID, in.Chat, in.MessageID)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return AppendResult{}, err
		}
		return AppendResult{Stored: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (client_id, chat, next_seq)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (client_id, chat) DO NOTHING`,
		in.ClientID, in.Chat,
	); err != nil {
		return AppendResult{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE client_id = $1 AND chat = $2
		RETURNING (next_seq - 1)`,
		in.ClientID, in.Chat,
	).Scan(&seq); err != nil {
		return AppendResult{}, err
	}

	rec := in.record(seq, now)
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     client_id, chat, seq, message_id, sender, push_name, type, body, from_me, sent_at, archived_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ClientID, rec.Chat, rec.Seq, rec.MessageID, rec.Sender, rec.PushName, rec.Type, rec.Body,
		rec.FromMe, rec.SentAt, rec.ArchivedAt,
	); err != nil {
		return AppendResult{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Stored: rec}, nil
}

// History returns records ordered by seq ASC, with optional paging by AfterSeq.
func (s *PostgresStore) History(ctx context.Context, in HistoryInput) (HistoryResult, error) {
	if s == nil || s.pool == nil {
		return HistoryResult{}, errors.New("archive: nil store")
	}
	if err := in.validate(); err != nil {
		return HistoryResult{}, err
	}
	limit := ClampLimit(in.Limit)
	fetch := limit + 1

	var after int64
	if in.AfterSeq != nil {
		after = *in.AfterSeq
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+pgColumns+`
		   FROM `+pgIdent(s.schema, "messages")+`
		  WHERE client_id = $1 AND chat = $2 AND seq > $3
		  ORDER BY seq ASC
		  LIMIT $4`,
		in.ClientID, in.Chat, after, fetch,
	)
	if err != nil {
		return HistoryResult{}, err
	}
	defer rows.Close()

	msgs := make([]Record, 0, fetch)
	for rows.Next() {
		rec, err := scanPGRecord(rows)
		if err != nil {
			return HistoryResult{}, err
		}
		msgs = append(msgs, rec)
	}
	if err := rows.Err(); err != nil {
		return HistoryResult{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return HistoryResult{Messages: msgs, HasMore: hasMore}, nil
}

const pgColumns = `client_id, chat, message_id, seq, sender, push_name, type, body, from_me, sent_at, archived_at`

func readByMessageID(ctx context.Context, tx pgx.Tx, messagesTable, clientID, chat, messageID string) (Record, error) {
	return scanPGRecord(tx.QueryRow(ctx,
		`SELECT `+pgColumns+`
		   FROM `+messagesTable+`
		  WHERE client_id = $1 AND chat = $2 AND message_id = $3`,
		clientID, chat, messageID,
	))
}

func scanPGRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(&r.ClientID, &r.Chat, &r.MessageID, &r.Seq, &r.Sender, &r.PushName, &r.Type, &r.Body,
		&r.FromMe, &r.SentAt, &r.ArchivedAt)
	if err != nil {
		return Record{}, err
	}
	r.SentAt = r.SentAt.UTC()
	r.ArchivedAt = r.ArchivedAt.UTC()
	return r, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
