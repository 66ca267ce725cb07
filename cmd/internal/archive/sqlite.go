package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_cursors (
  client_id TEXT    NOT NULL,
  chat      TEXT    NOT NULL,
  next_seq  INTEGER NOT NULL DEFAULT 1,
  PRIMARY KEY (client_id, chat)
);

CREATE TABLE IF NOT EXISTS messages (
  client_id   TEXT    NOT NULL,
  chat        TEXT    NOT NULL,
  seq         INTEGER NOT NULL,
  message_id  TEXT    NOT NULL,
  sender      TEXT    NOT NULL,
  push_name   TEXT    NOT NULL DEFAULT '',
  type        TEXT    NOT NULL,
  body        TEXT    NOT NULL,
  from_me     INTEGER NOT NULL DEFAULT 0,
  sent_at     INTEGER NOT NULL,
  archived_at INTEGER NOT NULL,

  PRIMARY KEY (client_id, chat, seq),
  UNIQUE (client_id, chat, message_id)
);
`

const sqliteColumns = `client_id, chat, message_id, seq, sender, push_name, type, body, from_me, sent_at, archived_at`

// SQLiteStore is a Store backed by a single SQLite file (pure Go driver).
//
// The pool is capped at one connection, so appends are serialized and seq
// allocation needs no extra locking.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating when needed) the archive database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("archive: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Append archives a message with idempotency and monotonic seq allocation.
func (s *SQLiteStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if err := in.validate(); err != nil {
		return AppendResult{}, err
	}
	now := in.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AppendResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM messages WHERE client_id = ? AND chat = ? AND message_id = ?`,
		in.ClientID, in.Chat, in.MessageID,
	))
	if err == nil {
		return AppendResult{Stored: existing, Duplicated: true}, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return AppendResult{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_cursors (client_id, chat, next_seq) VALUES (?, ?, 1)
		 ON CONFLICT (client_id, chat) DO NOTHING`,
		in.ClientID, in.Chat,
	); err != nil {
		return AppendResult{}, err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE chat_cursors SET next_seq = next_seq + 1
		  WHERE client_id = ? AND chat = ?
		RETURNING next_seq - 1`,
		in.ClientID, in.Chat,
	).Scan(&seq); err != nil {
		return AppendResult{}, fmt.Errorf("allocate seq: %w", err)
	}

	rec := in.record(seq, now)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ClientID, rec.Chat, rec.MessageID, rec.Seq, rec.Sender, rec.PushName, rec.Type, rec.Body,
		rec.FromMe, rec.SentAt.UnixMilli(), rec.ArchivedAt.UnixMilli(),
	); err != nil {
		return AppendResult{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Stored: rec}, nil
}

// History returns records ordered by seq ASC with paging via AfterSeq.
func (s *SQLiteStore) History(ctx context.Context, in HistoryInput) (HistoryResult, error) {
	if err := in.validate(); err != nil {
		return HistoryResult{}, err
	}
	limit := ClampLimit(in.Limit)

	var after int64
	if in.AfterSeq != nil {
		after = *in.AfterSeq
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM messages
		  WHERE client_id = ? AND chat = ? AND seq > ?
		  ORDER BY seq ASC
		  LIMIT ?`,
		in.ClientID, in.Chat, after, limit+1,
	)
	if err != nil {
		return HistoryResult{}, err
	}
	defer rows.Close()

	msgs := make([]Record, 0, limit+1)
	for rows.Next() {
		rec, err := scanRecord(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r                Record
		sentAt, archived int64
	)
	if err := row.Scan(&r.ClientID, &r.Chat, &r.MessageID, &r.Seq, &r.Sender, &r.PushName, &r.Type, &r.Body,
		&r.FromMe, &sentAt, &archived); err != nil {
		return Record{}, err
	}
	r.SentAt = time.UnixMilli(sentAt).UTC()
	r.ArchivedAt = time.UnixMilli(archived).UTC()
	return r, nil
}
