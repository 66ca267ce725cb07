// Package archive persists normalized inbound messages so stream consumers
// can page through chat history.
package archive

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// ErrInvalidInput is returned for appends missing a client id, chat or message id.
var ErrInvalidInput = errors.New("archive: invalid input")

// Record is the canonical archived message representation.
type Record struct {
	ClientID   string
	Chat       string
	MessageID  string
	Seq        int64
	Sender     string
	PushName   string
	Type       string
	Body       string
	FromMe     bool
	SentAt     time.Time
	ArchivedAt time.Time
}

// Store persists and queries archived messages.
//
// Requirements:
//   - Idempotency per (client_id, chat, message_id)
//   - Monotonic seq per (client_id, chat), no gaps for duplicates
//   - History ordered by seq ASC
type Store interface {
	Append(ctx context.Context, in AppendInput) (AppendResult, error)
	History(ctx context.Context, in HistoryInput) (HistoryResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// AppendInput describes one message to archive.
type AppendInput struct {
	ClientID  string
	Chat      string
	MessageID string
	Sender    string
	PushName  string
	Type      string
	Body      string
	FromMe    bool
	SentAt    time.Time
	Now       time.Time
}

// AppendResult is the append operation result.
type AppendResult struct {
	Stored     Record
	Duplicated bool
}

// HistoryInput describes a history query.
type HistoryInput struct {
	ClientID string
	Chat     string
	AfterSeq *int64
	Limit    int
}

// HistoryResult contains the retrieved history window.
type HistoryResult struct {
	Messages []Record
	HasMore  bool
}

func (in AppendInput) validate() error {
	if strings.TrimSpace(in.ClientID) == "" || strings.TrimSpace(in.Chat) == "" || strings.TrimSpace(in.MessageID) == "" {
		return ErrInvalidInput
	}
	return nil
}

func (in AppendInput) now() time.Time {
	if in.Now.IsZero() {
		return time.Now().UTC()
	}
	return in.Now.UTC()
}

func (in HistoryInput) validate() error {
	if strings.TrimSpace(in.ClientID) == "" || strings.TrimSpace(in.Chat) == "" {
		return errors.New("archive: missing client_id or chat")
	}
	return nil
}

// ClampLimit maps a requested page size into [1, MaxHistoryLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func (in AppendInput) record(seq int64, now time.Time) Record {
	return Record{
		ClientID:   in.ClientID,
		Chat:       in.Chat,
		MessageID:  in.MessageID,
		Seq:        seq,
		Sender:     in.Sender,
		PushName:   in.PushName,
		Type:       in.Type,
		Body:       in.Body,
		FromMe:     in.FromMe,
		SentAt:     in.SentAt.UTC().Truncate(time.Millisecond),
		ArchivedAt: now.Truncate(time.Millisecond),
	}
}
