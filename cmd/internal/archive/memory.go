package archive

import (
	"context"
	"sort"
	"sync"
)

const memMaxMessagesPerChat = 10_000

// MemoryStore keeps the archive in process memory. Each chat keeps at most
// the latest memMaxMessagesPerChat messages.
type MemoryStore struct {
	mu    sync.Mutex
	chats map[chatKey]*memChat
}

type chatKey struct {
	clientID string
	chat     string
}

type memChat struct {
	seq    int64
	dedupe map[string]Record // message_id -> record
	msgs   []Record          // ordered by seq
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[chatKey]*memChat)}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Append archives a message with idempotency and monotonic seq allocation.
func (s *MemoryStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if err := in.validate(); err != nil {
		return AppendResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}
	now := in.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	k := chatKey{clientID: in.ClientID, chat: in.Chat}
	c := s.chats[k]
	if c == nil {
		c = &memChat{dedupe: make(map[string]Record)}
		s.chats[k] = c
	}

	if existing, ok := c.dedupe[in.MessageID]; ok {
		return AppendResult{Stored: existing, Duplicated: true}, nil
	}

	c.seq++
	rec := in.record(c.seq, now)
	c.dedupe[in.MessageID] = rec
	c.msgs = append(c.msgs, rec)

	if len(c.msgs) > memMaxMessagesPerChat {
		for _, old := range c.msgs[:len(c.msgs)-memMaxMessagesPerChat] {
			delete(c.dedupe, old.MessageID)
		}
		c.msgs = append([]Record(nil), c.msgs[len(c.msgs)-memMaxMessagesPerChat:]...)
	}

	return AppendResult{Stored: rec}, nil
}

// History returns records ordered by seq ASC with paging via AfterSeq.
func (s *MemoryStore) History(ctx context.Context, in HistoryInput) (HistoryResult, error) {
	if err := in.validate(); err != nil {
		return HistoryResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return HistoryResult{}, err
	}
	limit := ClampLimit(in.Limit)

	s.mu.Lock()
	var snap []Record
	if c := s.chats[chatKey{clientID: in.ClientID, chat: in.Chat}]; c != nil {
		snap = append([]Record(nil), c.msgs...)
	}
	s.mu.Unlock()

	start := 0
	if in.AfterSeq != nil {
		after := *in.AfterSeq
		start = sort.Search(len(snap), func(i int) bool { return snap[i].Seq > after })
	}
	if start >= len(snap) {
		return HistoryResult{}, nil
	}

	out := snap[start:]
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return HistoryResult{Messages: out, HasMore: hasMore}, nil
}
