package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zevanoo/baileys-ez/events"
	"github.com/zevanoo/baileys-ez/serialize"
)

type countingMetrics struct {
	mu       sync.Mutex
	inserted int
	dupes    int
	failed   int
}

func (m *countingMetrics) ArchiveAppended(inserted bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case err != nil:
		m.failed++
	case inserted:
		m.inserted++
	default:
		m.dupes++
	}
}

func (m *countingMetrics) snapshot() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserted, m.dupes, m.failed
}

func normalized(id, from, body string) *serialize.Message {
	return &serialize.Message{
		ID:        id,
		From:      from,
		Sender:    from,
		PushName:  "Budi",
		Type:      "conversation",
		Body:      body,
		Timestamp: 1_700_000_123,
	}
}

func TestRecorder_ArchivesMessageNew(t *testing.T) {
	t.Parallel()

	bus := events.NewBus(nil)
	st := NewMemoryStore()
	m := &countingMetrics{}
	rec := NewRecorder(st, bus, nil, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = rec.Run(ctx)
		close(done)
	}()

	chat := "628111@s.whatsapp.net"
	bus.Emit("acct1", events.MessageNew, normalized("M1", chat, "hello"))
	bus.Emit("acct1", events.MessageNew, normalized("M1", chat, "hello"))
	bus.Emit("acct1", events.MessageNew, normalized("", chat, "no id"))
	bus.Emit("acct1", events.Message, normalized("M9", chat, "unified stream is ignored"))
	bus.Emit("acct1", events.MessageNew, normalized("M2", chat, "world"))

	deadline := time.Now().Add(3 * time.Second)
	for {
		ins, dup, fail := m.snapshot()
		if ins == 2 && dup == 1 && fail == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics inserted=%d dupes=%d failed=%d", ins, dup, fail)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done

	out, err := st.History(context.Background(), HistoryInput{ClientID: "acct1", Chat: chat})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(out.Messages) != 2 || out.Messages[0].Body != "hello" || out.Messages[1].Body != "world" {
		t.Fatalf("history=%+v", out.Messages)
	}
	if got := out.Messages[0]; got.PushName != "Budi" || got.SentAt.Unix() != 1_700_000_123 {
		t.Fatalf("record=%+v", got)
	}
}

func TestRecord_InvalidMessage(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(NewMemoryStore(), events.NewBus(nil), nil, nil)
	_, err := rec.Record(context.Background(), "acct1", normalized("M1", "", "no chat"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Record err=%v", err)
	}
}
