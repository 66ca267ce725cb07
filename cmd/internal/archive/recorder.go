package archive

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/zevanoo/baileys-ez/events"
	"github.com/zevanoo/baileys-ez/serialize"
)

const recorderQueueSize = 1024

// Metrics receives archive counters.
type Metrics interface {
	ArchiveAppended(inserted bool, err error)
}

// Recorder archives every message.new event published on a bus.
type Recorder struct {
	store   Store
	log     *slog.Logger
	metrics Metrics
	sub     *events.Subscription
}

// NewRecorder subscribes to bus immediately; events are buffered until Run.
// metrics may be nil.
func NewRecorder(store Store, bus *events.Bus, log *slog.Logger, metrics Metrics) *Recorder {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sub := bus.Subscribe(recorderQueueSize, func(e events.Event) bool {
		return e.Name == events.MessageNew
	})
	return &Recorder{store: store, log: log, metrics: metrics, sub: sub}
}

// Run archives events until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	defer func() {
		r.sub.Close()
		if n := r.sub.Dropped(); n > 0 {
			r.log.Warn("archive.recorder.dropped", "events", n)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-r.sub.C:
			m, ok := e.Payload.(*serialize.Message)
			if !ok || m == nil {
				continue
			}
			if _, err := r.Record(ctx, e.ClientID, m); err != nil && ctx.Err() == nil {
				r.log.Error("archive.append.fail", "client_id", e.ClientID, "message_id", m.ID, "err", err)
			}
		}
	}
}

// Record archives one normalized message.
func (r *Recorder) Record(ctx context.Context, clientID string, m *serialize.Message) (AppendResult, error) {
	res, err := r.store.Append(ctx, InputFromMessage(clientID, m, time.Now().UTC()))
	if r.metrics != nil {
		r.metrics.ArchiveAppended(err == nil && !res.Duplicated, err)
	}
	return res, err
}

// InputFromMessage maps a normalized message onto an archive append.
func InputFromMessage(clientID string, m *serialize.Message, now time.Time) AppendInput {
	sent := now
	if m.Timestamp > 0 {
		sent = time.Unix(m.Timestamp, 0).UTC()
	}
	return AppendInput{
		ClientID:  clientID,
		Chat:      m.From,
		MessageID: m.ID,
		Sender:    m.Sender,
		PushName:  m.PushName,
		Type:      m.Type,
		Body:      m.Body,
		FromMe:    m.FromMe,
		SentAt:    sent,
		Now:       now,
	}
}
