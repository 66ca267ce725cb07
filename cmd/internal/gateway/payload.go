package gateway

import (
	"encoding/json"
	"time"

	"github.com/zevanoo/baileys-ez/cmd/internal/archive"
	v1 "github.com/zevanoo/baileys-ez/contracts/stream/v1"
	"github.com/zevanoo/baileys-ez/events"
	"github.com/zevanoo/baileys-ez/internal/ids"
)

type errorData struct {
	Error string `json:"error"`
}

// eventData encodes an event payload. Errors become {"error": "..."}.
func eventData(payload any) json.RawMessage {
	switch p := payload.(type) {
	case nil:
		return nil
	case error:
		b, _ := json.Marshal(errorData{Error: p.Error()})
		return b
	case json.RawMessage:
		return p
	}

	b, err := json.Marshal(payload)
	if err != nil {
		b, _ = json.Marshal(errorData{Error: "unencodable payload: " + err.Error()})
	}
	return b
}

func eventEnvelope(e events.Event) v1.Envelope {
	p, _ := json.Marshal(v1.EventPayload{
		EventID:  e.ID,
		ClientID: e.ClientID,
		Name:     e.Name,
		Data:     eventData(e.Payload),
	})
	ts := e.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return newEnvelope(v1.TypeEvent, p, ts)
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      ids.MustULID(ts),
		TS:      ts,
		Payload: payload,
	}
}

func archivedMessage(r archive.Record) v1.ArchivedMessage {
	return v1.ArchivedMessage{
		ClientID:   r.ClientID,
		Chat:       r.Chat,
		MessageID:  r.MessageID,
		Seq:        r.Seq,
		Sender:     r.Sender,
		PushName:   r.PushName,
		Type:       r.Type,
		Body:       r.Body,
		FromMe:     r.FromMe,
		SentAt:     r.SentAt,
		ArchivedAt: r.ArchivedAt,
	}
}
