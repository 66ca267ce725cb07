package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zevanoo/baileys-ez/events"
	"github.com/zevanoo/baileys-ez/serialize"
	"github.com/zevanoo/baileys-ez/wa"
)

// MessageEvent is the payload of the unified events.Message stream. Action
// says which of the other fields is set.
type MessageEvent struct {
	Action      string             `json:"action"`
	Message     *serialize.Message `json:"message,omitempty"`
	Update      *wa.MessageUpdate  `json:"update,omitempty"`
	Key         *wa.MessageKey     `json:"key,omitempty"`
	JID         string             `json:"jid,omitempty"`
	All         bool               `json:"all,omitempty"`
	Receipt     *wa.ReceiptUpdate  `json:"receipt,omitempty"`
	Reaction    *wa.Reaction       `json:"reaction,omitempty"`
	MediaUpdate *wa.MediaUpdate    `json:"mediaUpdate,omitempty"`
}

// router republishes the message events of one capability on the handle bus.
type router struct {
	h     *Handle
	capab Capability
}

func (r *router) emit(name string, payload any) {
	r.h.bus.Emit(r.h.ID(), name, payload)
}

func (r *router) emitMessage(perItem string, me MessageEvent) {
	if perItem != "" {
		r.emit(perItem, perItemPayload(me))
	}
	r.emit(events.Message, me)
	r.h.obs.MessageRouted(r.h.ID(), me.Action)
}

func perItemPayload(me MessageEvent) any {
	switch {
	case me.Message != nil:
		return me.Message
	case me.Update != nil:
		return *me.Update
	case me.Receipt != nil:
		return *me.Receipt
	case me.Reaction != nil:
		return *me.Reaction
	case me.MediaUpdate != nil:
		return *me.MediaUpdate
	case me.Key != nil:
		return *me.Key
	default:
		return me
	}
}

// route republishes ev under its own name, then emits the normalized events.
// An empty upsert batch is dropped without any event.
func (r *router) route(ev wa.Event) {
	if u, ok := ev.Payload.(wa.MessagesUpsert); ok && len(u.Messages) == 0 {
		return
	}
	r.emit(ev.Name, ev.Payload)

	switch p := ev.Payload.(type) {
	case wa.MessagesUpsert:
		r.upsert(p)

	case []wa.MessageUpdate:
		for i := range p {
			r.emitMessage(events.MessageUpdate, MessageEvent{Action: events.ActionUpdate, Update: &p[i]})
		}

	case wa.MessagesDelete:
		if len(p.Keys) > 0 {
			for i := range p.Keys {
				r.emitMessage(events.MessageRemove, MessageEvent{Action: events.ActionRemove, Key: &p.Keys[i]})
			}
			return
		}
		r.emitMessage(events.MessageRemove, MessageEvent{Action: events.ActionRemove, JID: p.JID, All: p.All})

	case []wa.ReceiptUpdate:
		for i := range p {
			r.emitMessage(events.MessageReceipt, MessageEvent{Action: events.ActionReceipt, Receipt: &p[i]})
		}

	case []wa.Reaction:
		for i := range p {
			r.emitMessage(events.MessageReact, MessageEvent{Action: events.ActionReact, Reaction: &p[i]})
		}

	case []wa.MediaUpdate:
		for i := range p {
			r.emitMessage(events.MessageMediaUpdate, MessageEvent{Action: events.ActionMediaUpdate, MediaUpdate: &p[i]})
		}
	}
}

// upsert normalizes the batch concurrently and dispatches the results in input
// order once every element has resolved. Failed elements are dropped.
func (r *router) upsert(u wa.MessagesUpsert) {
	out := make([]*serialize.Message, len(u.Messages))

	var wg sync.WaitGroup
	for i, raw := range u.Messages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = r.normalize(raw)
		}()
	}
	wg.Wait()

	for _, m := range out {
		if m == nil {
			continue
		}
		if u.Type == wa.UpsertNotify {
			r.emitMessage(events.MessageNew, MessageEvent{Action: events.ActionNew, Message: m})
			continue
		}
		r.emitMessage("", MessageEvent{Action: u.Type, Message: m})
	}
}

// normalize maps errors and panics to nil after logging and counting them.
// Disconnecting does not cancel in-flight normalization.
func (r *router) normalize(raw *wa.WebMessageInfo) (m *serialize.Message) {
	id := ""
	if raw != nil {
		id = raw.Key.ID
	}

	defer func() {
		if p := recover(); p != nil {
			r.fail(&serialize.NormalizationError{ClientID: r.h.ID(), MessageID: id, Err: fmt.Errorf("panic: %v", p)})
			m = nil
		}
	}()

	m, err := r.h.serializer()(context.Background(), r.capab, raw, r.h.opts.SerializeOptions)
	if err != nil {
		var ne *serialize.NormalizationError
		if !errors.As(err, &ne) {
			ne = &serialize.NormalizationError{MessageID: id, Err: err}
		}
		ne.ClientID = r.h.ID()
		r.fail(ne)
		return nil
	}
	return m
}

func (r *router) fail(err *serialize.NormalizationError) {
	r.h.log.Warn("client.serialize.fail", "message_id", err.MessageID, "err", err.Err)
	r.h.obs.NormalizationFailed(r.h.ID())
}
