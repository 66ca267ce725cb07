package events

// Normalized message lifecycle events.
const (
	MessageNew         = "message.new"
	MessageUpdate      = "message.update"
	MessageRemove      = "message.remove"
	MessageReceipt     = "message.receipt"
	MessageReact       = "message.react"
	MessageMediaUpdate = "message.media.update"

	// Message carries every lifecycle action in one stream.
	Message = "message"
)

// Client lifecycle events.
const (
	Connection  = "connection"
	QR          = "qr"
	PairingCode = "pairing.code"
	Error       = "error"
	CredsUpdate = "creds.update"
)

// Host-level events.
const (
	SessionChanged = "session.changed"
	ClientAdded    = "client.added"
	ClientRemoved  = "client.removed"
)

// Actions carried by the unified Message event.
const (
	ActionNew         = "new"
	ActionUpdate      = "update"
	ActionRemove      = "remove"
	ActionReceipt     = "receipt"
	ActionReact       = "react"
	ActionMediaUpdate = "media.update"
)
