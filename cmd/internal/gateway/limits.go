package gateway

import "time"

// Stream limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max send_text length (runes).
	maxTextChars = 4096
)

const (
	defaultHeartbeatEvery   = 25 * time.Second
	defaultHeartbeatTimeout = 5 * time.Second

	// Per-connection rate limits (inbound envelopes per window).
	defaultRateEvents = 120
	defaultRateWindow = 10 * time.Second

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	defaultSendTimeout  = 30 * time.Second
	closeGrace          = 1 * time.Second

	maxPingFailures = 3

	// Queue between the orchestrator bus and the fan-out loop.
	hubQueueSize = 4096
)

// Origin policy defaults: an Origin header is required and only localhost
// is allowed.
const (
	DefaultOriginRequired = true
	DefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)
