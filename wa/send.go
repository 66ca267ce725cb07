package wa

// SendOptions adjusts an outbound message.
type SendOptions struct {
	// Quoted makes the message a reply to the given message.
	Quoted *WebMessageInfo `json:"quoted,omitempty"`
	// Mentions lists JIDs mentioned in the text.
	Mentions []string `json:"mentions,omitempty"`
	// Ephemeral sets a disappearing-message expiration in seconds.
	Ephemeral int `json:"ephemeralExpiration,omitempty"`
	// Extra is passed to the capability unchanged.
	Extra map[string]any `json:"extra,omitempty"`
}
