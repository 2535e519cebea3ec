// Package domain contains entity without logic, just meta-data
package domain

// State is the lifecycle state of one call attempt.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	// StateWaiting means the transport is up but the avatar has not
	// published any track or joined yet.
	StateWaiting   State = "waiting_avatar"
	StateConnected State = "connected"
	StateError     State = "error"
	StateEnded     State = "ended"
)

// Credentials is the result of a successful negotiation handshake.
// They live in process memory for the duration of one call and are
// invalidated when the call ends.
type Credentials struct {
	SessionID      string
	SessionToken   string
	TransportURL   string
	TransportToken string
}

// Complete reports whether the start response carried both transport fields.
func (c Credentials) Complete() bool {
	return c.TransportURL != "" && c.TransportToken != ""
}
