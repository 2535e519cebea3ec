package domain

import "encoding/json"

// SignalKind is the closed set of avatar data-channel events we act on.
type SignalKind int

const (
	// SignalUnknown covers undecodable payloads and unrecognized type
	// values. It is always a no-op for the caller, never an error.
	SignalUnknown SignalKind = iota
	SignalSpeechStart
	SignalSpeechStop
)

// Signal is a decoded avatar data-channel event.
type Signal struct {
	Kind SignalKind
	// Type is the raw event name, kept for logging.
	Type string
}

// ParseSignal decodes a data-channel payload. Both event-name variants of
// each direction are accepted and treated identically.
func ParseSignal(payload []byte) Signal {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return Signal{Kind: SignalUnknown}
	}
	switch env.Type {
	case "avatar_start_talking", "agent_start_talking":
		return Signal{Kind: SignalSpeechStart, Type: env.Type}
	case "avatar_stop_talking", "agent_stop_talking":
		return Signal{Kind: SignalSpeechStop, Type: env.Type}
	default:
		return Signal{Kind: SignalUnknown, Type: env.Type}
	}
}
