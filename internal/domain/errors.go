package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTransportCredentials means the start response lacked the
	// transport URL or client token in both accepted envelope shapes.
	ErrMissingTransportCredentials = errors.New("missing transport connection data")

	// ErrPlaybackBlocked marks a sink that could not start playback. The
	// session stays up; the UI prompts for a manual unlock instead.
	ErrPlaybackBlocked = errors.New("audio playback blocked")

	// ErrNoConnection is returned for microphone commands issued while no
	// transport connection is active.
	ErrNoConnection = errors.New("no active media connection")

	// ErrRemoteSpeaking rejects a manual unmute while the avatar holds the
	// turn. Avatar-priority policy.
	ErrRemoteSpeaking = errors.New("avatar is speaking")
)

// TokenError is a failed token request. Message carries the
// service-provided details verbatim when present.
type TokenError struct {
	Message string
}

func (e *TokenError) Error() string { return e.Message }

// StartError is a failed remote session start.
type StartError struct {
	Message string
}

func (e *StartError) Error() string { return e.Message }

// ConnectError wraps a transport connection failure.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("transport connect: %v", e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// MicError wraps a failed microphone command.
type MicError struct {
	Err error
}

func (e *MicError) Error() string { return fmt.Sprintf("microphone command: %v", e.Err) }
func (e *MicError) Unwrap() error { return e.Err }
