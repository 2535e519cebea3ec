package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goodwinteam/avatarcall/internal/core"
	"github.com/goodwinteam/avatarcall/internal/domain"
)

// CompletionFunc is invoked once per ended call with the session id and
// elapsed duration.
type CompletionFunc func(sessionID string, duration time.Duration)

// Snapshot is the read-only view exposed to the presentation layer.
type Snapshot struct {
	State          domain.State `json:"state"`
	Muted          bool         `json:"muted"`
	RemoteSpeaking bool         `json:"remote_speaking"`
	AudioLocked    bool         `json:"audio_locked"`
	AudioUnlocked  bool         `json:"audio_unlocked"`
	Error          string       `json:"error,omitempty"`
}

// Options configures a Session.
type Options struct {
	Language string
	Context  string
	// OnComplete fires after teardown of a negotiated call.
	OnComplete CompletionFunc
	// OnUpdate fires after every observable state change.
	OnUpdate func(Snapshot)
}

// Session is the top-level lifecycle controller for one call surface. It
// sequences negotiation, transport connection, sink binding and turn
// arbitration, and owns the lifecycle state machine.
type Session struct {
	mu        sync.Mutex
	state     domain.State
	errMsg    string
	creds     *domain.Credentials
	startedAt time.Time

	negotiator *Negotiator
	media      *MediaSession
	binder     *SinkBinder
	arbiter    *TurnArbiter
	control    core.SessionControl

	opts Options
	log  zerolog.Logger
}

func NewSession(control core.SessionControl, rooms core.RoomFactory, sinks core.SinkFactory, opts Options) *Session {
	s := &Session{
		state:      domain.StateIdle,
		negotiator: NewNegotiator(control),
		control:    control,
		opts:       opts,
		log:        log.With().Str("module", "app.session").Logger(),
	}
	s.binder = NewSinkBinder(sinks, func(bool, bool) { s.publish() })
	s.arbiter = NewTurnArbiter(
		func(enabled bool) error { return s.media.SetMicrophoneEnabled(enabled) },
		s.publish,
	)
	s.media = NewMediaSession(rooms, s.binder, s.arbiter, s.handleStateHint)
	return s
}

// Snapshot returns the current UI-facing view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	state, errMsg := s.state, s.errMsg
	s.mu.Unlock()
	return Snapshot{
		State:          state,
		Muted:          s.arbiter.Muted(),
		RemoteSpeaking: s.arbiter.Speaking(),
		AudioLocked:    s.binder.AudioLocked(),
		AudioUnlocked:  s.binder.AudioUnlocked(),
		Error:          errMsg,
	}
}

// Start runs negotiation and transport connection. An already active
// call makes this a no-op, so duplicate concurrent negotiations cannot
// happen. Failures land in the error state with a
// human-readable message and wait for a manual retry.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == domain.StateConnecting || s.state == domain.StateWaiting || s.state == domain.StateConnected {
		s.mu.Unlock()
		s.log.Debug().Str("state", string(s.state)).Msg("start ignored")
		return nil
	}
	s.state = domain.StateConnecting
	s.errMsg = ""
	s.mu.Unlock()
	s.publish()

	creds, err := s.negotiator.Negotiate(ctx, s.opts.Language, s.opts.Context)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.creds = &creds
	s.startedAt = time.Now()
	s.mu.Unlock()

	hasRemote, err := s.media.Connect(ctx, creds)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	if s.state == domain.StateConnecting {
		if hasRemote {
			s.state = domain.StateConnected
		} else {
			s.state = domain.StateWaiting
		}
	}
	s.mu.Unlock()
	s.publish()
	return nil
}

// Stop tears the call down: transport first, then best-effort remote stop
// and accounting, completion callback, and finally unconditional sink and
// turn-state teardown. Safe to call repeatedly and from an unmount path
// with no pending session; the remote stop fires at most once per call.
func (s *Session) Stop(ctx context.Context, showEnded bool) {
	s.mu.Lock()
	creds := s.creds
	s.creds = nil
	startedAt := s.startedAt
	s.startedAt = time.Time{}
	s.mu.Unlock()

	var duration time.Duration
	if !startedAt.IsZero() {
		duration = time.Since(startedAt).Truncate(time.Second)
	}

	s.media.Disconnect()

	if creds != nil {
		if err := s.control.Stop(ctx, creds.SessionID, creds.SessionToken); err != nil {
			s.log.Warn().Err(err).Str("session_id", creds.SessionID).Msg("remote session stop failed")
		}
		if err := s.control.EndRecord(ctx, creds.SessionID, duration); err != nil {
			s.log.Warn().Err(err).Str("session_id", creds.SessionID).Msg("session end record failed")
		}
		if s.opts.OnComplete != nil {
			s.opts.OnComplete(creds.SessionID, duration)
		}
	}

	s.binder.CloseAll()
	s.arbiter.Reset()

	s.mu.Lock()
	if showEnded {
		s.state = domain.StateEnded
	} else {
		s.state = domain.StateIdle
	}
	s.errMsg = ""
	s.mu.Unlock()
	s.publish()
	s.log.Info().Dur("duration", duration).Bool("show_ended", showEnded).Msg("session stopped")
}

// Dismiss leaves the ended screen.
func (s *Session) Dismiss() {
	s.mu.Lock()
	if s.state == domain.StateEnded || s.state == domain.StateError {
		s.state = domain.StateIdle
		s.errMsg = ""
	}
	s.mu.Unlock()
	s.publish()
}

// ToggleMute flips the local mute flag through the arbiter. Rejected
// while the avatar is speaking.
func (s *Session) ToggleMute() error {
	return s.arbiter.ToggleMute()
}

// UnlockAudio retries playback on every sink after a user gesture.
func (s *Session) UnlockAudio(ctx context.Context) {
	s.binder.UnlockAll(ctx)
}

func (s *Session) fail(err error) error {
	s.log.Error().Err(err).Msg("session failed")
	s.mu.Lock()
	s.state = domain.StateError
	s.errMsg = err.Error()
	s.mu.Unlock()
	s.publish()
	return err
}

// handleStateHint applies lifecycle-relevant transport events. A track or
// participant promotes waiting to connected; a transport disconnect is a
// normal end-of-call path back to idle, not an error.
func (s *Session) handleStateHint(hint domain.State) {
	s.mu.Lock()
	switch hint {
	case domain.StateConnected:
		if s.state == domain.StateConnecting || s.state == domain.StateWaiting {
			s.state = domain.StateConnected
		}
	case domain.StateIdle:
		if s.state == domain.StateConnected || s.state == domain.StateWaiting {
			s.state = domain.StateIdle
		}
	}
	s.mu.Unlock()
	s.publish()
}

func (s *Session) publish() {
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(s.Snapshot())
	}
}
