package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goodwinteam/avatarcall/internal/domain"
)

// SpeakingWatchdog bounds how long the avatar may hold the turn without a
// stop signal before the microphone is forcibly re-enabled.
const SpeakingWatchdog = 12 * time.Second

// micCommand routes microphone changes through the media session, the
// single owner of the transmitted-audio state.
type micCommand func(enabled bool) error

// stopTimerFunc cancels a pending watchdog. Reports whether the timer was
// still pending.
type stopTimerFunc func() bool

// timerFactory schedules fn after d. Tests substitute a manual clock.
type timerFactory func(d time.Duration, fn func()) stopTimerFunc

// TurnArbiter decides who owns the speaking turn. Two racing signal
// sources feed the same transition function: explicit avatar start/stop
// events from the data channel, and energy-based active-speaker snapshots
// from the transport. Both write the same remoteSpeaking flag and share
// the same watchdog, so whichever source sees an edge first wins and the
// other source's redundant signal is suppressed.
type TurnArbiter struct {
	mu sync.Mutex

	mic      micCommand
	onChange func()

	remoteSpeaking bool
	localMuted     bool

	// watchdogGen invalidates stale timer fires that race a cancellation.
	watchdogGen  uint64
	stopWatchdog stopTimerFunc

	after timerFactory
	log   zerolog.Logger
}

// NewTurnArbiter starts in the forced-mute policy state: the avatar
// speaks first, so the local microphone begins disabled even though no
// speaking edge has been seen yet.
func NewTurnArbiter(mic micCommand, onChange func()) *TurnArbiter {
	if onChange == nil {
		onChange = func() {}
	}
	return &TurnArbiter{
		mic:        mic,
		onChange:   onChange,
		localMuted: true,
		after: func(d time.Duration, fn func()) stopTimerFunc {
			return time.AfterFunc(d, fn).Stop
		},
		log: log.With().Str("module", "app.arbiter").Logger(),
	}
}

// Speaking reports whether the avatar currently holds the turn.
func (a *TurnArbiter) Speaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remoteSpeaking
}

// Muted reports the local mute flag.
func (a *TurnArbiter) Muted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.localMuted
}

// HandleSignal processes an explicit data-channel payload. Malformed
// payloads and unknown event types are discarded, never surfaced.
func (a *TurnArbiter) HandleSignal(payload []byte) {
	sig := domain.ParseSignal(payload)
	switch sig.Kind {
	case domain.SignalSpeechStart:
		a.log.Debug().Str("event", sig.Type).Msg("avatar started talking")
		a.mu.Lock()
		a.beginRemoteTurn()
		a.mu.Unlock()
		a.onChange()
	case domain.SignalSpeechStop:
		a.log.Debug().Str("event", sig.Type).Msg("avatar stopped talking")
		a.mu.Lock()
		a.endRemoteTurn()
		a.mu.Unlock()
		a.onChange()
	default:
		a.log.Debug().Str("event", sig.Type).Msg("ignoring signal")
	}
}

// HandleActiveSpeakers processes an energy-based speaker snapshot. The
// snapshot is compared against the arbiter's last known value, not raw
// signal identity, so repeated snapshots with the same meaning issue no
// redundant mic commands.
func (a *TurnArbiter) HandleActiveSpeakers(identities []string, localIdentity string) {
	remote := false
	for _, id := range identities {
		if id != localIdentity {
			remote = true
			break
		}
	}

	a.mu.Lock()
	if remote == a.remoteSpeaking {
		a.mu.Unlock()
		return
	}
	if remote {
		a.log.Debug().Msg("avatar speaking via active speakers")
		a.beginRemoteTurn()
	} else {
		a.log.Debug().Msg("avatar silent via active speakers")
		a.endRemoteTurn()
	}
	a.mu.Unlock()
	a.onChange()
}

// ToggleMute is the user-initiated toggle. Rejected while the avatar
// holds the turn (avatar-priority policy).
func (a *TurnArbiter) ToggleMute() error {
	a.mu.Lock()
	if a.remoteSpeaking {
		a.mu.Unlock()
		a.log.Debug().Msg("mute toggle rejected while avatar speaking")
		return domain.ErrRemoteSpeaking
	}
	muted := !a.localMuted
	if err := a.mic(!muted); err != nil {
		a.mu.Unlock()
		return &domain.MicError{Err: err}
	}
	a.localMuted = muted
	a.mu.Unlock()
	a.onChange()
	return nil
}

// Reset restores the session-start state: mic flagged muted, nobody
// speaking, no pending watchdog. It issues no mic command; the media
// session forces the mic off itself on connect and teardown.
func (a *TurnArbiter) Reset() {
	a.mu.Lock()
	a.cancelWatchdog()
	a.remoteSpeaking = false
	a.localMuted = true
	a.mu.Unlock()
	a.onChange()
}

// beginRemoteTurn and endRemoteTurn are the shared transition function.
// Callers hold a.mu.

func (a *TurnArbiter) beginRemoteTurn() {
	a.remoteSpeaking = true
	a.localMuted = true
	if err := a.mic(false); err != nil {
		a.log.Error().Err(err).Msg("mute command failed")
	}
	a.armWatchdog()
}

func (a *TurnArbiter) endRemoteTurn() {
	a.cancelWatchdog()
	a.remoteSpeaking = false
	a.localMuted = false
	if err := a.mic(true); err != nil {
		a.log.Error().Err(err).Msg("unmute command failed")
	}
}

// armWatchdog cancels then restarts the timer, so a stale fire from a
// superseded arm can never unmute mid-turn.
func (a *TurnArbiter) armWatchdog() {
	a.cancelWatchdog()
	gen := a.watchdogGen
	a.stopWatchdog = a.after(SpeakingWatchdog, func() { a.expireWatchdog(gen) })
}

func (a *TurnArbiter) cancelWatchdog() {
	if a.stopWatchdog != nil {
		a.stopWatchdog()
		a.stopWatchdog = nil
	}
	a.watchdogGen++
}

func (a *TurnArbiter) expireWatchdog(gen uint64) {
	a.mu.Lock()
	if gen != a.watchdogGen || !a.remoteSpeaking {
		a.mu.Unlock()
		return
	}
	a.log.Warn().Dur("timeout", SpeakingWatchdog).Msg("avatar speaking too long, forcing mic on")
	a.stopWatchdog = nil
	a.remoteSpeaking = false
	a.localMuted = false
	if err := a.mic(true); err != nil {
		a.log.Error().Err(err).Msg("watchdog unmute failed")
	}
	a.mu.Unlock()
	a.onChange()
}
