package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goodwinteam/avatarcall/internal/core"
	"github.com/goodwinteam/avatarcall/internal/domain"
)

// MediaSession owns the transport connection for one call. It subscribes
// to raw room events and fans them out to the sink binder and the turn
// arbiter; lifecycle hints go back to the session controller.
type MediaSession struct {
	mu   sync.Mutex
	room core.Room

	rooms   core.RoomFactory
	binder  *SinkBinder
	arbiter *TurnArbiter

	// onStateHint forwards lifecycle-relevant transport events. Hints are
	// advisory; the session controller owns the actual state machine.
	onStateHint func(domain.State)

	log zerolog.Logger
}

func NewMediaSession(rooms core.RoomFactory, binder *SinkBinder, arbiter *TurnArbiter, onStateHint func(domain.State)) *MediaSession {
	if onStateHint == nil {
		onStateHint = func(domain.State) {}
	}
	return &MediaSession{
		rooms:       rooms,
		binder:      binder,
		arbiter:     arbiter,
		onStateHint: onStateHint,
		log:         log.With().Str("module", "app.media").Logger(),
	}
}

// Connect establishes the transport connection, forces the microphone off
// (the avatar speaks first; fixed policy), and replays any tracks that
// arrived before listener registration. It reports whether a remote
// participant is already present.
func (m *MediaSession) Connect(ctx context.Context, creds domain.Credentials) (hasRemote bool, err error) {
	room, err := m.rooms.NewRoom()
	if err != nil {
		return false, &domain.ConnectError{Err: err}
	}

	room.OnTrackSubscribed(func(t core.RemoteTrack, p core.Participant) {
		m.log.Info().Str("kind", string(t.Kind())).Str("identity", p.Identity()).Msg("track subscribed")
		m.onStateHint(domain.StateConnected)
		m.binder.HandleTrackSubscribed(ctx, t, p)
	})
	room.OnTrackUnsubscribed(func(t core.RemoteTrack, p core.Participant) {
		m.binder.HandleTrackUnsubscribed(t, p)
	})
	room.OnParticipantConnected(func(p core.Participant) {
		m.log.Info().Str("identity", p.Identity()).Msg("participant connected")
		m.onStateHint(domain.StateConnected)
		for _, t := range p.Tracks() {
			m.binder.HandleTrackSubscribed(ctx, t, p)
		}
	})
	room.OnDisconnected(func() {
		m.log.Info().Msg("room disconnected")
		m.onStateHint(domain.StateIdle)
	})
	room.OnConnectionStateChanged(func(s core.ConnectionState) {
		m.log.Debug().Str("state", string(s)).Msg("connection state changed")
		if s == core.ConnectionStateDisconnected {
			m.onStateHint(domain.StateIdle)
		}
	})
	room.OnDataReceived(m.arbiter.HandleSignal)
	room.OnActiveSpeakersChanged(func(identities []string) {
		m.arbiter.HandleActiveSpeakers(identities, room.LocalIdentity())
	})

	if err := room.Connect(ctx, creds.TransportURL, creds.TransportToken); err != nil {
		room.Disconnect()
		return false, &domain.ConnectError{Err: err}
	}

	// Avatar goes first: mic starts disabled regardless of turn state.
	if err := room.SetMicrophoneEnabled(false); err != nil {
		m.log.Error().Err(err).Msg("initial mute failed")
	}
	m.arbiter.Reset()

	m.mu.Lock()
	m.room = room
	m.mu.Unlock()

	// The avatar can join before our listeners were registered; replay
	// subscription handling for anything already present.
	participants := room.Participants()
	for _, p := range participants {
		for _, t := range p.Tracks() {
			m.log.Info().Str("identity", p.Identity()).Str("track_id", t.ID()).Msg("replaying pre-joined track")
			m.binder.HandleTrackSubscribed(ctx, t, p)
		}
	}
	return len(participants) > 0, nil
}

// Disconnect drops the transport connection, ignoring errors. Safe to
// call with no active connection.
func (m *MediaSession) Disconnect() {
	m.mu.Lock()
	room := m.room
	m.room = nil
	m.mu.Unlock()
	if room != nil {
		room.Disconnect()
	}
}

// SetMicrophoneEnabled is the single entry point for microphone
// mutations. Commands without an active connection are rejected.
func (m *MediaSession) SetMicrophoneEnabled(enabled bool) error {
	m.mu.Lock()
	room := m.room
	m.mu.Unlock()
	if room == nil {
		return domain.ErrNoConnection
	}
	return room.SetMicrophoneEnabled(enabled)
}
