package core

import (
	"context"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/goodwinteam/avatarcall/internal/domain"
)

// ConnectionState is the coarse transport connection state re-exposed to
// the session layer.
type ConnectionState string

const (
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
)

// RemoteTrack is one inbound media track as seen by the sink layer.
type RemoteTrack interface {
	ID() string
	Kind() domain.TrackKind
	Codec() webrtc.RTPCodecParameters
	// ReadRTP blocks until the next packet or a terminal error after
	// detach/teardown.
	ReadRTP() (*rtp.Packet, error)
}

// Participant is a read-only view of a remote participant and its
// currently subscribed tracks.
type Participant interface {
	Identity() string
	Tracks() []RemoteTrack
}

// Room abstracts the real-time media transport for one call. Callbacks
// must be registered before Connect; the adapter may invoke them from its
// own goroutines.
type Room interface {
	// Connect establishes the transport connection and blocks until the
	// join is acknowledged or ctx is done.
	Connect(ctx context.Context, url, token string) error
	// Disconnect tears the connection down. Safe to call repeatedly.
	Disconnect()
	// SetMicrophoneEnabled commands the transmitted-audio state. The room
	// is the single owner of that flag.
	SetMicrophoneEnabled(enabled bool) error

	LocalIdentity() string
	// Participants snapshots remote participants already present. Needed
	// because the avatar can join before listener registration completes.
	Participants() []Participant

	OnTrackSubscribed(func(t RemoteTrack, p Participant))
	OnTrackUnsubscribed(func(t RemoteTrack, p Participant))
	OnParticipantConnected(func(p Participant))
	OnDisconnected(func())
	OnConnectionStateChanged(func(s ConnectionState))
	// OnDataReceived delivers raw UTF-8 JSON payloads from the avatar.
	OnDataReceived(func(payload []byte))
	// OnActiveSpeakersChanged delivers the identities currently producing
	// audible energy, recomputed by the transport.
	OnActiveSpeakersChanged(func(identities []string))
}

// RoomFactory builds a fresh Room per call attempt. Rooms are never
// reused across calls.
type RoomFactory interface {
	NewRoom() (Room, error)
}
