package core

import (
	"context"

	"github.com/goodwinteam/avatarcall/internal/domain"
)

// Sink is a renderable endpoint for one inbound track.
// Owned by the binder; the binder must Close() audio sinks it creates.
type Sink interface {
	// Attach binds a track to the sink. Re-attachment replaces the prior
	// binding.
	Attach(t RemoteTrack)
	Detach()
	// Play starts rendering. It must not block; a playback-permission
	// failure is reported as domain.ErrPlaybackBlocked.
	Play(ctx context.Context) error
	Close()
}

// SinkFactory creates sinks for the binder.
type SinkFactory interface {
	// VideoSurface returns the single shared video surface.
	VideoSurface() Sink
	NewAudioSink(key domain.SinkKey) (Sink, error)
}
