package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goodwinteam/avatarcall/internal/core"
	"github.com/goodwinteam/avatarcall/internal/domain"
)

// SinkBinder binds inbound tracks to renderable sinks: one shared video
// surface plus one pooled audio sink per distinct inbound audio track.
// The registry holds exactly the currently-subscribed audio tracks.
type SinkBinder struct {
	mu      sync.Mutex
	sinks   map[domain.SinkKey]core.Sink
	factory core.SinkFactory

	// locked mirrors the host environment refusing playback; cleared only
	// by a successful unlock or teardown.
	locked   bool
	unlocked bool
	onAudio  func(locked, unlocked bool)

	log zerolog.Logger
}

func NewSinkBinder(factory core.SinkFactory, onAudio func(locked, unlocked bool)) *SinkBinder {
	if onAudio == nil {
		onAudio = func(bool, bool) {}
	}
	return &SinkBinder{
		sinks:   make(map[domain.SinkKey]core.Sink),
		factory: factory,
		onAudio: onAudio,
		log:     log.With().Str("module", "app.binder").Logger(),
	}
}

// HandleTrackSubscribed attaches a track to its sink, creating an audio
// sink on first subscription.
func (b *SinkBinder) HandleTrackSubscribed(ctx context.Context, t core.RemoteTrack, p core.Participant) {
	switch t.Kind() {
	case domain.TrackKindVideo:
		surface := b.factory.VideoSurface()
		surface.Attach(t)
		if err := surface.Play(ctx); err != nil {
			b.log.Error().Err(err).Str("track_id", t.ID()).Msg("video playback failed")
		}
		b.log.Info().Str("identity", p.Identity()).Str("track_id", t.ID()).Msg("video track attached")
	case domain.TrackKindAudio:
		key := domain.NewSinkKey(p.Identity(), t.ID())
		b.mu.Lock()
		sink, ok := b.sinks[key]
		if !ok {
			var err error
			sink, err = b.factory.NewAudioSink(key)
			if err != nil {
				b.mu.Unlock()
				b.log.Error().Err(err).Str("key", string(key)).Msg("audio sink create failed")
				return
			}
			b.sinks[key] = sink
			b.log.Info().Str("key", string(key)).Msg("created audio sink")
		}
		b.mu.Unlock()

		sink.Attach(t)
		b.play(ctx, key, sink)
	}
}

// HandleTrackUnsubscribed detaches the track and destroys audio sinks.
// The video surface stays; the next subscription overwrites it.
func (b *SinkBinder) HandleTrackUnsubscribed(t core.RemoteTrack, p core.Participant) {
	switch t.Kind() {
	case domain.TrackKindVideo:
		b.factory.VideoSurface().Detach()
	case domain.TrackKindAudio:
		key := domain.NewSinkKey(p.Identity(), t.ID())
		b.mu.Lock()
		sink, ok := b.sinks[key]
		if ok {
			delete(b.sinks, key)
		}
		b.mu.Unlock()
		if ok {
			sink.Close()
			b.log.Info().Str("key", string(key)).Msg("removed audio sink")
		}
	}
}

// UnlockAll retries playback on every registered sink after a user
// gesture. The locked flag clears only if every sink starts.
func (b *SinkBinder) UnlockAll(ctx context.Context) {
	b.mu.Lock()
	pending := make([]core.Sink, 0, len(b.sinks))
	for _, s := range b.sinks {
		pending = append(pending, s)
	}
	b.mu.Unlock()

	if len(pending) == 0 {
		b.log.Debug().Msg("no audio sinks to unlock")
		return
	}

	failed := false
	for _, s := range pending {
		if err := s.Play(ctx); err != nil {
			failed = true
			b.log.Error().Err(err).Msg("unlock playback failed")
		}
	}

	b.mu.Lock()
	b.locked = failed
	if !failed {
		b.unlocked = true
	}
	locked, unlocked := b.locked, b.unlocked
	b.mu.Unlock()
	b.onAudio(locked, unlocked)
}

// CloseAll unconditionally destroys every sink and clears the registry.
// Called on stopSession; safe to call with no pending session.
func (b *SinkBinder) CloseAll() {
	b.mu.Lock()
	sinks := b.sinks
	b.sinks = make(map[domain.SinkKey]core.Sink)
	b.locked = false
	b.unlocked = false
	b.mu.Unlock()

	for key, s := range sinks {
		s.Close()
		b.log.Debug().Str("key", string(key)).Msg("closed audio sink")
	}
	b.factory.VideoSurface().Detach()
}

// SinkCount reports the registry size.
func (b *SinkBinder) SinkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sinks)
}

// AudioLocked reports whether a sink is waiting for a manual unlock.
func (b *SinkBinder) AudioLocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// AudioUnlocked reports whether playback has succeeded at least once.
func (b *SinkBinder) AudioUnlocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unlocked
}

func (b *SinkBinder) play(ctx context.Context, key domain.SinkKey, sink core.Sink) {
	err := sink.Play(ctx)
	switch {
	case err == nil:
		b.mu.Lock()
		b.unlocked = true
		locked, unlocked := b.locked, b.unlocked
		b.mu.Unlock()
		b.log.Debug().Str("key", string(key)).Msg("audio playback started")
		b.onAudio(locked, unlocked)
	case errors.Is(err, domain.ErrPlaybackBlocked):
		b.mu.Lock()
		b.locked = true
		locked, unlocked := b.locked, b.unlocked
		b.mu.Unlock()
		b.log.Warn().Str("key", string(key)).Msg("audio playback blocked, prompting unlock")
		b.onAudio(locked, unlocked)
	default:
		b.log.Error().Err(err).Str("key", string(key)).Msg("audio playback failed")
	}
}
