// Package sink renders inbound tracks to media files: IVF for the video
// surface, one OGG file per audio track.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goodwinteam/avatarcall/internal/core"
	"github.com/goodwinteam/avatarcall/internal/domain"
)

// rtpWriter is what both pion media writers expose.
type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// Factory creates file-backed sinks under a media directory.
type Factory struct {
	dir string

	mu    sync.Mutex
	video *fileSink

	log zerolog.Logger
}

func NewFactory(dir string) *Factory {
	return &Factory{
		dir: dir,
		log: log.With().Str("module", "adapters.sink").Logger(),
	}
}

// VideoSurface returns the single shared video sink.
func (f *Factory) VideoSurface() core.Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.video == nil {
		f.video = &fileSink{
			kind: domain.TrackKindVideo,
			path: filepath.Join(f.dir, "avatar.ivf"),
			log:  f.log.With().Str("sink", "video").Logger(),
		}
	}
	return f.video
}

func (f *Factory) NewAudioSink(key domain.SinkKey) (core.Sink, error) {
	name := fmt.Sprintf("%s-%s.ogg", sanitize(string(key)), uuid.NewString()[:8])
	return &fileSink{
		kind: domain.TrackKindAudio,
		path: filepath.Join(f.dir, name),
		log:  f.log.With().Str("sink", string(key)).Logger(),
	}, nil
}

// fileSink drains one track into a media file. Attach replaces any prior
// binding; Play starts the drain goroutine and never blocks on media.
type fileSink struct {
	kind domain.TrackKind
	path string

	mu      sync.Mutex
	track   core.RemoteTrack
	writer  rtpWriter
	cancel  context.CancelFunc
	playing bool

	log zerolog.Logger
}

func (s *fileSink) Attach(t core.RemoteTrack) {
	s.mu.Lock()
	s.stopLocked()
	s.track = t
	s.mu.Unlock()
	s.log.Debug().Str("track_id", t.ID()).Msg("track attached")
}

func (s *fileSink) Detach() {
	s.mu.Lock()
	s.stopLocked()
	s.track = nil
	s.mu.Unlock()
}

// Play opens the writer and starts the drain loop. An unwritable media
// directory maps to the playback-blocked condition so the caller can
// prompt for a retry instead of failing the call.
func (s *fileSink) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track == nil {
		return fmt.Errorf("no track attached")
	}
	if s.playing {
		return nil
	}

	writer, err := s.openWriter()
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("writer open failed")
		return fmt.Errorf("%w: %v", domain.ErrPlaybackBlocked, err)
	}

	drainCtx, cancel := context.WithCancel(context.Background())
	s.writer = writer
	s.cancel = cancel
	s.playing = true

	go s.drain(drainCtx, s.track, writer)
	return nil
}

func (s *fileSink) Close() {
	s.mu.Lock()
	s.stopLocked()
	s.track = nil
	s.mu.Unlock()
}

// drain reads RTP from the track and forwards it to the writer until the
// track ends or the sink stops.
func (s *fileSink) drain(ctx context.Context, track core.RemoteTrack, writer rtpWriter) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, err := track.ReadRTP()
		if err != nil {
			s.log.Debug().Err(err).Msg("drain read ended")
			return
		}
		if err := writer.WriteRTP(pkt); err != nil {
			s.log.Error().Err(err).Msg("drain write error, stopping")
			return
		}
	}
}

// stopLocked cancels the drain and closes the writer. Caller holds s.mu.
func (s *fileSink) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			s.log.Error().Err(err).Msg("writer close error")
		}
		s.writer = nil
	}
	s.playing = false
}

func (s *fileSink) openWriter() (rtpWriter, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, err
	}
	if s.kind == domain.TrackKindVideo {
		return ivfwriter.New(s.path)
	}

	sampleRate := uint32(48000)
	channels := uint16(2)
	if s.track != nil {
		codec := s.track.Codec()
		if codec.ClockRate > 0 {
			sampleRate = codec.ClockRate
		}
		if codec.Channels > 0 {
			channels = codec.Channels
		}
	}
	return oggwriter.New(s.path, sampleRate, channels)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// compile-time port checks
var (
	_ core.SinkFactory = (*Factory)(nil)
	_ core.Sink        = (*fileSink)(nil)
	_ rtpWriter        = (*oggwriter.OggWriter)(nil)
	_ rtpWriter        = (*ivfwriter.IVFWriter)(nil)
)
