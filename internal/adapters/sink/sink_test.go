package sink

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/goodwinteam/avatarcall/internal/domain"
)

// eofTrack ends immediately; drain goroutines exit on first read.
type eofTrack struct {
	id   string
	kind domain.TrackKind
}

func (t *eofTrack) ID() string                       { return t.id }
func (t *eofTrack) Kind() domain.TrackKind           { return t.kind }
func (t *eofTrack) Codec() webrtc.RTPCodecParameters { return webrtc.RTPCodecParameters{} }
func (t *eofTrack) ReadRTP() (*rtp.Packet, error)    { return nil, io.EOF }

func TestVideoSurfaceIsSingleton(t *testing.T) {
	f := NewFactory(t.TempDir())
	require.Same(t, f.VideoSurface(), f.VideoSurface())
}

func TestAudioSinkNaming(t *testing.T) {
	f := NewFactory(t.TempDir())

	s, err := f.NewAudioSink(domain.NewSinkKey("avatar", "TR_a/b"))
	require.NoError(t, err)
	fs := s.(*fileSink)

	base := filepath.Base(fs.path)
	require.True(t, strings.HasPrefix(base, "avatar-TR_a_b-"), "got %q", base)
	require.True(t, strings.HasSuffix(base, ".ogg"))

	// each sink gets a distinct file even for the same key
	s2, err := f.NewAudioSink(domain.NewSinkKey("avatar", "TR_a/b"))
	require.NoError(t, err)
	require.NotEqual(t, fs.path, s2.(*fileSink).path)
}

func TestPlayWithoutTrack(t *testing.T) {
	f := NewFactory(t.TempDir())
	s, err := f.NewAudioSink("k")
	require.NoError(t, err)
	require.Error(t, s.Play(context.Background()))
}

func TestAudioPlayWritesFile(t *testing.T) {
	dir := t.TempDir()
	f := NewFactory(dir)
	s, err := f.NewAudioSink("avatar-a1")
	require.NoError(t, err)

	s.Attach(&eofTrack{id: "a1", kind: domain.TrackKindAudio})
	require.NoError(t, s.Play(context.Background()))
	// Play while playing is a no-op
	require.NoError(t, s.Play(context.Background()))
	s.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasSuffix(entries[0].Name(), ".ogg"))
}

func TestVideoPlayWritesFile(t *testing.T) {
	dir := t.TempDir()
	f := NewFactory(dir)
	s := f.VideoSurface()

	s.Attach(&eofTrack{id: "v1", kind: domain.TrackKindVideo})
	require.NoError(t, s.Play(context.Background()))
	s.Detach()

	_, err := os.Stat(filepath.Join(dir, "avatar.ivf"))
	require.NoError(t, err)
}

// An unwritable media directory must surface as the playback-blocked
// condition, not a hard failure.
func TestPlayBlockedOnUnwritableDir(t *testing.T) {
	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	f := NewFactory(filepath.Join(blocker, "media"))
	s, err := f.NewAudioSink("k")
	require.NoError(t, err)
	s.Attach(&eofTrack{id: "a1", kind: domain.TrackKindAudio})

	err = s.Play(context.Background())
	require.ErrorIs(t, err, domain.ErrPlaybackBlocked)
}

func TestReattachReplacesBinding(t *testing.T) {
	f := NewFactory(t.TempDir())
	s, err := f.NewAudioSink("k")
	require.NoError(t, err)

	first := &eofTrack{id: "a1", kind: domain.TrackKindAudio}
	second := &eofTrack{id: "a2", kind: domain.TrackKindAudio}

	s.Attach(first)
	require.NoError(t, s.Play(context.Background()))
	s.Attach(second)

	fs := s.(*fileSink)
	fs.mu.Lock()
	require.False(t, fs.playing)
	require.Same(t, second, fs.track)
	fs.mu.Unlock()

	// a fresh Play picks up the new binding
	require.NoError(t, s.Play(context.Background()))
	s.Close()
}

func TestSanitize(t *testing.T) {
	require.Equal(t, "avatar-TR_123", sanitize("avatar-TR_123"))
	require.Equal(t, "a_b_c_d", sanitize("a/b c:d"))
}
