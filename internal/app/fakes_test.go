package app

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/goodwinteam/avatarcall/internal/core"
	"github.com/goodwinteam/avatarcall/internal/domain"
)

// --- track / participant fakes ---

type fakeTrack struct {
	id   string
	kind domain.TrackKind
}

func (t *fakeTrack) ID() string                        { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind            { return t.kind }
func (t *fakeTrack) Codec() webrtc.RTPCodecParameters  { return webrtc.RTPCodecParameters{} }
func (t *fakeTrack) ReadRTP() (*rtp.Packet, error)     { return nil, io.EOF }

type fakeParticipant struct {
	identity string
	tracks   []core.RemoteTrack
}

func (p *fakeParticipant) Identity() string            { return p.identity }
func (p *fakeParticipant) Tracks() []core.RemoteTrack  { return p.tracks }

// --- sink fakes ---

type fakeSink struct {
	mu       sync.Mutex
	attached core.RemoteTrack
	playErr  error
	plays    int
	closed   bool
}

func (s *fakeSink) Attach(t core.RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = t
}

func (s *fakeSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = nil
}

func (s *fakeSink) Play(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	return s.playErr
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) track() core.RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *fakeSink) playCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeSinkFactory struct {
	mu        sync.Mutex
	video     *fakeSink
	audio     map[domain.SinkKey]*fakeSink
	createErr error
	// audioPlayErr is copied into every new audio sink.
	audioPlayErr error
}

func newFakeSinkFactory() *fakeSinkFactory {
	return &fakeSinkFactory{
		video: &fakeSink{},
		audio: make(map[domain.SinkKey]*fakeSink),
	}
}

func (f *fakeSinkFactory) VideoSurface() core.Sink { return f.video }

func (f *fakeSinkFactory) NewAudioSink(key domain.SinkKey) (core.Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	s := &fakeSink{playErr: f.audioPlayErr}
	f.audio[key] = s
	return s, nil
}

func (f *fakeSinkFactory) audioSink(key domain.SinkKey) *fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audio[key]
}

// --- room fakes ---

type fakeRoom struct {
	mu sync.Mutex

	connectErr    error
	connected     bool
	disconnects   int
	micCommands   []bool
	micErr        error
	localIdentity string
	participants  []core.Participant

	onTrackSubscribed   func(core.RemoteTrack, core.Participant)
	onTrackUnsubscribed func(core.RemoteTrack, core.Participant)
	onParticipant       func(core.Participant)
	onDisconnected      func()
	onConnState         func(core.ConnectionState)
	onData              func([]byte)
	onSpeakers          func([]string)
}

func (r *fakeRoom) Connect(_ context.Context, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectErr != nil {
		return r.connectErr
	}
	r.connected = true
	return nil
}

func (r *fakeRoom) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
	r.disconnects++
}

func (r *fakeRoom) SetMicrophoneEnabled(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.micErr != nil {
		return r.micErr
	}
	r.micCommands = append(r.micCommands, enabled)
	return nil
}

func (r *fakeRoom) LocalIdentity() string { return r.localIdentity }

func (r *fakeRoom) Participants() []core.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participants
}

func (r *fakeRoom) OnTrackSubscribed(fn func(core.RemoteTrack, core.Participant)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTrackSubscribed = fn
}

func (r *fakeRoom) OnTrackUnsubscribed(fn func(core.RemoteTrack, core.Participant)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTrackUnsubscribed = fn
}

func (r *fakeRoom) OnParticipantConnected(fn func(core.Participant)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onParticipant = fn
}

func (r *fakeRoom) OnDisconnected(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnected = fn
}

func (r *fakeRoom) OnConnectionStateChanged(fn func(core.ConnectionState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnState = fn
}

func (r *fakeRoom) OnDataReceived(fn func([]byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onData = fn
}

func (r *fakeRoom) OnActiveSpeakersChanged(fn func([]string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSpeakers = fn
}

func (r *fakeRoom) fireTrackSubscribed(t core.RemoteTrack, p core.Participant) {
	r.mu.Lock()
	fn := r.onTrackSubscribed
	r.mu.Unlock()
	if fn != nil {
		fn(t, p)
	}
}

func (r *fakeRoom) fireTrackUnsubscribed(t core.RemoteTrack, p core.Participant) {
	r.mu.Lock()
	fn := r.onTrackUnsubscribed
	r.mu.Unlock()
	if fn != nil {
		fn(t, p)
	}
}

func (r *fakeRoom) fireDisconnected() {
	r.mu.Lock()
	fn := r.onDisconnected
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *fakeRoom) fireData(payload []byte) {
	r.mu.Lock()
	fn := r.onData
	r.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func (r *fakeRoom) fireSpeakers(ids []string) {
	r.mu.Lock()
	fn := r.onSpeakers
	r.mu.Unlock()
	if fn != nil {
		fn(ids)
	}
}

func (r *fakeRoom) micHistory() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.micCommands...)
}

func (r *fakeRoom) disconnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects
}

type fakeRoomFactory struct {
	mu     sync.Mutex
	room   *fakeRoom
	err    error
	builds int
}

func (f *fakeRoomFactory) NewRoom() (core.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.builds++
	if f.room == nil {
		f.room = &fakeRoom{localIdentity: "local"}
	}
	return f.room, nil
}

// --- control fakes ---

type fakeControl struct {
	mu sync.Mutex

	tokenErr error
	startErr error
	stopErr  error

	sessionID    string
	sessionToken string
	startResult  core.StartResult

	tokenCalls  int
	startCalls  int
	stopCalls   int
	createCalls int
	endCalls    int

	lastDuration time.Duration
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		sessionID:    "sess-1",
		sessionToken: "tok-1",
		startResult:  core.StartResult{TransportURL: "wss://media.example", TransportToken: "jwt"},
	}
}

func (c *fakeControl) Token(_ context.Context, _, _ string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenCalls++
	if c.tokenErr != nil {
		return "", "", c.tokenErr
	}
	return c.sessionID, c.sessionToken, nil
}

func (c *fakeControl) Start(_ context.Context, _ string) (core.StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startCalls++
	if c.startErr != nil {
		return core.StartResult{}, c.startErr
	}
	return c.startResult, nil
}

func (c *fakeControl) Stop(_ context.Context, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCalls++
	return c.stopErr
}

func (c *fakeControl) CreateRecord(_ context.Context, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	return nil
}

func (c *fakeControl) EndRecord(_ context.Context, _ string, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endCalls++
	c.lastDuration = d
	return nil
}

func (c *fakeControl) counts() (token, start, stop, create, end int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenCalls, c.startCalls, c.stopCalls, c.createCalls, c.endCalls
}

var (
	_ core.Room           = (*fakeRoom)(nil)
	_ core.RoomFactory    = (*fakeRoomFactory)(nil)
	_ core.Sink           = (*fakeSink)(nil)
	_ core.SinkFactory    = (*fakeSinkFactory)(nil)
	_ core.SessionControl = (*fakeControl)(nil)
	_ core.RemoteTrack    = (*fakeTrack)(nil)
	_ core.Participant    = (*fakeParticipant)(nil)
)
