// Package rtc implements the media transport port on pion/webrtc with a
// websocket signaling channel to the SFU.
package rtc

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goodwinteam/avatarcall/internal/core"
	"github.com/goodwinteam/avatarcall/internal/domain"
)

// Options tune the transport connection. Adaptive streaming and dynacast
// are requested in the join message; the SFU decides whether to honor
// them.
type Options struct {
	AdaptiveStream bool
	Dynacast       bool
	ICEServers     []webrtc.ICEServer
}

// DefaultOptions enables adaptive quality and selective forwarding.
func DefaultOptions() Options {
	return Options{AdaptiveStream: true, Dynacast: true}
}

// Factory builds one Room per call attempt.
type Factory struct {
	Opts Options
}

func (f *Factory) NewRoom() (core.Room, error) {
	return newRoom(f.Opts), nil
}

type remoteTrack struct {
	t *webrtc.TrackRemote
}

func (r *remoteTrack) ID() string { return r.t.ID() }

func (r *remoteTrack) Kind() domain.TrackKind {
	if r.t.Kind() == webrtc.RTPCodecTypeVideo {
		return domain.TrackKindVideo
	}
	return domain.TrackKindAudio
}

func (r *remoteTrack) Codec() webrtc.RTPCodecParameters { return r.t.Codec() }

func (r *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.t.ReadRTP()
	return pkt, err
}

type participant struct {
	identity string

	mu     sync.Mutex
	tracks map[string]*remoteTrack
}

func (p *participant) Identity() string { return p.identity }

func (p *participant) Tracks() []core.RemoteTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.RemoteTrack, 0, len(p.tracks))
	for _, t := range p.tracks {
		out = append(out, t)
	}
	return out
}

type room struct {
	opts Options

	mu            sync.Mutex
	ws            *wsConn
	pc            *peerConnection
	localIdentity string
	participants  map[string]*participant
	micEnabled    bool
	connected     bool
	closeOnce     sync.Once
	cancel        context.CancelFunc

	joined           chan struct{}
	answered         chan struct{}
	joinOnce         sync.Once
	answerOnce       sync.Once
	disconnectNotify sync.Once

	onTrackSub    func(core.RemoteTrack, core.Participant)
	onTrackUnsub  func(core.RemoteTrack, core.Participant)
	onParticipant func(core.Participant)
	onDisconnect  func()
	onConnState   func(core.ConnectionState)
	onData        func([]byte)
	onSpeakers    func([]string)

	log zerolog.Logger
}

func newRoom(opts Options) *room {
	return &room{
		opts:         opts,
		participants: make(map[string]*participant),
		joined:       make(chan struct{}),
		answered:     make(chan struct{}),
		log:          log.With().Str("module", "adapters.rtc").Logger(),
	}
}

func (r *room) OnTrackSubscribed(fn func(core.RemoteTrack, core.Participant))   { r.onTrackSub = fn }
func (r *room) OnTrackUnsubscribed(fn func(core.RemoteTrack, core.Participant)) { r.onTrackUnsub = fn }
func (r *room) OnParticipantConnected(fn func(core.Participant))                { r.onParticipant = fn }
func (r *room) OnDisconnected(fn func())                                        { r.onDisconnect = fn }
func (r *room) OnConnectionStateChanged(fn func(core.ConnectionState))          { r.onConnState = fn }
func (r *room) OnDataReceived(fn func([]byte))                                  { r.onData = fn }
func (r *room) OnActiveSpeakersChanged(fn func([]string))                       { r.onSpeakers = fn }

func (r *room) LocalIdentity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localIdentity
}

func (r *room) Participants() []core.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// Connect dials the signaling websocket, joins with the transport token,
// and completes the offer/answer exchange. It blocks until the SFU
// acknowledged both or ctx is done.
func (r *room) Connect(ctx context.Context, rawURL, token string) error {
	wsURL, err := signalingURL(rawURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial signaling: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())

	cfg := defaultWebRTCConfig()
	if len(r.opts.ICEServers) > 0 {
		cfg.ICEServers = r.opts.ICEServers
	}
	pc, err := newPeerConnection(cfg)
	if err != nil {
		cancel()
		_ = conn.Close()
		return err
	}

	ws := newWSConn(conn)

	r.mu.Lock()
	r.ws = ws
	r.pc = pc
	r.cancel = cancel
	r.mu.Unlock()

	pc.onICE = func(ci webrtc.ICECandidateInit) {
		env := envelope{Type: "candidate", Candidate: ci.Candidate}
		if ci.SDPMid != nil {
			env.SDPMid = *ci.SDPMid
		}
		if ci.SDPMLineIndex != nil {
			env.SDPMLineIndex = *ci.SDPMLineIndex
		}
		if err := ws.sendJSON(env); err != nil {
			r.log.Warn().Err(err).Msg("candidate send failed")
		}
	}
	pc.onTrack = r.handleRemoteTrack
	pc.onData = func(payload []byte) {
		if r.onData != nil {
			r.onData(payload)
		}
	}
	pc.onState = func(s webrtc.PeerConnectionState) {
		if r.onConnState == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			r.onConnState(core.ConnectionStateConnected)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			r.onConnState(core.ConnectionStateDisconnected)
		default:
			r.onConnState(core.ConnectionStateConnecting)
		}
	}
	pc.onClosed = r.fireDisconnected

	if err := pc.start(pumpCtx); err != nil {
		r.Disconnect()
		return err
	}

	go ws.writePump(pumpCtx)
	go ws.readPump(pumpCtx, r.handleSignal, r.fireDisconnected)

	if err := ws.sendJSON(envelope{
		Type:           "join",
		Token:          token,
		AdaptiveStream: r.opts.AdaptiveStream,
		Dynacast:       r.opts.Dynacast,
	}); err != nil {
		r.Disconnect()
		return err
	}

	select {
	case <-r.joined:
	case <-ctx.Done():
		r.Disconnect()
		return ctx.Err()
	}

	offer, err := pc.createOffer()
	if err != nil {
		r.Disconnect()
		return err
	}
	if err := ws.sendJSON(envelope{Type: "offer", SDP: offer.SDP}); err != nil {
		r.Disconnect()
		return err
	}

	select {
	case <-r.answered:
	case <-ctx.Done():
		r.Disconnect()
		return ctx.Err()
	}

	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	r.log.Info().Str("identity", r.LocalIdentity()).Msg("transport connected")
	return nil
}

// Disconnect tears down signaling and the peer connection. Idempotent.
func (r *room) Disconnect() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		ws, pc, cancel := r.ws, r.pc, r.cancel
		r.connected = false
		r.mu.Unlock()

		if ws != nil {
			_ = ws.sendJSON(envelope{Type: "leave"})
			ws.close()
		}
		if pc != nil {
			pc.close()
		}
		if cancel != nil {
			cancel()
		}
		r.fireDisconnected()
	})
}

// SetMicrophoneEnabled gates transmitted audio. The SFU stops forwarding
// the upstream track while muted.
func (r *room) SetMicrophoneEnabled(enabled bool) error {
	r.mu.Lock()
	ws := r.ws
	if ws == nil {
		r.mu.Unlock()
		return domain.ErrNoConnection
	}
	r.micEnabled = enabled
	r.mu.Unlock()
	return ws.sendJSON(envelope{Type: "mute", Muted: !enabled})
}

func (r *room) handleRemoteTrack(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	identity := t.StreamID()
	wrapped := &remoteTrack{t: t}

	r.mu.Lock()
	p, ok := r.participants[identity]
	if !ok {
		p = &participant{identity: identity, tracks: make(map[string]*remoteTrack)}
		r.participants[identity] = p
	}
	r.mu.Unlock()

	p.mu.Lock()
	p.tracks[t.ID()] = wrapped
	p.mu.Unlock()

	if r.onTrackSub != nil {
		r.onTrackSub(wrapped, p)
	}
}

func (r *room) handleSignal(env envelope) {
	switch env.Type {
	case "joined":
		r.mu.Lock()
		r.localIdentity = env.Identity
		for _, identity := range env.Participants {
			if _, ok := r.participants[identity]; !ok {
				r.participants[identity] = &participant{identity: identity, tracks: make(map[string]*remoteTrack)}
			}
		}
		r.mu.Unlock()
		r.joinOnce.Do(func() { close(r.joined) })
	case "answer":
		if err := r.pcRef().applyAnswer(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  env.SDP,
		}); err != nil {
			r.log.Error().Err(err).Msg("apply answer")
			return
		}
		r.answerOnce.Do(func() { close(r.answered) })
	case "candidate":
		cand := webrtc.ICECandidateInit{Candidate: env.Candidate}
		if env.SDPMid != "" {
			mid := env.SDPMid
			cand.SDPMid = &mid
		}
		idx := env.SDPMLineIndex
		cand.SDPMLineIndex = &idx
		if err := r.pcRef().addICECandidate(cand); err != nil {
			r.log.Error().Err(err).Msg("add ice candidate")
		}
	case "participant_joined":
		r.mu.Lock()
		p, ok := r.participants[env.Identity]
		if !ok {
			p = &participant{identity: env.Identity, tracks: make(map[string]*remoteTrack)}
			r.participants[env.Identity] = p
		}
		r.mu.Unlock()
		if r.onParticipant != nil {
			r.onParticipant(p)
		}
	case "track_removed":
		r.mu.Lock()
		p, ok := r.participants[env.Identity]
		r.mu.Unlock()
		if !ok {
			return
		}
		p.mu.Lock()
		t, ok := p.tracks[env.TrackID]
		if ok {
			delete(p.tracks, env.TrackID)
		}
		p.mu.Unlock()
		if ok && r.onTrackUnsub != nil {
			r.onTrackUnsub(t, p)
		}
	case "speakers":
		if r.onSpeakers != nil {
			r.onSpeakers(env.Identities)
		}
	case "bye":
		r.Disconnect()
	default:
		r.log.Warn().Str("type", env.Type).Msg("unknown signal")
	}
}

func (r *room) pcRef() *peerConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pc
}

func (r *room) fireDisconnected() {
	r.disconnectNotify.Do(func() {
		if r.onDisconnect != nil {
			r.onDisconnect()
		}
	})
}

// signalingURL normalizes an http(s) transport URL to ws(s) and appends
// the signaling path.
func signalingURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse transport url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported transport scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/rtc"
	}
	return u.String(), nil
}
