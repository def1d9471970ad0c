// Package rtc carries a voice conversation over a WebRTC peer connection: the
// caller's microphone arrives as an Opus track, replies leave on an Opus track,
// and control messages use the "control" data channel.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/chadiek/voiceloop/internal/audio"
	"github.com/chadiek/voiceloop/internal/protocol"
	"github.com/chadiek/voiceloop/internal/turn"
)

// ErrNoControlChannel is returned by Send before the client opened the data channel.
var ErrNoControlChannel = errors.New("rtc: control channel not open")

// SessionDescription is a small DTO to avoid exposing webrtc types in transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Peer is one WebRTC call.
type Peer struct {
	log    zerolog.Logger
	pc     *webrtc.PeerConnection
	out    *OpusPacedWriter
	device *Device
	player *Player

	inbox     chan protocol.Envelope
	closed    chan struct{}
	closeOnce sync.Once

	mu sync.Mutex
	dc *webrtc.DataChannel
}

// NewPeer prepares a peer connection with codecs, interceptors and an outbound
// Opus track.
func NewPeer(iceServersJSON string, logger zerolog.Logger) (*Peer, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: ParseICEServers(iceServersJSON)})
	if err != nil {
		return nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"assistant-audio", "assistant",
	)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, err
	}
	out, err := NewOpusPacedWriter(outTrack)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("rtc: opus encoder: %w", err)
	}

	p := &Peer{
		log:    logger,
		pc:     pc,
		out:    out,
		device: &Device{},
		player: newPlayer(out),
		inbox:  make(chan protocol.Envelope, 16),
		closed: make(chan struct{}),
	}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug().Str("state", state.String()).Msg("rtc: peer connection state")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			p.Close()
		}
	})
	pc.OnDataChannel(p.onDataChannel)
	pc.OnTrack(p.onTrack)
	return p, nil
}

func (p *Peer) Device() *Device { return p.device }

func (p *Peer) Player() *Player { return p.player }

// Answer applies the client's offer and returns the answer once ICE gathering
// completes.
func (p *Peer) Answer(offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return SessionDescription{}, err
	}
	<-gatherComplete
	local := p.pc.LocalDescription()
	if local == nil {
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// Send writes one control message on the data channel.
func (p *Peer) Send(e protocol.Envelope) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil {
		return ErrNoControlChannel
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return dc.SendText(string(b))
}

// Run dispatches control messages and relays controller events until the call
// ends or ctx is cancelled.
func (p *Peer) Run(ctx context.Context, ctl protocol.Controller, events <-chan turn.Event) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer p.Close()

	go protocol.Relay(ctx, events, p.Send, p.log)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.closed:
			return nil
		case e := <-p.inbox:
			if err := protocol.Dispatch(ctx, ctl, e, p.Send); err != nil {
				p.log.Debug().Err(err).Msg("rtc: ignored message")
			}
		}
	}
}

// Close tears the call down. Idempotent.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.player.Close()
		p.device.Close()
		p.out.Close()
		_ = p.pc.Close()
	})
}

func (p *Peer) onDataChannel(dc *webrtc.DataChannel) {
	if dc.Label() != "control" {
		return
	}
	p.log.Debug().Msg("rtc: control channel opened")
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			return
		}
		e, err := protocol.Decode(msg.Data)
		if err != nil {
			p.log.Debug().Err(err).Msg("rtc: bad control frame")
			return
		}
		select {
		case p.inbox <- e:
		default:
			p.log.Warn().Str("type", e.Type).Msg("rtc: control backlog full, dropping message")
		}
	})
}

func (p *Peer) onTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if remote.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	p.log.Debug().Str("codec", remote.Codec().MimeType).Msg("rtc: remote audio track received")
	dec, err := opus.NewDecoder(16000, 1)
	if err != nil {
		p.log.Error().Err(err).Msg("rtc: opus decoder")
		return
	}
	p.device.attach()
	go func() {
		samples := make([]int16, 1920)
		for {
			pkt, _, readErr := remote.ReadRTP()
			if readErr != nil {
				return
			}
			if len(pkt.Payload) == 0 {
				continue
			}
			n, decErr := dec.Decode(pkt.Payload, samples)
			if decErr != nil || n == 0 {
				continue
			}
			p.device.push(audio.EncodePCM16LE(samples[:n]))
		}
	}()
}

// ParseICEServers reads a JSON list of ICE servers, falling back to public STUN.
func ParseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}
