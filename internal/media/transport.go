// Package media implements the call media transport on pion/webrtc: local
// media from disk, remote media to disk, trickle ICE through the room.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/duocall/internal/call"
)

// Options configures a Transport.
type Options struct {
	STUNServers []string
	TURNServers []string
	TURNUser    string
	TURNPass    string

	// ForceRelay forces TURN when TURN servers are set. Relay is also forced
	// automatically behind VPNs and CGNAT.
	ForceRelay bool

	VideoFile string
	AudioFile string
	RecordDir string
}

// Transport is a call.Transport backed by one pion PeerConnection.
type Transport struct {
	opts     Options
	pc       *pion.PeerConnection
	recorder *Recorder

	mu          sync.Mutex
	source      *DiskSource
	onCandidate func(json.RawMessage)
	onTrack     func(string)
	onState     func(call.TransportState)
}

var _ call.Transport = (*Transport)(nil)

// Factory returns a call.TransportFactory building transports from opts.
func Factory(opts Options) call.TransportFactory {
	return func() (call.Transport, error) {
		return NewTransport(opts)
	}
}

// NewTransport creates the peer connection. Media is attached by
// AcquireLocalMedia.
func NewTransport(opts Options) (*Transport, error) {
	pc, err := NewPeerConnection(opts)
	if err != nil {
		return nil, err
	}

	t := &Transport{opts: opts, pc: pc, recorder: NewRecorder(opts.RecordDir)}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			slog.Warn("failed to encode local candidate", "err", err)
			return
		}
		t.mu.Lock()
		fn := t.onCandidate
		t.mu.Unlock()
		if fn != nil {
			fn(b)
		}
	})

	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		state := transportState(s)
		if state == call.TransportConnected {
			t.mu.Lock()
			src := t.source
			t.mu.Unlock()
			if src != nil {
				src.Start()
			}
		}
		t.mu.Lock()
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(state)
		}
	})

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		slog.Debug("remote track", "kind", track.Kind(), "codec", track.Codec().MimeType)
		t.recorder.Handle(track)
		t.mu.Lock()
		fn := t.onTrack
		t.mu.Unlock()
		if fn != nil {
			fn(track.Kind().String())
		}
	})

	return t, nil
}

// NewPeerConnection builds a peer connection with the configured ICE servers
// and relay policy.
func NewPeerConnection(opts Options) (*pion.PeerConnection, error) {
	var iceServers []pion.ICEServer
	if len(opts.STUNServers) > 0 {
		iceServers = append(iceServers, pion.ICEServer{URLs: opts.STUNServers})
	}
	if len(opts.TURNServers) > 0 {
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       opts.TURNServers,
			Username:   opts.TURNUser,
			Credential: opts.TURNPass,
		})
	}

	policy := pion.ICETransportPolicyAll
	if len(opts.TURNServers) > 0 && (opts.ForceRelay || ShouldForceRelay()) {
		policy = pion.ICETransportPolicyRelay
		slog.Debug("forcing TURN relay")
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, call.WrapError("create peer connection", call.ErrTransportFailure, err)
	}
	return pc, nil
}

// AcquireLocalMedia attaches the configured media files as outgoing tracks.
// Kinds without a file are received only.
func (t *Transport) AcquireLocalMedia(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := OpenDiskSource(t.opts.VideoFile, t.opts.AudioFile)
	if err != nil {
		return err
	}

	if err := t.attach(pion.RTPCodecTypeVideo, src.Video()); err != nil {
		return err
	}
	if err := t.attach(pion.RTPCodecTypeAudio, src.Audio()); err != nil {
		return err
	}

	t.mu.Lock()
	t.source = src
	t.mu.Unlock()
	return nil
}

func (t *Transport) attach(kind pion.RTPCodecType, track *pion.TrackLocalStaticSample) error {
	if track == nil {
		_, err := t.pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
		return nil
	}

	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add %s track: %w", kind, err)
	}
	// RTCP must be read for interceptors such as NACK to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// ReleaseLocalMedia stops playback of the local files.
func (t *Transport) ReleaseLocalMedia() error {
	t.mu.Lock()
	src := t.source
	t.source = nil
	t.mu.Unlock()
	if src != nil {
		src.Stop()
	}
	return nil
}

func (t *Transport) CreateOffer(context.Context) (json.RawMessage, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, call.NewError("create offer", err)
	}
	return json.Marshal(offer)
}

func (t *Transport) CreateAnswer(context.Context) (json.RawMessage, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, call.NewError("create answer", err)
	}
	return json.Marshal(answer)
}

func (t *Transport) SetLocalDescription(desc json.RawMessage) error {
	sd, err := decodeDescription(desc)
	if err != nil {
		return err
	}
	if err := t.pc.SetLocalDescription(sd); err != nil {
		return call.NewError("set local description", err)
	}
	return nil
}

func (t *Transport) SetRemoteDescription(desc json.RawMessage) error {
	sd, err := decodeDescription(desc)
	if err != nil {
		return err
	}
	if err := t.pc.SetRemoteDescription(sd); err != nil {
		return call.NewError("set remote description", err)
	}
	return nil
}

func (t *Transport) AddRemoteCandidate(candidate json.RawMessage) error {
	var ice pion.ICECandidateInit
	if err := json.Unmarshal(candidate, &ice); err != nil {
		return call.NewError("parse ICE candidate", err)
	}
	if err := t.pc.AddICECandidate(ice); err != nil {
		return call.NewError("add ICE candidate", err)
	}
	return nil
}

func (t *Transport) OnLocalCandidate(fn func(json.RawMessage)) {
	t.mu.Lock()
	t.onCandidate = fn
	t.mu.Unlock()
}

func (t *Transport) OnRemoteTrack(fn func(string)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *Transport) OnConnectionStateChange(fn func(call.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// Close closes the peer connection and finalises any recordings.
func (t *Transport) Close() error {
	err := t.pc.Close()
	t.recorder.Wait()
	return err
}

var errBadDescription = errors.New("invalid session description")

func decodeDescription(raw json.RawMessage) (pion.SessionDescription, error) {
	var sd pion.SessionDescription
	if err := json.Unmarshal(raw, &sd); err != nil {
		return sd, call.WrapError("decode description", errBadDescription, err)
	}
	if sd.Type != pion.SDPTypeOffer && sd.Type != pion.SDPTypeAnswer {
		return sd, call.WrapError("decode description", errBadDescription, fmt.Errorf("unexpected type %q", sd.Type))
	}
	return sd, nil
}

func transportState(s pion.PeerConnectionState) call.TransportState {
	switch s {
	case pion.PeerConnectionStateConnecting:
		return call.TransportConnecting
	case pion.PeerConnectionStateConnected:
		return call.TransportConnected
	case pion.PeerConnectionStateDisconnected:
		return call.TransportDisconnected
	case pion.PeerConnectionStateFailed:
		return call.TransportFailed
	case pion.PeerConnectionStateClosed:
		return call.TransportClosed
	default:
		return call.TransportNew
	}
}
