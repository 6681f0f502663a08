package call

import (
	"context"
	"encoding/json"

	"github.com/BioHazard786/duocall/internal/signaling"
)

// TransportState is the connectivity reported by a media transport.
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the peer-to-peer media capability a call drives. Session
// descriptions and candidates are opaque JSON values passed through the
// signaling server untouched.
type Transport interface {
	// AcquireLocalMedia opens the local camera/microphone sources. It
	// returns an error wrapping ErrMediaAccessDenied when they are
	// unavailable.
	AcquireLocalMedia(ctx context.Context) error
	ReleaseLocalMedia() error

	CreateOffer(ctx context.Context) (json.RawMessage, error)
	CreateAnswer(ctx context.Context) (json.RawMessage, error)
	SetLocalDescription(desc json.RawMessage) error
	SetRemoteDescription(desc json.RawMessage) error
	AddRemoteCandidate(candidate json.RawMessage) error

	// Callbacks may fire on any goroutine. Register them before
	// SetLocalDescription.
	OnLocalCandidate(fn func(candidate json.RawMessage))
	OnRemoteTrack(fn func(kind string))
	OnConnectionStateChange(fn func(TransportState))

	Close() error
}

// TransportFactory returns a fresh transport for each call attempt.
type TransportFactory func() (Transport, error)

// Signaler is the room API as seen by a call. *signaling.Client satisfies it.
type Signaler interface {
	Join(ctx context.Context) (signaling.JoinResponse, error)
	SendOffer(ctx context.Context, offer json.RawMessage) error
	Offer(ctx context.Context) (json.RawMessage, error)
	SendAnswer(ctx context.Context, answer json.RawMessage) error
	Answer(ctx context.Context) (json.RawMessage, error)
	SendCandidate(ctx context.Context, candidate json.RawMessage, userID string) error
	Candidates(ctx context.Context, since int64, exclude string) (signaling.CandidatesResponse, error)
	Leave(ctx context.Context, userID string) (signaling.LeaveResponse, error)
}

var _ Signaler = (*signaling.Client)(nil)
