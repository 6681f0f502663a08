// Package call drives one participant through the room handshake: it joins
// the room, decides the offerer by join order, and polls the signaling server
// until the media transport reports connectivity.
package call

// State is the client-side connection state of a call.
type State int

const (
	Disconnected State = iota
	Connecting
	Waiting
	Connected
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Waiting:
		return "waiting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// StatusMessage is the user-facing line shown for s.
func (s State) StatusMessage() string {
	switch s {
	case Disconnected:
		return "Ready to connect"
	case Connecting:
		return "Connecting..."
	case Waiting:
		return "Waiting for a peer..."
	case Connected:
		return "Connected! Call in progress"
	case Error:
		return "Connection error"
	default:
		return ""
	}
}

// Active reports whether a call is in progress in state s.
func (s State) Active() bool {
	return s == Connecting || s == Waiting || s == Connected
}

// Role is the part a participant plays in the handshake, fixed by join order.
type Role int

const (
	RoleNone Role = iota
	// RoleAnswerer joined first and answers the offer.
	RoleAnswerer
	// RoleOfferer joined second and creates the offer.
	RoleOfferer
)

func (r Role) String() string {
	switch r {
	case RoleAnswerer:
		return "answerer"
	case RoleOfferer:
		return "offerer"
	default:
		return "none"
	}
}
