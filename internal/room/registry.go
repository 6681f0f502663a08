// Package room holds the single rendezvous room shared by two call
// participants: its membership and the offer, answer and ICE candidates they
// exchange through the signaling API.
package room

import (
	"bytes"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxParticipants is the room capacity.
const MaxParticipants = 2

// ErrRoomFull is returned by Join when the room already holds MaxParticipants.
var ErrRoomFull = errors.New("Room is full")

// Candidate is one network-path candidate as stored by the registry.
// Descriptor is kept verbatim; the registry never looks inside it.
type Candidate struct {
	Descriptor json.RawMessage
	Timestamp  int64 // unix milliseconds, strictly increasing per room
	Origin     string
}

// JoinResult describes a successful Join.
type JoinResult struct {
	ParticipantID string
	IsFirst       bool
	Count         int
}

// LeaveResult describes the membership after a Leave.
type LeaveResult struct {
	Removed bool
	Count   int
	// Reset is true when this call emptied the room and cleared the handshake.
	Reset bool
}

// Status is a point-in-time view of the room. Version increases with every
// mutation so observers can discard stale snapshots.
type Status struct {
	Count          int
	HasOffer       bool
	HasAnswer      bool
	CandidateCount int
	Version        uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used to stamp candidates.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides how participant ids are allocated.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// Registry is the one room of a signaling process. Every method is safe for
// concurrent use; all mutations go through a single mutex.
type Registry struct {
	mu           sync.Mutex
	participants []string
	offer        json.RawMessage
	answer       json.RawMessage
	candidates   []Candidate
	lastStamp    int64
	version      uint64

	now   func() time.Time
	newID func() string

	obsMu     sync.RWMutex
	observers []func(Status)
}

// New creates an empty room.
func New(opts ...Option) *Registry {
	r := &Registry{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe registers fn to be called with a fresh Status after every
// mutation. fn runs on the mutating goroutine, outside the room lock, so
// snapshots from concurrent mutations may arrive out of order; compare
// Version to keep the newest.
func (r *Registry) Observe(fn func(Status)) {
	r.obsMu.Lock()
	r.observers = append(r.observers, fn)
	r.obsMu.Unlock()
}

// Join admits a new participant and reports whether it is the first one
// since the room was last empty.
func (r *Registry) Join() (JoinResult, error) {
	r.mu.Lock()
	if len(r.participants) >= MaxParticipants {
		r.mu.Unlock()
		return JoinResult{}, ErrRoomFull
	}

	id := r.newID()
	for slices.Contains(r.participants, id) {
		id = r.newID()
	}
	r.participants = append(r.participants, id)

	res := JoinResult{
		ParticipantID: id,
		IsFirst:       len(r.participants) == 1,
		Count:         len(r.participants),
	}
	st := r.mutatedLocked()
	r.mu.Unlock()

	r.notify(st)
	return res, nil
}

// Leave removes id from the room. Unknown ids are ignored. When the room
// becomes empty the offer, answer and candidates are cleared in the same
// critical section.
func (r *Registry) Leave(id string) LeaveResult {
	r.mu.Lock()
	before := len(r.participants)
	r.participants = slices.DeleteFunc(r.participants, func(p string) bool { return p == id })

	res := LeaveResult{
		Removed: len(r.participants) < before,
		Count:   len(r.participants),
	}
	if len(r.participants) == 0 {
		res.Reset = res.Removed
		r.offer = nil
		r.answer = nil
		r.candidates = nil
	}
	st := r.mutatedLocked()
	r.mu.Unlock()

	r.notify(st)
	return res
}

// Status returns the current room status.
func (r *Registry) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

// SetOffer stores the offer, replacing any previous one.
func (r *Registry) SetOffer(desc json.RawMessage) {
	r.mu.Lock()
	r.offer = bytes.Clone(desc)
	st := r.mutatedLocked()
	r.mu.Unlock()
	r.notify(st)
}

// Offer returns the stored offer or nil.
func (r *Registry) Offer() json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Clone(r.offer)
}

// SetAnswer stores the answer, replacing any previous one.
func (r *Registry) SetAnswer(desc json.RawMessage) {
	r.mu.Lock()
	r.answer = bytes.Clone(desc)
	st := r.mutatedLocked()
	r.mu.Unlock()
	r.notify(st)
}

// Answer returns the stored answer or nil.
func (r *Registry) Answer() json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Clone(r.answer)
}

// AddCandidate appends a candidate stamped with the current time. origin is
// the participant that posted it and may be empty.
func (r *Registry) AddCandidate(desc json.RawMessage, origin string) Candidate {
	r.mu.Lock()
	stamp := r.now().UnixMilli()
	if stamp <= r.lastStamp {
		stamp = r.lastStamp + 1
	}
	r.lastStamp = stamp

	c := Candidate{
		Descriptor: bytes.Clone(desc),
		Timestamp:  stamp,
		Origin:     origin,
	}
	r.candidates = append(r.candidates, c)
	st := r.mutatedLocked()
	r.mu.Unlock()

	r.notify(st)
	return c
}

// Candidates returns, in insertion order, every candidate stamped after
// since. When exclude is non-empty, candidates posted by that participant
// are left out.
func (r *Registry) Candidates(since int64, exclude string) []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Candidate, 0, len(r.candidates))
	for _, c := range r.candidates {
		if c.Timestamp <= since {
			continue
		}
		if exclude != "" && c.Origin == exclude {
			continue
		}
		c.Descriptor = bytes.Clone(c.Descriptor)
		out = append(out, c)
	}
	return out
}

func (r *Registry) mutatedLocked() Status {
	r.version++
	return r.statusLocked()
}

func (r *Registry) statusLocked() Status {
	return Status{
		Count:          len(r.participants),
		HasOffer:       r.offer != nil,
		HasAnswer:      r.answer != nil,
		CandidateCount: len(r.candidates),
		Version:        r.version,
	}
}

func (r *Registry) notify(st Status) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, fn := range r.observers {
		fn(st)
	}
}
