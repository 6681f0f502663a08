package signaling

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// BasePath is where the room API is mounted.
const BasePath = "/api/room"

// JoinResponse is returned by POST /join.
type JoinResponse struct {
	Success    bool   `json:"success"`
	UserID     string `json:"userId"`
	IsFirst    bool   `json:"isFirst"`
	UsersCount int    `json:"usersCount"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
}

// RoomStatus is returned by GET /status and pushed on the watch stream.
type RoomStatus struct {
	UsersCount         int    `json:"usersCount" msgpack:"usersCount"`
	HasOffer           bool   `json:"hasOffer" msgpack:"hasOffer"`
	HasAnswer          bool   `json:"hasAnswer" msgpack:"hasAnswer"`
	IceCandidatesCount int    `json:"iceCandidatesCount" msgpack:"iceCandidatesCount"`
	Version            uint64 `json:"-" msgpack:"version"`
}

// OfferRequest is the body of POST /offer.
type OfferRequest struct {
	Offer json.RawMessage `json:"offer"`
}

// OfferResponse is returned by GET /offer. Offer is JSON null when unset.
type OfferResponse struct {
	Offer json.RawMessage `json:"offer"`
}

// AnswerRequest is the body of POST /answer.
type AnswerRequest struct {
	Answer json.RawMessage `json:"answer"`
}

// AnswerResponse is returned by GET /answer. Answer is JSON null when unset.
type AnswerResponse struct {
	Answer json.RawMessage `json:"answer"`
}

// CandidateRequest is the body of POST /ice. UserID is optional and only
// used to let the poster filter out its own candidates later.
type CandidateRequest struct {
	Candidate json.RawMessage `json:"candidate"`
	UserID    string          `json:"userId,omitempty"`
}

// CandidatesResponse is returned by GET /ice. Latest is the server timestamp
// to pass as "from" on the next poll.
type CandidatesResponse struct {
	Candidates []json.RawMessage `json:"candidates"`
	Latest     int64             `json:"latest"`
}

// LeaveRequest is the body of POST /leave.
type LeaveRequest struct {
	UserID string `json:"userId"`
}

// LeaveResponse is returned by POST /leave.
type LeaveResponse struct {
	Success    bool `json:"success"`
	UsersCount int  `json:"usersCount"`
}

// SuccessResponse acknowledges a write.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the envelope of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Watch stream message types.
const (
	WatchTypeStatus = "status"
)

// WatchMessage is one binary frame of the status watch stream.
type WatchMessage struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// NewWatchMessage encodes payload into a frame of the given type.
func NewWatchMessage(t string, payload any) ([]byte, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(WatchMessage{Type: t, Payload: b})
}

// DecodePayload decodes the frame payload into v.
func (m WatchMessage) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}
