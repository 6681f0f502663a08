// Package server exposes the room registry over HTTP under /api/room, plus a
// read-only websocket stream of room status for monitoring.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/duocall/internal/observe"
	"github.com/BioHazard786/duocall/internal/room"
	"github.com/BioHazard786/duocall/internal/signaling"
)

// Maximum request body; SDP blobs stay well below this.
const maxBodySize = 64 * 1024

const (
	msgWaiting   = "Waiting for a peer..."
	msgPeerFound = "Peer found!"
)

var errInvalidBody = errors.New("Invalid request body")

// Options configures a Server.
type Options struct {
	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics

	AllowedOrigins  []string
	AllowAllOrigins bool
}

// Server is the HTTP surface of one room registry.
type Server struct {
	registry *room.Registry
	metrics  *observe.Metrics
	origins  originPolicy
	watch    *WatchHub
	upgrader websocket.Upgrader
}

// New creates a Server for reg and subscribes its watch hub to registry
// changes. The hub must be started with [WatchHub.Run] for watchers to
// receive updates.
func New(reg *room.Registry, opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	s := &Server{
		registry: reg,
		metrics:  opts.Metrics,
		origins: originPolicy{
			allowed:  opts.AllowedOrigins,
			allowAll: opts.AllowAllOrigins,
		},
		watch: NewWatchHub(toRoomStatus(reg.Status()), opts.Metrics),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 4 * 1024,
		CheckOrigin:     s.origins.allowWebsocket,
	}
	reg.Observe(func(st room.Status) {
		s.watch.Publish(toRoomStatus(st))
	})
	return s
}

// Watch returns the status watch hub.
func (s *Server) Watch() *WatchHub {
	return s.watch
}

// Handler returns the room API wrapped with panic recovery and CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return recoverer(s.origins.cors(mux))
}

// Register adds the room routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	base := signaling.BasePath
	mux.HandleFunc("POST "+base+"/join", s.handleJoin)
	mux.HandleFunc("GET "+base+"/status", s.handleStatus)
	mux.HandleFunc("POST "+base+"/offer", s.handleSetOffer)
	mux.HandleFunc("GET "+base+"/offer", s.handleGetOffer)
	mux.HandleFunc("POST "+base+"/answer", s.handleSetAnswer)
	mux.HandleFunc("GET "+base+"/answer", s.handleGetAnswer)
	mux.HandleFunc("POST "+base+"/ice", s.handleAddCandidate)
	mux.HandleFunc("GET "+base+"/ice", s.handleGetCandidates)
	mux.HandleFunc("POST "+base+"/leave", s.handleLeave)
	mux.HandleFunc("GET "+base+"/watch", s.handleWatch)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	res, err := s.registry.Join()
	if errors.Is(err, room.ErrRoomFull) {
		s.metrics.RecordJoin(r.Context(), "full")
		slog.Info("join rejected", "reason", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.RecordJoin(r.Context(), "ok")
	slog.Info("participant joined", "user_id", res.ParticipantID, "first", res.IsFirst, "count", res.Count)

	msg := msgPeerFound
	if res.IsFirst {
		msg = msgWaiting
	}
	writeJSON(w, http.StatusOK, signaling.JoinResponse{
		Success:    true,
		UserID:     res.ParticipantID,
		IsFirst:    res.IsFirst,
		UsersCount: res.Count,
		Message:    msg,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toRoomStatus(s.registry.Status()))
}

func (s *Server) handleSetOffer(w http.ResponseWriter, r *http.Request) {
	var req signaling.OfferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if isMissing(req.Offer) {
		writeError(w, http.StatusBadRequest, "Offer is required")
		return
	}
	s.registry.SetOffer(req.Offer)
	s.metrics.RecordSignal(r.Context(), "offer")
	writeJSON(w, http.StatusOK, signaling.SuccessResponse{Success: true})
}

func (s *Server) handleGetOffer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, signaling.OfferResponse{Offer: s.registry.Offer()})
}

func (s *Server) handleSetAnswer(w http.ResponseWriter, r *http.Request) {
	var req signaling.AnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if isMissing(req.Answer) {
		writeError(w, http.StatusBadRequest, "Answer is required")
		return
	}
	s.registry.SetAnswer(req.Answer)
	s.metrics.RecordSignal(r.Context(), "answer")
	writeJSON(w, http.StatusOK, signaling.SuccessResponse{Success: true})
}

func (s *Server) handleGetAnswer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, signaling.AnswerResponse{Answer: s.registry.Answer()})
}

func (s *Server) handleAddCandidate(w http.ResponseWriter, r *http.Request) {
	var req signaling.CandidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if isMissing(req.Candidate) {
		writeError(w, http.StatusBadRequest, "ICE candidate is required")
		return
	}
	s.registry.AddCandidate(req.Candidate, req.UserID)
	s.metrics.RecordSignal(r.Context(), "candidate")
	writeJSON(w, http.StatusOK, signaling.SuccessResponse{Success: true})
}

func (s *Server) handleGetCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := strconv.ParseInt(q.Get("from"), 10, 64)
	if err != nil {
		from = 0
	}

	found := s.registry.Candidates(from, q.Get("exclude"))
	resp := signaling.CandidatesResponse{
		Candidates: make([]json.RawMessage, 0, len(found)),
		Latest:     from,
	}
	for _, c := range found {
		resp.Candidates = append(resp.Candidates, c.Descriptor)
		resp.Latest = c.Timestamp
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req signaling.LeaveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	res := s.registry.Leave(req.UserID)
	if res.Removed {
		s.metrics.RecordLeave(r.Context(), res.Reset)
		slog.Info("participant left", "user_id", req.UserID, "count", res.Count, "reset", res.Reset)
	}
	writeJSON(w, http.StatusOK, signaling.LeaveResponse{Success: true, UsersCount: res.Count})
}

func toRoomStatus(st room.Status) signaling.RoomStatus {
	return signaling.RoomStatus{
		UsersCount:         st.Count,
		HasOffer:           st.HasOffer,
		HasAnswer:          st.HasAnswer,
		IceCandidatesCount: st.CandidateCount,
		Version:            st.Version,
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v zero so the
// caller reports the missing field; malformed JSON is answered with 400 and
// false is returned.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, errInvalidBody.Error())
	return false
}

// isMissing reports whether a field is absent or holds a falsy JSON value:
// null, false, "" or a zero number.
func isMissing(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "", "null", "false", `""`:
		return true
	}
	if c := raw[0]; c == '-' || (c >= '0' && c <= '9') {
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f == 0
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, signaling.ErrorResponse{Success: false, Error: msg})
}
