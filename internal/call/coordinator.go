package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultPollInterval is how often a call polls the room while it is active.
const DefaultPollInterval = 2 * time.Second

const abandonTimeout = 5 * time.Second

// Config configures a Coordinator.
type Config struct {
	Signaler     Signaler
	NewTransport TransportFactory

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
}

// Summary describes a finished call attempt.
type Summary struct {
	UserID             string
	Role               Role
	FinalState         State
	Started            time.Time
	ConnectedAt        time.Time
	Ended              time.Time
	CandidatesSent     int
	CandidatesReceived int

	// Err is the failure that moved the call to Error, if any.
	Err error
	// TeardownErr collects the steps of EndCall that failed.
	TeardownErr error
}

// Duration is the time spent connected.
func (s Summary) Duration() time.Duration {
	if s.ConnectedAt.IsZero() || s.Ended.Before(s.ConnectedAt) {
		return 0
	}
	return s.Ended.Sub(s.ConnectedAt)
}

// Coordinator runs the connection state machine for one participant. At most
// one call is active at a time.
//
// State listeners are invoked in transition order and must not call
// StartCall or EndCall synchronously.
type Coordinator struct {
	cfg Config

	// notifyMu orders listener calls; it is always taken before mu.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	err       error
	session   *session
	listeners []func(State)
}

// session is one call attempt. Fields below the blank line are guarded by
// Coordinator.mu; the handshake fields are owned by the poll goroutine once
// it starts.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	transport   Transport
	userID      string
	role        Role
	started     time.Time
	connectedAt time.Time
	sent        int
	received    int

	remoteApplied bool
	answer        json.RawMessage
	answerSent    bool
	since         int64
}

// New returns a Coordinator in the Disconnected state.
func New(cfg Config) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Coordinator{cfg: cfg}
}

// State returns the current connection state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the failure behind the current Error state, or nil.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// OnStateChange registers fn to be called after every state transition.
func (c *Coordinator) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// StartCall acquires local media, joins the room and starts the handshake.
// The first participant waits for an offer; the second creates and posts
// one. It returns ErrCallActive while another call is in progress. A call
// left in Error is torn down first.
//
// ctx bounds the startup steps only; the call itself lasts until EndCall.
func (c *Coordinator) StartCall(ctx context.Context) error {
	c.notifyMu.Lock()
	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		c.notifyMu.Unlock()
		return ErrCallActive
	}
	prev := c.session
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{ctx: sctx, cancel: cancel, started: time.Now()}
	c.session = s
	c.state = Connecting
	c.err = nil
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(Connecting)
	}
	c.notifyMu.Unlock()

	if prev != nil {
		c.teardown(ctx, prev)
	}

	opCtx, opCancel := context.WithCancel(ctx)
	defer opCancel()
	stop := context.AfterFunc(s.ctx, opCancel)
	defer stop()

	tr, err := c.cfg.NewTransport()
	if err != nil {
		return c.fail(s, WrapError("create transport", ErrTransportFailure, err))
	}
	c.mu.Lock()
	if c.session != s || s.ctx.Err() != nil {
		c.mu.Unlock()
		if err := tr.Close(); err != nil {
			slog.Warn("failed to close transport of ended call", "err", err)
		}
		return ErrCallEnded
	}
	s.transport = tr
	c.mu.Unlock()

	tr.OnConnectionStateChange(func(ts TransportState) { c.onTransportState(s, ts) })
	tr.OnRemoteTrack(func(kind string) { c.onRemoteTrack(s, kind) })
	tr.OnLocalCandidate(func(cand json.RawMessage) { c.onLocalCandidate(s, cand) })

	if err := tr.AcquireLocalMedia(opCtx); err != nil {
		if !errors.Is(err, ErrMediaAccessDenied) {
			err = fmt.Errorf("%w: %w", ErrMediaAccessDenied, err)
		}
		return c.fail(s, NewError("acquire media", err))
	}

	res, err := c.cfg.Signaler.Join(opCtx)
	if err != nil {
		return c.fail(s, WrapError("join", ErrJoinFailed, err))
	}

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		c.abandon(ctx, res.UserID)
		return ErrCallEnded
	}
	s.userID = res.UserID
	s.role = RoleOfferer
	if res.IsFirst {
		s.role = RoleAnswerer
	}
	c.mu.Unlock()
	slog.Info("joined room", "user_id", res.UserID, "role", s.role, "users", res.UsersCount)

	if s.role == RoleAnswerer {
		c.transition(s, Waiting, nil)
	} else {
		offer, err := tr.CreateOffer(opCtx)
		if err != nil {
			return c.fail(s, WrapError("create offer", ErrTransportFailure, err))
		}
		if err := tr.SetLocalDescription(offer); err != nil {
			return c.fail(s, WrapError("set local description", ErrTransportFailure, err))
		}
		if err := c.cfg.Signaler.SendOffer(opCtx, offer); err != nil {
			return c.fail(s, WrapError("send offer", ErrSignalingFailure, err))
		}
		slog.Debug("offer posted", "user_id", s.userID)
	}

	c.mu.Lock()
	if c.session != s || s.ctx.Err() != nil {
		c.mu.Unlock()
		return ErrCallEnded
	}
	s.wg.Add(1)
	c.mu.Unlock()
	go c.poll(s)
	return nil
}

// EndCall stops polling, releases local media, closes the transport and
// leaves the room. It always ends in Disconnected; failed steps are logged
// and reported in the summary.
func (c *Coordinator) EndCall(ctx context.Context) Summary {
	c.mu.Lock()
	s := c.session
	c.session = nil
	final := c.state
	lastErr := c.err
	c.mu.Unlock()

	sum := Summary{FinalState: final, Err: lastErr, Ended: time.Now()}
	if s != nil {
		sum.TeardownErr = c.teardown(ctx, s)

		c.mu.Lock()
		sum.UserID = s.userID
		sum.Role = s.role
		sum.Started = s.started
		sum.ConnectedAt = s.connectedAt
		sum.CandidatesSent = s.sent
		sum.CandidatesReceived = s.received
		c.mu.Unlock()
	}

	c.transition(nil, Disconnected, nil)
	return sum
}

func (c *Coordinator) teardown(ctx context.Context, s *session) error {
	s.cancel()
	s.wg.Wait()

	c.mu.Lock()
	tr, userID := s.transport, s.userID
	c.mu.Unlock()

	var errs []error
	if tr != nil {
		if err := tr.ReleaseLocalMedia(); err != nil {
			errs = append(errs, NewError("release media", err))
		}
		if err := tr.Close(); err != nil {
			errs = append(errs, NewError("close transport", err))
		}
	}
	if userID != "" {
		if _, err := c.cfg.Signaler.Leave(ctx, userID); err != nil {
			errs = append(errs, NewError("leave", err))
		} else {
			slog.Info("left room", "user_id", userID)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		slog.Warn("teardown incomplete", "user_id", userID, "err", err)
	}
	return err
}

// abandon releases a slot obtained by a join that finished after the call
// was ended.
func (c *Coordinator) abandon(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()
	if _, err := c.cfg.Signaler.Leave(ctx, userID); err != nil {
		slog.Warn("failed to leave abandoned slot", "user_id", userID, "err", err)
	}
}

// transition moves the call to state to. With a session it only applies
// while s is the current call and only moves forward; without one it
// applies when no call is installed. It reports whether s is current.
func (c *Coordinator) transition(s *session, to State, err error) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if s != nil {
		if c.session != s {
			c.mu.Unlock()
			return false
		}
		if to <= c.state {
			c.mu.Unlock()
			return true
		}
		if to == Connected && s.connectedAt.IsZero() {
			s.connectedAt = time.Now()
		}
	} else if c.session != nil || c.state == to {
		c.mu.Unlock()
		return false
	}

	from := c.state
	c.state = to
	if to == Error {
		c.err = err
	}
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	slog.Debug("call state changed", "from", from, "to", to)
	for _, fn := range listeners {
		fn(to)
	}
	return true
}

func (c *Coordinator) fail(s *session, err error) error {
	if !c.transition(s, Error, err) {
		return ErrCallEnded
	}
	s.cancel()
	slog.Warn("call failed", "err", err)
	return err
}

func (c *Coordinator) current(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == s && s.ctx.Err() == nil
}

func (c *Coordinator) onTransportState(s *session, ts TransportState) {
	slog.Debug("transport state", "state", ts)
	switch ts {
	case TransportConnected:
		c.transition(s, Connected, nil)
	case TransportFailed, TransportDisconnected:
		c.fail(s, &CallError{Op: "transport", Err: ErrTransportFailure, Details: ts.String()})
	}
}

func (c *Coordinator) onRemoteTrack(s *session, kind string) {
	slog.Info("remote track received", "kind", kind)
	c.transition(s, Connected, nil)
}

func (c *Coordinator) onLocalCandidate(s *session, cand json.RawMessage) {
	c.mu.Lock()
	if c.session != s || s.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	userID := s.userID
	s.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := c.cfg.Signaler.SendCandidate(s.ctx, cand, userID); err != nil {
			if s.ctx.Err() == nil {
				slog.Warn("failed to post candidate", "err", err)
			}
			return
		}
		c.mu.Lock()
		s.sent++
		c.mu.Unlock()
	}()
}

func (c *Coordinator) poll(s *session) {
	defer s.wg.Done()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			c.exchangeDescriptions(s)
			if s.ctx.Err() != nil {
				return
			}
			c.exchangeCandidates(s)
		}
	}
}

func (c *Coordinator) exchangeDescriptions(s *session) {
	sig := c.cfg.Signaler

	if s.role == RoleOfferer {
		if s.remoteApplied {
			return
		}
		answer, err := sig.Answer(s.ctx)
		if err != nil {
			c.transient(s, "fetch answer", err)
			return
		}
		if answer == nil || !c.current(s) {
			return
		}
		if err := s.transport.SetRemoteDescription(answer); err != nil {
			c.fail(s, WrapError("apply answer", ErrTransportFailure, err))
			return
		}
		s.remoteApplied = true
		slog.Debug("answer applied", "user_id", s.userID)
		return
	}

	if !s.remoteApplied {
		offer, err := sig.Offer(s.ctx)
		if err != nil {
			c.transient(s, "fetch offer", err)
			return
		}
		if offer == nil || !c.current(s) {
			return
		}
		if err := s.transport.SetRemoteDescription(offer); err != nil {
			c.fail(s, WrapError("apply offer", ErrTransportFailure, err))
			return
		}
		s.remoteApplied = true
		slog.Debug("offer applied", "user_id", s.userID)

		answer, err := s.transport.CreateAnswer(s.ctx)
		if err != nil {
			c.fail(s, WrapError("create answer", ErrTransportFailure, err))
			return
		}
		if err := s.transport.SetLocalDescription(answer); err != nil {
			c.fail(s, WrapError("set local description", ErrTransportFailure, err))
			return
		}
		s.answer = answer
	}

	if s.answer != nil && !s.answerSent {
		if err := sig.SendAnswer(s.ctx, s.answer); err != nil {
			c.transient(s, "send answer", err)
			return
		}
		s.answerSent = true
		slog.Debug("answer posted", "user_id", s.userID)
	}
}

func (c *Coordinator) exchangeCandidates(s *session) {
	// Candidates wait until the remote description is in place.
	if !s.remoteApplied {
		return
	}

	resp, err := c.cfg.Signaler.Candidates(s.ctx, s.since, s.userID)
	if err != nil {
		c.transient(s, "fetch candidates", err)
		return
	}
	if !c.current(s) {
		return
	}

	for _, cand := range resp.Candidates {
		if err := s.transport.AddRemoteCandidate(cand); err != nil {
			slog.Warn("failed to add remote candidate", "err", err)
		}
	}
	if resp.Latest > s.since {
		s.since = resp.Latest
	}

	c.mu.Lock()
	s.received += len(resp.Candidates)
	c.mu.Unlock()
}

func (c *Coordinator) transient(s *session, op string, err error) {
	if s.ctx.Err() != nil {
		return
	}
	slog.Warn("poll failed", "op", op, "err", err)
}
