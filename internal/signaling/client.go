package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BioHazard786/duocall/internal/dns"
)

// KeepAliveHeader marks requests that only exist to keep the server awake.
const KeepAliveHeader = "X-Keep-Alive"

// APIError is a non-success response from the room API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("signaling server: %s (HTTP %d)", e.Message, e.Status)
}

// IsRoomFull reports whether err is the server rejecting a third participant.
func IsRoomFull(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Message == "Room is full"
}

// Client talks to the room API over HTTP.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *dns.Resolver
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client. Tests use it to talk to an
// httptest server.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request. Zero means no bound beyond the caller's
// context.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// NewClient returns a client for the server at serverURL. Host names are
// resolved with a public-resolver fallback.
func NewClient(serverURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", serverURL)
	}

	resolver := dns.New()
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = resolver.DialContext

	c := &Client{
		baseURL: u,
		http:    &http.Client{Transport: transport},
		dialer:  resolver,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ServerURL returns the base URL the client talks to.
func (c *Client) ServerURL() string {
	return c.baseURL.String()
}

// Join asks for a slot in the room.
func (c *Client) Join(ctx context.Context) (JoinResponse, error) {
	var resp JoinResponse
	err := c.do(ctx, http.MethodPost, "/join", nil, struct{}{}, &resp, nil)
	return resp, err
}

// Status returns the room summary.
func (c *Client) Status(ctx context.Context) (RoomStatus, error) {
	var resp RoomStatus
	err := c.do(ctx, http.MethodGet, "/status", nil, nil, &resp, nil)
	return resp, err
}

// Ping requests the room status flagged as a keep-alive.
func (c *Client) Ping(ctx context.Context) error {
	h := http.Header{}
	h.Set(KeepAliveHeader, "true")
	return c.do(ctx, http.MethodGet, "/status", nil, nil, nil, h)
}

// SendOffer stores offer as the room's current offer.
func (c *Client) SendOffer(ctx context.Context, offer json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/offer", nil, OfferRequest{Offer: offer}, &SuccessResponse{}, nil)
}

// Offer returns the room's offer, or nil when none is stored.
func (c *Client) Offer(ctx context.Context) (json.RawMessage, error) {
	var resp OfferResponse
	if err := c.do(ctx, http.MethodGet, "/offer", nil, nil, &resp, nil); err != nil {
		return nil, err
	}
	return present(resp.Offer), nil
}

// SendAnswer stores answer as the room's current answer.
func (c *Client) SendAnswer(ctx context.Context, answer json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/answer", nil, AnswerRequest{Answer: answer}, &SuccessResponse{}, nil)
}

// Answer returns the room's answer, or nil when none is stored.
func (c *Client) Answer(ctx context.Context) (json.RawMessage, error) {
	var resp AnswerResponse
	if err := c.do(ctx, http.MethodGet, "/answer", nil, nil, &resp, nil); err != nil {
		return nil, err
	}
	return present(resp.Answer), nil
}

// SendCandidate appends a candidate to the room. userID tags it so the
// poster can exclude its own candidates later; it may be empty.
func (c *Client) SendCandidate(ctx context.Context, candidate json.RawMessage, userID string) error {
	return c.do(ctx, http.MethodPost, "/ice", nil, CandidateRequest{Candidate: candidate, UserID: userID}, &SuccessResponse{}, nil)
}

// Candidates returns the candidates stamped after since, skipping those
// posted by exclude when it is non-empty.
func (c *Client) Candidates(ctx context.Context, since int64, exclude string) (CandidatesResponse, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatInt(since, 10))
	if exclude != "" {
		q.Set("exclude", exclude)
	}
	var resp CandidatesResponse
	err := c.do(ctx, http.MethodGet, "/ice", q, nil, &resp, nil)
	return resp, err
}

// Leave releases userID's slot.
func (c *Client) Leave(ctx context.Context, userID string) (LeaveResponse, error) {
	var resp LeaveResponse
	err := c.do(ctx, http.MethodPost, "/leave", nil, LeaveRequest{UserID: userID}, &resp, nil)
	return resp, err
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + BasePath + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any, header http.Header) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var env ErrorResponse
		if json.Unmarshal(data, &env) == nil && env.Error != "" {
			apiErr.Message = env.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func present(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return raw
}
