package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/BioHazard786/duocall/internal/observe"
	"github.com/BioHazard786/duocall/internal/room"
	"github.com/BioHazard786/duocall/internal/signaling"
)

type testEnv struct {
	srv     *Server
	handler http.Handler
	reg     *room.Registry
	reader  *sdkmetric.ManualReader
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	opts.Metrics = m

	reg := room.New()
	srv := New(reg, opts)
	return &testEnv{srv: srv, handler: srv.Handler(), reg: reg, reader: reader}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, signaling.BasePath+path, nil)
	} else {
		req = httptest.NewRequest(method, signaling.BasePath+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
	return v
}

func counterSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, want Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestJoinFirstSecondAndFull(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, "POST", "/join", "{}")
	if rec.Code != http.StatusOK {
		t.Fatalf("first join status = %d", rec.Code)
	}
	first := decode[signaling.JoinResponse](t, rec)
	if !first.Success || !first.IsFirst || first.UsersCount != 1 || first.UserID == "" {
		t.Fatalf("first join = %+v", first)
	}
	if first.Message != msgWaiting {
		t.Errorf("first message = %q, want %q", first.Message, msgWaiting)
	}

	second := decode[signaling.JoinResponse](t, env.do(t, "POST", "/join", "{}"))
	if second.IsFirst || second.UsersCount != 2 || second.Message != msgPeerFound {
		t.Fatalf("second join = %+v", second)
	}

	rec = env.do(t, "POST", "/join", "{}")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("third join status = %d, want 400", rec.Code)
	}
	full := decode[signaling.ErrorResponse](t, rec)
	if full.Success || full.Error != "Room is full" {
		t.Fatalf("third join body = %+v", full)
	}

	if got := counterSum(t, env.reader, "duocall.room.joins"); got != 3 {
		t.Errorf("joins counter = %d, want 3", got)
	}
	if got := counterSum(t, env.reader, "duocall.room.participants"); got != 2 {
		t.Errorf("participants = %d, want 2", got)
	}
}

func TestMissingFieldErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		path string
		body string
		want string
	}{
		{"/offer", "", "Offer is required"},
		{"/offer", "{}", "Offer is required"},
		{"/offer", `{"offer":null}`, "Offer is required"},
		{"/offer", `{"offer":false}`, "Offer is required"},
		{"/offer", `{"offer":0}`, "Offer is required"},
		{"/offer", `{"offer":-0.0}`, "Offer is required"},
		{"/answer", `{"answer":0e3}`, "Answer is required"},
		{"/ice", `{"candidate":false}`, "ICE candidate is required"},
		{"/answer", "", "Answer is required"},
		{"/answer", `{"answer":""}`, "Answer is required"},
		{"/ice", "{}", "ICE candidate is required"},
		{"/leave", "", "User ID is required"},
		{"/leave", `{"userId":""}`, "User ID is required"},
		{"/offer", `{"offer":`, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.path+" "+tt.body, func(t *testing.T) {
			rec := env.do(t, "POST", tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			body := decode[signaling.ErrorResponse](t, rec)
			if body.Success || body.Error != tt.want {
				t.Fatalf("body = %+v, want error %q", body, tt.want)
			}
		})
	}
}

func TestIsMissing(t *testing.T) {
	tests := map[string]bool{
		``:          true,
		` null `:    true,
		`false`:     true,
		`""`:        true,
		`0`:         true,
		`-0.0`:      true,
		`true`:      false,
		`1`:         false,
		`-0.5`:      false,
		`"0"`:       false,
		`[]`:        false,
		`{}`:        false,
		`{"sdp":1}`: false,
	}
	for raw, want := range tests {
		if got := isMissing(json.RawMessage(raw)); got != want {
			t.Errorf("isMissing(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestOfferAnswerPassThrough(t *testing.T) {
	env := newTestEnv(t, Options{})

	if got := env.do(t, "GET", "/offer", "").Body.String(); strings.TrimSpace(got) != `{"offer":null}` {
		t.Fatalf("empty offer body = %s", got)
	}

	offer := `{"type":"offer","sdp":"v=0\r\na=custom:1\r\n","extra":[1,2]}`
	if rec := env.do(t, "POST", "/offer", `{"offer":`+offer+`}`); rec.Code != http.StatusOK {
		t.Fatalf("post offer status = %d", rec.Code)
	}
	got := decode[signaling.OfferResponse](t, env.do(t, "GET", "/offer", ""))
	if string(got.Offer) != offer {
		t.Fatalf("offer = %s, want %s", got.Offer, offer)
	}

	answer := `{"type":"answer","sdp":"a"}`
	env.do(t, "POST", "/answer", `{"answer":`+answer+`}`)
	gotAnswer := decode[signaling.AnswerResponse](t, env.do(t, "GET", "/answer", ""))
	if string(gotAnswer.Answer) != answer {
		t.Fatalf("answer = %s, want %s", gotAnswer.Answer, answer)
	}

	st := decode[signaling.RoomStatus](t, env.do(t, "GET", "/status", ""))
	if !st.HasOffer || !st.HasAnswer {
		t.Fatalf("status = %+v", st)
	}
}

func TestCandidatesIncrementalPolling(t *testing.T) {
	env := newTestEnv(t, Options{})

	env.do(t, "POST", "/ice", `{"candidate":{"candidate":"a"},"userId":"u1"}`)
	env.do(t, "POST", "/ice", `{"candidate":{"candidate":"b"},"userId":"u2"}`)

	all := decode[signaling.CandidatesResponse](t, env.do(t, "GET", "/ice?from=0", ""))
	if len(all.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(all.Candidates))
	}
	if all.Latest == 0 {
		t.Fatalf("latest must be the newest timestamp")
	}

	none := decode[signaling.CandidatesResponse](t, env.do(t, "GET", "/ice?from="+itoa(all.Latest), ""))
	if len(none.Candidates) != 0 || none.Latest != all.Latest {
		t.Fatalf("poll at latest = %+v", none)
	}

	env.do(t, "POST", "/ice", `{"candidate":{"candidate":"c"}}`)
	next := decode[signaling.CandidatesResponse](t, env.do(t, "GET", "/ice?from="+itoa(all.Latest), ""))
	if len(next.Candidates) != 1 || string(next.Candidates[0]) != `{"candidate":"c"}` {
		t.Fatalf("incremental poll = %+v", next)
	}

	mine := decode[signaling.CandidatesResponse](t, env.do(t, "GET", "/ice?from=0&exclude=u1", ""))
	if len(mine.Candidates) != 2 {
		t.Fatalf("exclude u1 returned %d, want 2", len(mine.Candidates))
	}

	bogus := decode[signaling.CandidatesResponse](t, env.do(t, "GET", "/ice?from=yesterday", ""))
	if len(bogus.Candidates) != 3 {
		t.Fatalf("unparsable from must mean 0, got %d candidates", len(bogus.Candidates))
	}

	if got := counterSum(t, env.reader, "duocall.room.signals"); got != 3 {
		t.Errorf("signals counter = %d, want 3", got)
	}
}

func TestLeaveResetsRoom(t *testing.T) {
	env := newTestEnv(t, Options{})

	a := decode[signaling.JoinResponse](t, env.do(t, "POST", "/join", "{}"))
	b := decode[signaling.JoinResponse](t, env.do(t, "POST", "/join", "{}"))
	env.do(t, "POST", "/offer", `{"offer":{"type":"offer"}}`)
	env.do(t, "POST", "/answer", `{"answer":{"type":"answer"}}`)
	env.do(t, "POST", "/ice", `{"candidate":{}}`)

	left := decode[signaling.LeaveResponse](t, env.do(t, "POST", "/leave", `{"userId":"`+a.UserID+`"}`))
	if !left.Success || left.UsersCount != 1 {
		t.Fatalf("leave = %+v", left)
	}
	env.do(t, "POST", "/leave", `{"userId":"`+b.UserID+`"}`)

	st := decode[signaling.RoomStatus](t, env.do(t, "GET", "/status", ""))
	want := signaling.RoomStatus{}
	if st != want {
		t.Fatalf("status after both left = %+v, want empty", st)
	}

	// unknown ids are accepted
	if rec := env.do(t, "POST", "/leave", `{"userId":"ghost"}`); rec.Code != http.StatusOK {
		t.Fatalf("leave unknown status = %d", rec.Code)
	}
	if got := counterSum(t, env.reader, "duocall.room.resets"); got != 1 {
		t.Errorf("resets = %d, want 1", got)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, Options{AllowedOrigins: []string{"https://app.example"}})

	req := httptest.NewRequest("OPTIONS", signaling.BasePath+"/offer", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest("GET", signaling.BasePath+"/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin got allow header %q", got)
	}
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy originPolicy
		origin string
		want   bool
	}{
		{"loopback default", originPolicy{}, "http://localhost:4200", true},
		{"ipv4 loopback", originPolicy{}, "http://127.0.0.1:3000", true},
		{"remote default", originPolicy{}, "https://example.com", false},
		{"listed", originPolicy{allowed: []string{"https://example.com"}}, "https://example.com", true},
		{"list excludes loopback", originPolicy{allowed: []string{"https://example.com"}}, "http://localhost", false},
		{"allow all", originPolicy{allowAll: true}, "https://anything", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.allows(tt.origin); got != tt.want {
				t.Errorf("allows(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestRecovererReturns500(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("registry exploded")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decode[signaling.ErrorResponse](t, rec)
	if body.Success || body.Error != "registry exploded" {
		t.Fatalf("body = %+v", body)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
