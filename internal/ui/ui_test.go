package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/duocall/internal/call"
	"github.com/BioHazard786/duocall/internal/signaling"
)

func newTestModel(retry func() error) *callModel {
	v := NewCallView("http://localhost:8080", retry)
	return v.model
}

func TestCallModelTracksState(t *testing.T) {
	m := newTestModel(nil)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	m.now = func() time.Time { return now }

	m.Update(stateMsg{state: call.Connecting})
	if !strings.Contains(m.View(), "Connecting...") {
		t.Errorf("view missing connecting message:\n%s", m.View())
	}

	m.Update(stateMsg{state: call.Connected})
	now = start.Add(65 * time.Second)
	view := m.View()
	if !strings.Contains(view, "Connected! Call in progress") {
		t.Errorf("view missing connected message:\n%s", view)
	}
	if !strings.Contains(view, "1m 5s") {
		t.Errorf("view missing call duration:\n%s", view)
	}
}

func TestCallModelShowsUserMessage(t *testing.T) {
	m := newTestModel(nil)
	err := call.WrapError("acquire media", call.ErrMediaAccessDenied, errors.New("no such file"))
	m.Update(stateMsg{state: call.Error, err: err})

	view := m.View()
	if !strings.Contains(view, call.MediaDeniedMessage) {
		t.Errorf("view missing media message:\n%s", view)
	}
	if strings.Contains(view, "retry") {
		t.Errorf("retry offered without a retry func:\n%s", view)
	}
}

func TestCallModelRetry(t *testing.T) {
	calls := 0
	m := newTestModel(func() error {
		calls++
		return errors.New("still broken")
	})

	// Retry is ignored outside Error.
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")}); cmd != nil {
		t.Fatal("retry outside Error returned a command")
	}

	m.Update(stateMsg{state: call.Error, err: errors.New("boom")})
	if !strings.Contains(m.View(), "Press r to retry") {
		t.Errorf("view missing retry hint:\n%s", m.View())
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Fatal("retry returned no command")
	}
	if _, again := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")}); again != nil {
		t.Error("second retry while retrying returned a command")
	}

	m.Update(cmd())
	if calls != 1 {
		t.Errorf("retry called %d times, want 1", calls)
	}
	if m.retrying {
		t.Error("still retrying after result")
	}
	if !strings.Contains(m.View(), "still broken") {
		t.Errorf("view missing retry error:\n%s", m.View())
	}
}

func TestCallModelQuit(t *testing.T) {
	m := newTestModel(nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c did not quit")
	}
	if m.View() != "" {
		t.Error("view not cleared after quit")
	}
}

func TestCallViewQuitUnblocksListeners(t *testing.T) {
	v := NewCallView("http://localhost:8080", nil)
	v.Quit()
	v.Quit()

	if _, ok := v.model.listen()().(quitMsg); !ok {
		t.Error("listen did not report quit")
	}

	done := make(chan struct{})
	go func() {
		for range 32 {
			v.SetState(call.Connecting, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetState blocked after Quit")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{2*time.Minute + 3*time.Second, "2m 3s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSummaryView(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	out := SummaryView(call.Summary{
		Role:               call.RoleOfferer,
		FinalState:         call.Disconnected,
		Started:            start,
		ConnectedAt:        start.Add(time.Second),
		Ended:              start.Add(91 * time.Second),
		CandidatesSent:     3,
		CandidatesReceived: 4,
	})
	for _, want := range []string{"offerer", "disconnected", "1m 30s", "Candidates Sent", "Ended"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	never := SummaryView(call.Summary{Role: call.RoleAnswerer})
	if !strings.Contains(never, "Never connected") {
		t.Errorf("summary missing never-connected status:\n%s", never)
	}
}

func TestStatusView(t *testing.T) {
	out := StatusView(signaling.RoomStatus{UsersCount: 1, HasOffer: true, IceCandidatesCount: 5}, time.Time{})
	for _, want := range []string{"1/2", "yes", "no", "5"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Updated") {
		t.Error("footer rendered without a timestamp")
	}
}

func TestCallInfoView(t *testing.T) {
	out := CallInfo{ServerURL: "http://example.test", RecordDir: "/tmp/rec"}.View()
	for _, want := range []string{"http://example.test", "receive only", "/tmp/rec"} {
		if !strings.Contains(out, want) {
			t.Errorf("call info missing %q:\n%s", want, out)
		}
	}
}
