package keepalive

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BioHazard786/duocall/internal/call"
)

type countingTarget struct {
	pings atomic.Int32
	err   error
}

func (c *countingTarget) Ping(context.Context) error {
	c.pings.Add(1)
	return c.err
}

func waitPings(t *testing.T, c *countingTarget, n int32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.pings.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("pings = %d, want >= %d", c.pings.Load(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPingerPingsUntilStopped(t *testing.T) {
	target := &countingTarget{}
	p := New(target, 5*time.Millisecond)

	p.Start()
	p.Start()
	if !p.Active() {
		t.Fatal("pinger not active after Start")
	}
	waitPings(t, target, 3)

	p.Stop()
	if p.Active() {
		t.Fatal("pinger active after Stop")
	}
	after := target.pings.Load()
	time.Sleep(30 * time.Millisecond)
	if got := target.pings.Load(); got != after {
		t.Fatalf("pinged %d more times after Stop", got-after)
	}
	p.Stop()
}

func TestPingFailuresDoNotStopPinger(t *testing.T) {
	target := &countingTarget{err: errors.New("503 service unavailable")}
	p := New(target, 5*time.Millisecond)
	p.Start()
	defer p.Stop()

	waitPings(t, target, 3)
	if !p.Active() {
		t.Fatal("pinger stopped after failures")
	}
}

func TestFollow(t *testing.T) {
	tests := []struct {
		state call.State
		want  bool
	}{
		{call.Connecting, true},
		{call.Waiting, true},
		{call.Connected, true},
		{call.Error, false},
		{call.Disconnected, false},
	}

	p := New(&countingTarget{}, time.Hour)
	defer p.Stop()
	for _, tt := range tests {
		p.Follow(tt.state)
		if got := p.Active(); got != tt.want {
			t.Errorf("after %v active = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestDefaultInterval(t *testing.T) {
	if p := New(&countingTarget{}, 0); p.interval != DefaultInterval {
		t.Fatalf("interval = %v", p.interval)
	}
}
