// Package keepalive pings the signaling server while a call is in progress
// so hosting platforms that idle inactive instances keep the room alive.
package keepalive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/duocall/internal/call"
)

// DefaultInterval stays under the common 15 minute idle cutoff.
const DefaultInterval = 12 * time.Minute

const pingTimeout = 30 * time.Second

// Target is pinged on every interval. *signaling.Client satisfies it.
type Target interface {
	Ping(ctx context.Context) error
}

// Pinger pings a Target on a fixed interval between Start and Stop.
type Pinger struct {
	target   Target
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped Pinger.
func New(target Target, interval time.Duration) *Pinger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Pinger{target: target, interval: interval}
}

// Start begins pinging. It is a no-op when already running.
func (p *Pinger) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	slog.Debug("keep-alive started", "interval", p.interval)
}

// Stop halts pinging and waits for an in-flight ping to finish.
func (p *Pinger) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Debug("keep-alive stopped")
}

// Active reports whether the pinger is running.
func (p *Pinger) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Follow runs the pinger exactly while s is an active call state. It is
// meant to be registered with call.Coordinator.OnStateChange.
func (p *Pinger) Follow(s call.State) {
	if s.Active() {
		p.Start()
		return
	}
	p.Stop()
}

func (p *Pinger) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := p.target.Ping(pctx)
			cancel()
			if err != nil && ctx.Err() == nil {
				slog.Warn("keep-alive ping failed", "err", err)
			}
		}
	}
}
