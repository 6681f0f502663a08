package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/duocall/internal/health"
	"github.com/BioHazard786/duocall/internal/observe"
	"github.com/BioHazard786/duocall/internal/signaling"
)

const (
	// Time allowed to write a frame to the watcher.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the watcher.
	pongWait = 60 * time.Second

	// Ping period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Watchers only send control frames.
	maxMessageSize = 512
)

// WatchHub fans room status snapshots out to websocket watchers. A single
// goroutine ([WatchHub.Run]) owns the watcher set.
type WatchHub struct {
	register   chan *watcher
	unregister chan *watcher
	notify     chan struct{}
	done       chan struct{}

	mu     sync.Mutex
	latest signaling.RoomStatus

	metrics *observe.Metrics
}

type watcher struct {
	hub  *WatchHub
	conn *websocket.Conn
	send chan []byte
}

// NewWatchHub creates a hub whose first snapshot is initial.
func NewWatchHub(initial signaling.RoomStatus, m *observe.Metrics) *WatchHub {
	return &WatchHub{
		register:   make(chan *watcher),
		unregister: make(chan *watcher),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		latest:     initial,
		metrics:    m,
	}
}

// Publish records st as the newest snapshot unless a newer one is already
// known. It never blocks.
func (h *WatchHub) Publish(st signaling.RoomStatus) {
	h.mu.Lock()
	if st.Version <= h.latest.Version {
		h.mu.Unlock()
		return
	}
	h.latest = st
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

var errHubStopped = errors.New("watch hub stopped")

// Err returns an error once Run has returned.
func (h *WatchHub) Err() error {
	select {
	case <-h.done:
		return errHubStopped
	default:
		return nil
	}
}

// ReadinessChecks reports the server unready once its watch hub has stopped.
func (s *Server) ReadinessChecks() []health.Checker {
	return []health.Checker{
		{Name: "watch", Check: func(context.Context) error { return s.watch.Err() }},
	}
}

// Latest returns the newest snapshot.
func (h *WatchHub) Latest() signaling.RoomStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Run owns the watcher set until ctx is cancelled, then closes every
// watcher.
func (h *WatchHub) Run(ctx context.Context) {
	defer close(h.done)

	clients := make(map[*watcher]struct{})
	drop := func(c *watcher) {
		if _, ok := clients[c]; !ok {
			return
		}
		delete(clients, c)
		close(c.send)
		h.metrics.WatchClients.Add(ctx, -1)
	}

	for {
		select {
		case <-ctx.Done():
			for c := range clients {
				drop(c)
			}
			return

		case c := <-h.register:
			clients[c] = struct{}{}
			h.metrics.WatchClients.Add(ctx, 1)
			if frame := h.frame(); frame != nil {
				c.send <- frame
			}

		case c := <-h.unregister:
			drop(c)

		case <-h.notify:
			frame := h.frame()
			if frame == nil {
				continue
			}
			for c := range clients {
				select {
				case c.send <- frame:
				default:
					// slow watcher; it can reconnect
					drop(c)
				}
			}
		}
	}
}

func (h *WatchHub) frame() []byte {
	b, err := signaling.NewWatchMessage(signaling.WatchTypeStatus, h.Latest())
	if err != nil {
		slog.Error("failed to encode status frame", "err", err)
		return nil
	}
	return b
}

func (h *WatchHub) add(c *watcher) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *WatchHub) remove(c *watcher) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("watch upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &watcher{hub: s.watch, conn: conn, send: make(chan []byte, 16)}
	if !s.watch.add(c) {
		conn.Close()
		return
	}
	slog.Debug("watcher connected", "remote", conn.RemoteAddr())

	go c.writePump()
	go c.readPump()
}

// readPump only services control frames; it unregisters the watcher when the
// connection goes away.
func (c *watcher) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("watcher read error", "err", err)
			}
			return
		}
	}
}

func (c *watcher) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				slog.Debug("watcher write error", "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
