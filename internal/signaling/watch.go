package signaling

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const maxWatchFrame = 4 * 1024

// Watch opens the room status stream. Snapshots are delivered on the
// returned channel, which is closed when ctx ends or the connection drops.
func (c *Client) Watch(ctx context.Context) (<-chan RoomStatus, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + BasePath + "/watch"

	dialer := *websocket.DefaultDialer
	if c.dialer != nil {
		dialer.NetDialContext = c.dialer.DialContext
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxWatchFrame)

	out := make(chan RoomStatus, 1)
	stop := context.AfterFunc(ctx, func() {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})

	go func() {
		defer func() {
			stop()
			conn.Close()
			close(out)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					slog.Debug("watch stream ended", "err", err)
				}
				return
			}
			var msg WatchMessage
			if err := msgpack.Unmarshal(data, &msg); err != nil {
				slog.Warn("malformed watch frame", "err", err)
				continue
			}
			if msg.Type != WatchTypeStatus {
				continue
			}
			var st RoomStatus
			if err := msg.DecodePayload(&st); err != nil {
				slog.Warn("malformed status payload", "err", err)
				continue
			}
			select {
			case out <- st:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
