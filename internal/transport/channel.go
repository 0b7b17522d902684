package transport

import (
	"context"
	"sync"
	"time"

	"chatrelay/internal/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WSChannel wraps one websocket connection as a registry channel. Writes
// are serialized so concurrent dispatches to the same client cannot
// interleave frames.
type WSChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	sendMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewWSChannel(conn *websocket.Conn, writeTimeout time.Duration) *WSChannel {
	return &WSChannel{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// Send pushes a single frame to the client. The write is bounded by the
// channel's write timeout in addition to any caller deadline. A write
// that times out closes the underlying connection, so the next Send on
// this channel fails fast with a non-timeout error and the read loop
// unblocks.
func (c *WSChannel) Send(ctx context.Context, frame *models.ServerFrame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	return wsjson.Write(ctx, c.conn, frame)
}

// ReadFrame blocks until the client sends a frame or the connection
// fails. The caller owns the read loop; there is exactly one reader.
func (c *WSChannel) ReadFrame(ctx context.Context) (*models.ClientFrame, error) {
	var frame models.ClientFrame
	if err := wsjson.Read(ctx, c.conn, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// Close closes the underlying connection. Safe to call multiple times;
// subsequent calls return the first result.
func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, "connection closed")
	})
	return c.closeErr
}
