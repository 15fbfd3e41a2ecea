// ABOUTME: Live websocket connection with a buffered, single-writer outbound queue
// ABOUTME: Slow consumers are closed instead of blocking fan-out

package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	errConnectionClosed = errors.New("connection closed")
	errSlowConsumer     = errors.New("connection send buffer full")
)

// connOptions tunes a live connection
type connOptions struct {
	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration
}

// Connection is one authenticated live session. A user may hold several.
// Send is safe for concurrent use; all websocket writes happen on the
// connection's write loop.
type Connection struct {
	ID     string
	UserID string

	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
	opts   connOptions
	logger *slog.Logger
}

func newConnection(userID string, ws *websocket.Conn, opts connOptions, logger *slog.Logger) *Connection {
	if opts.sendBuffer <= 0 {
		opts.sendBuffer = 1
	}
	id := uuid.NewString()
	return &Connection{
		ID:     id,
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, opts.sendBuffer),
		closed: make(chan struct{}),
		opts:   opts,
		logger: logger.With("conn_id", id, "user_id", userID),
	}
}

// start launches the write loop. Call exactly once.
func (c *Connection) start() {
	go c.writeLoop()
}

// Send enqueues a frame without blocking. A full buffer closes the
// connection with going-away so the client reconnects and resyncs.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn("slow consumer, closing connection", "buffer", cap(c.send))
		go c.Close(websocket.CloseGoingAway, "send buffer full")
		return errSlowConsumer
	}
}

// Close sends a close frame and tears down the socket. Safe to call more than once.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		if c.ws != nil {
			deadline := time.Now().Add(c.opts.writeTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			_ = c.ws.Close()
		}
		c.logger.Debug("connection closed", "code", code, "reason", reason)
	})
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
