package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/darkcode/darkcode-server/internal/metrics"
	"github.com/darkcode/darkcode-server/internal/session"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long the connection may be silent before the
	// read side gives up.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize caps inbound frames; prompts are text, not blobs.
	maxMessageSize = 1 << 20
)

// client couples one WebSocket connection with its session. The write
// pump owns the connection for writes; everything else goes through
// the send channel.
type client struct {
	conn   *websocket.Conn
	sess   *session.Session
	send   chan Envelope
	done   chan struct{}
	logger zerolog.Logger
}

func newClient(conn *websocket.Conn, sess *session.Session, logger zerolog.Logger) *client {
	return &client{
		conn:   conn,
		sess:   sess,
		send:   make(chan Envelope, 256),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// enqueue hands a frame to the write pump. A client whose buffer stays
// full is dropped rather than allowed to stall the agent.
func (c *client) enqueue(e Envelope) bool {
	select {
	case c.send <- e:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn().
			Str("event", "ws.send_buffer_full").
			Msg("dropping slow client")
		c.close()
		return false
	}
}

// close makes the write pump exit, which closes the connection.
func (c *client) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// writePump owns all writes: queued frames and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case e := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(e); err != nil {
				return
			}
			metrics.IncMessage("out")

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump delivers inbound frames to handle until the connection
// drops.
func (c *client) readPump(handle func(Envelope)) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var e Envelope
		if err := c.conn.ReadJSON(&e); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}
		metrics.IncMessage("in")
		c.sess.Touch()
		handle(e)
	}
}
