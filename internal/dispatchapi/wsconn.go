// Package dispatchapi wires the dispatch core to concrete transports: a
// gorilla/websocket-backed agent streaming session and bridge control
// channel, and a gin-backed poll REST surface (§6).
package dispatchapi

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/agentdispatch/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// wsConn adapts a gorilla/websocket connection to dispatch.Transport:
// Send marshals a frame to JSON and queues it on a buffered channel drained
// by WritePump, following the teacher's gateway/websocket.Client split
// between a read pump and a write pump so a slow reader never blocks sends.
type wsConn struct {
	conn   *websocket.Conn
	send   chan []byte
	log    *logger.Logger
	onDone func()
}

func newWSConn(conn *websocket.Conn, log *logger.Logger, onDone func()) *wsConn {
	return &wsConn{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		log:    log,
		onDone: onDone,
	}
}

// Send implements dispatch.Transport. A full send buffer or a closed
// channel is treated as a terminal transport error (§9's transport
// capability contract).
func (c *wsConn) Send(frame any) (err error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	// ReadPump closes c.send on exit; a send on the closed channel panics,
	// so turn that into an error instead.
	defer func() {
		if recover() != nil {
			err = websocket.ErrCloseSent
		}
	}()
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// ReadPump reads frames until the connection closes or errors, invoking
// handle for each successfully decoded JSON object. It always calls onDone
// exactly once on exit so the caller can run disconnect/re-queue policy.
func (c *wsConn) ReadPump(handle func(map[string]any)) {
	defer func() {
		close(c.send)
		_ = c.conn.Close()
		if c.onDone != nil {
			c.onDone()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		handle(frame)
	}
}

// WritePump drains the send channel to the socket and pings on an interval,
// matching the teacher's gateway/websocket.Client write loop.
func (c *wsConn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var errSendBufferFull = sendBufferFullError{}

type sendBufferFullError struct{}

func (sendBufferFullError) Error() string { return "websocket send buffer full" }
