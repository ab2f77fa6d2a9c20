package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veilchat/relay/internal/logger"
)

const (
	// writeWait is the allowed time for a single write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long we wait for a pong before the read pump
	// declares the connection dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the per-client outbound event buffer.
	sendBuffer = 32
)

// ErrClientGone is returned by Send when the client's outbound buffer is
// full or the socket is already closed.
var ErrClientGone = errors.New("client disconnected")

// event is the wire envelope for server-to-client pushes.
type event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Client is one authenticated websocket connection. It implements
// registry.Peer.
type Client struct {
	socketID string
	userID   string
	deviceID string

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	gateway *Gateway
}

// SocketID returns the server-assigned socket id.
func (c *Client) SocketID() string { return c.socketID }

// UserID returns the authenticated user id.
func (c *Client) UserID() string { return c.userID }

// DeviceID returns the authenticated device id.
func (c *Client) DeviceID() string { return c.deviceID }

// Connected reports whether the socket is still usable.
func (c *Client) Connected() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Send queues a named event for delivery. It never blocks: a full
// buffer means the client is too slow or gone, and the caller falls
// back to the offline queue.
func (c *Client) Send(eventName string, payload any) error {
	data, err := json.Marshal(event{Event: eventName, Data: payload})
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return ErrClientGone
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrClientGone
	}
}

// Kick closes the socket because a newer session replaced it. The close
// frame tells the old device why it was cut off.
func (c *Client) Kick(reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.close()
}

// close shuts the connection down exactly once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// readPump consumes inbound frames until the connection dies. Clients
// do not send application data over the socket (all writes go through
// the REST API), so the pump only services pings, pongs, and close
// frames, then triggers deregistration.
func (c *Client) readPump() {
	defer func() {
		c.gateway.disconnect(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxSocketFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("socket read error", "socket_id", c.socketID, "error", err)
			}
			return
		}
	}
}

// writePump drains the send channel and keeps the connection alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
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

		case <-c.closed:
			return
		}
	}
}
