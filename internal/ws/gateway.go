// Package ws implements the websocket gateway: handshake authentication,
// session registration, and live message push.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/veilchat/relay/internal/api/auth"
	"github.com/veilchat/relay/internal/logger"
	"github.com/veilchat/relay/internal/registry"
	"github.com/veilchat/relay/pkg/metrics"
	"github.com/veilchat/relay/pkg/relay/store"
)

const (
	// authWait is how long a freshly upgraded socket has to present its
	// auth frame before the server hangs up.
	authWait = 10 * time.Second

	// maxSocketFrame bounds inbound frames; clients only ever send the
	// small auth envelope and control frames.
	maxSocketFrame = 4096
)

// authFrame is the first message a client must send after the upgrade.
type authFrame struct {
	Auth struct {
		Token string `json:"token"`
	} `json:"auth"`
}

// Gateway upgrades HTTP requests to websockets, authenticates the
// handshake, and registers the resulting session.
type Gateway struct {
	jwtService *auth.JWTService
	devices    store.DeviceStore
	registry   *registry.Registry
	upgrader   websocket.Upgrader
}

// NewGateway creates a websocket gateway backed by the given token
// verifier, device store, and session registry.
func NewGateway(jwtService *auth.JWTService, devices store.DeviceStore, reg *registry.Registry) *Gateway {
	return &Gateway{
		jwtService: jwtService,
		devices:    devices,
		registry:   reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The API is token-authenticated; browser origin checks add
			// nothing for non-browser messaging clients.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Registry returns the session registry behind the gateway.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// HandleConnection serves GET /ws. The handshake is: upgrade, then the
// client sends {"auth":{"token":"..."}} within authWait. The token is
// verified and the device row re-checked before the session is
// registered; any failure closes the socket with a policy-violation
// close frame and no further detail.
func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	claims, ok := g.authenticate(r.Context(), conn)
	if !ok {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	client := &Client{
		socketID: uuid.New().String(),
		userID:   claims.UserID,
		deviceID: claims.DeviceID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		closed:   make(chan struct{}),
		gateway:  g,
	}

	g.registry.Connect(client)
	metrics.ConnectedSessions.Set(float64(g.registry.Len()))
	logger.Info("socket connected",
		"socket_id", client.socketID,
		"user_id", client.userID,
		"device_id", client.deviceID)

	go client.writePump()
	go client.readPump()
}

// authenticate reads the auth frame and validates token plus device
// existence. Both checks happen before the session becomes visible to
// the relay.
func (g *Gateway) authenticate(ctx context.Context, conn *websocket.Conn) (*auth.Claims, bool) {
	conn.SetReadLimit(maxSocketFrame)
	if err := conn.SetReadDeadline(time.Now().Add(authWait)); err != nil {
		return nil, false
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}

	var frame authFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Auth.Token == "" {
		return nil, false
	}

	claims, err := g.jwtService.ValidateToken(frame.Auth.Token)
	if err != nil {
		return nil, false
	}

	// Device re-check: a token minted before a takeover is dead even if
	// its signature still verifies.
	if _, err := g.devices.GetDevice(ctx, claims.UserID, claims.DeviceID); err != nil {
		return nil, false
	}

	// Clear the auth deadline; readPump sets its own pong-based one.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, false
	}

	return claims, true
}

// disconnect removes the client from the registry, unless a newer
// socket already replaced it.
func (g *Gateway) disconnect(c *Client) {
	if g.registry.Disconnect(c.userID, c.deviceID, c.socketID) {
		metrics.ConnectedSessions.Set(float64(g.registry.Len()))
		logger.Info("socket disconnected",
			"socket_id", c.socketID,
			"user_id", c.userID,
			"device_id", c.deviceID)
	}
}
