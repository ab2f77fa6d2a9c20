// Package registry tracks which client sockets are currently connected.
//
// The registry is the in-memory half of the single-session invariant:
// one entry per user+device, and a new connection for the same key kicks
// the old socket before taking its place.
package registry

import (
	"sync"

	"github.com/veilchat/relay/internal/logger"
)

// Peer is a connected client socket as seen by the registry and the
// relay. The websocket gateway provides the concrete implementation;
// tests substitute their own.
type Peer interface {
	SocketID() string
	UserID() string
	DeviceID() string

	// Send pushes a named event with a JSON payload to the client.
	Send(event string, payload any) error

	// Kick closes the socket because a newer session replaced it.
	Kick(reason string)

	// Connected reports whether the underlying socket is still usable.
	// A registry entry whose peer is no longer connected is stale; the
	// relay falls back to queueing in that case.
	Connected() bool
}

// Registry is the shared map of connected sessions, keyed by
// userID + ":" + deviceID. Reads dominate; writes happen only on
// connect and disconnect, so a single RWMutex serializes all mutations.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Peer
}

// New creates an empty session registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]Peer),
	}
}

func sessionKey(userID, deviceID string) string {
	return userID + ":" + deviceID
}

// Connect registers the peer, kicking any previous socket registered
// under the same user+device key. Returns the replaced peer, if any.
func (r *Registry) Connect(peer Peer) Peer {
	key := sessionKey(peer.UserID(), peer.DeviceID())

	r.mu.Lock()
	old := r.sessions[key]
	r.sessions[key] = peer
	r.mu.Unlock()

	if old != nil && old.SocketID() != peer.SocketID() {
		logger.Info("session replaced",
			"user_id", peer.UserID(),
			"device_id", peer.DeviceID(),
			"old_socket_id", old.SocketID(),
			"socket_id", peer.SocketID())
		old.Kick("session replaced by a newer connection")
		return old
	}
	return nil
}

// Disconnect removes the session entry, but only when the entry still
// belongs to socketID. A late disconnect event from a kicked socket must
// not evict the connection that replaced it.
func (r *Registry) Disconnect(userID, deviceID, socketID string) bool {
	key := sessionKey(userID, deviceID)

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[key]
	if !ok || current.SocketID() != socketID {
		return false
	}
	delete(r.sessions, key)
	return true
}

// Get returns the peer registered for user+device, if any.
func (r *Registry) Get(userID, deviceID string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.sessions[sessionKey(userID, deviceID)]
	return peer, ok
}

// IsOnline reports whether a usable socket exists for user+device.
func (r *Registry) IsOnline(userID, deviceID string) bool {
	peer, ok := r.Get(userID, deviceID)
	return ok && peer.Connected()
}

// AnyDeviceOf returns the peer registered for the user. With the
// single-session invariant there is at most one. The peer's socket may be
// stale; callers check Connected().
func (r *Registry) AnyDeviceOf(userID string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, peer := range r.sessions {
		if peer.UserID() == userID {
			return peer, true
		}
	}
	return nil, false
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
