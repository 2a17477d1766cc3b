package gateway

import (
	"time"

	"github.com/google/uuid"

	"github.com/imrelay/gateway/internal/protocol"
)

// state is a connection's position in the per-connection state machine (spec §4.7).
type state int

const (
	stateConnecting state = iota
	stateAuthenticated
	stateClosing
)

// Session is the registry's record of one authenticated (userId, deviceId) association (spec §3). socketHandle is
// deliberately opaque from the registry's point of view — it is the *Client that owns the live connection; the
// registry never reaches into the socket, it only compares pointer identity to detect a session's own eviction race
// (the "current != client" check the teacher's Hub.unregister performs).
type Session struct {
	// SessionID correlates log lines for one connection's lifetime across the hub, presence, and fan-out packages;
	// it carries no protocol meaning and is never sent to the client.
	SessionID       string
	UserID          string
	DeviceID        string
	DeviceType      protocol.DeviceType
	socketHandle    *Client
	LastHeartbeatAt time.Time
	ConnectedAt     time.Time
	state           state

	// generation increments each time this (userId, deviceId) key is assigned a new socket. It is only recorded:
	// removeBySocketLocked detects a Client racing its own eviction by comparing session pointers, not generations.
	generation uint64
}

func newSession(socket *Client, userID, deviceID string, deviceType protocol.DeviceType, generation uint64) *Session {
	now := time.Now()
	return &Session{
		SessionID:       uuid.NewString(),
		UserID:          userID,
		DeviceID:        deviceID,
		DeviceType:      deviceType,
		socketHandle:    socket,
		LastHeartbeatAt: now,
		ConnectedAt:     now,
		state:           stateAuthenticated,
		generation:      generation,
	}
}

// sessionKey identifies a session in the byKey index.
type sessionKey struct {
	userID   string
	deviceID string
}

func keyFor(userID, deviceID string) sessionKey {
	return sessionKey{userID: userID, deviceID: deviceID}
}
