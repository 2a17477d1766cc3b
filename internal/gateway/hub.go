package gateway

import (
	"context"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/imrelay/gateway/internal/apiclient"
	"github.com/imrelay/gateway/internal/auth"
	"github.com/imrelay/gateway/internal/broker"
	"github.com/imrelay/gateway/internal/config"
	"github.com/imrelay/gateway/internal/gwerrors"
	"github.com/imrelay/gateway/internal/metrics"
	"github.com/imrelay/gateway/internal/presence"
	"github.com/imrelay/gateway/internal/protocol"
)

// Hub is the gateway's central connection registry and packet dispatcher (C1/C7, spec §4.7). It owns the session
// Registry, the out-of-scope service clients (C5 apiclient, C6 broker, C10 presence), and routes every inbound
// frame to the handler for its packet type. Grounded on the teacher's Hub — same register/unregister/dispatch
// shape — generalized from Discord-style opcode dispatch to this protocol's closed packet-type table.
type Hub struct {
	registry *Registry
	cfg      *config.Config
	api      *apiclient.Client
	broker   *broker.Broker
	presence *presence.Store
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewHub constructs a Hub. The Registry is created internally so its disconnect hook can close over the Hub for
// presence updates and metrics without exposing registry internals to callers.
func NewHub(cfg *config.Config, api *apiclient.Client, brk *broker.Broker, presenceStore *presence.Store, m *metrics.Metrics, logger zerolog.Logger) *Hub {
	h := &Hub{
		cfg:      cfg,
		api:      api,
		broker:   brk,
		presence: presenceStore,
		metrics:  m,
		log:      logger.With().Str("component", "gateway").Logger(),
	}
	h.registry = NewRegistry(h.handleDisconnect)
	return h
}

// Registry exposes the session registry for wiring into the fan-out subscriber (C8).
func (h *Hub) Registry() *Registry { return h.registry }

// ServeWebSocket runs a single upgraded connection to completion. It enforces the connection cap, spawns the
// client's write pump, and blocks on its read pump until the socket closes (spec §4.1, §4.2 "reject once
// maxConnections is reached").
func (h *Hub) ServeWebSocket(conn *websocket.Conn) {
	if h.registry.Count() >= h.cfg.MaxConnections {
		h.log.Warn().Msg("rejecting connection: maximum connections reached")
		msg := websocket.FormatCloseMessage(CloseMaxConnections, "maximum connections reached")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	client := newClient(h, conn, h.log)
	if h.metrics != nil {
		h.metrics.ConnectionAccepted()
	}
	connectedAt := time.Now()

	go client.writePump()
	client.readPump()

	if h.metrics != nil {
		h.metrics.ConnectionClosed(time.Since(connectedAt))
	}
}

// handleDisconnect is the Registry's DisconnectHook. It runs exactly once per session removal — clean logout,
// eviction, or the read pump exiting on socket error/idle-timeout — and updates cluster presence accordingly
// (spec §3 "destroyed on close/eviction/heartbeat timeout").
func (h *Hub) handleDisconnect(s *Session) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	becameOffline, err := h.presence.DeviceDisconnected(ctx, s.UserID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", s.UserID).Msg("failed to update presence on disconnect")
		return
	}
	if becameOffline {
		h.log.Debug().Str("user_id", s.UserID).Msg("user has no remaining sessions, marked offline")
	}
}

// dispatch routes one decoded inbound frame to its handler. Before LOGIN succeeds only TypeLogin is accepted;
// every other packet type is dropped silently, with no reply and no log line, to avoid giving an unauthenticated
// peer an oracle for which packet types exist (spec §4.7 "If absent, only LOGIN is permitted; everything else is
// dropped silently").
func (h *Hub) dispatch(c *Client, env protocol.Envelope) {
	start := time.Now()
	if h.metrics != nil {
		h.metrics.FrameReceived(len(env.Data))
	}

	if !c.IsAuthenticated() && env.Type != protocol.TypeLogin {
		return
	}

	switch env.Type {
	case protocol.TypeLogin:
		var data protocol.LoginData
		if err := env.DecodeData(&data); err != nil {
			c.sendServerError(env.Seq, "malformed LOGIN payload")
			return
		}
		h.handleLogin(c, env.Seq, data)

	case protocol.TypeLogout:
		h.handleLogout(c, env.Seq)

	case protocol.TypeHeartbeat:
		h.handleHeartbeat(c, env.Seq)

	case protocol.TypeChatMessage:
		var data protocol.ChatMessageData
		if err := env.DecodeData(&data); err != nil {
			c.sendServerError(env.Seq, "malformed CHAT_MESSAGE payload")
			return
		}
		h.handleChatMessage(c, env.Seq, data)

	case protocol.TypeTyping:
		var data protocol.TypingData
		if err := env.DecodeData(&data); err != nil {
			return
		}
		h.handleTyping(c, data)

	case protocol.TypeReadAck:
		var data protocol.ReadAckData
		if err := env.DecodeData(&data); err != nil {
			c.sendServerError(env.Seq, "malformed READ_ACK payload")
			return
		}
		h.handleReadAck(c, env.Seq, data)

	case protocol.TypeRecallMessage:
		var data protocol.RecallMessageData
		if err := env.DecodeData(&data); err != nil {
			c.sendServerError(env.Seq, "malformed RECALL_MESSAGE payload")
			return
		}
		h.handleRecallMessage(c, env.Seq, data)

	case protocol.TypeSyncRequest:
		var data protocol.SyncRequestData
		if err := env.DecodeData(&data); err != nil {
			c.sendServerError(env.Seq, "malformed SYNC_REQUEST payload")
			return
		}
		h.handleSyncRequest(c, env.Seq, data)

	case protocol.TypeOfflineSyncRequest:
		var data protocol.OfflineSyncRequestData
		if err := env.DecodeData(&data); err != nil {
			c.sendServerError(env.Seq, "malformed OFFLINE_SYNC_REQUEST payload")
			return
		}
		h.handleOfflineSyncRequest(c, env.Seq, data)

	case protocol.TypeOfflineSyncAck:
		var data protocol.OfflineSyncAckData
		if err := env.DecodeData(&data); err != nil {
			return
		}
		h.handleOfflineSyncAck(c, data)
	}

	if h.metrics != nil {
		h.metrics.DispatchObserved(time.Since(start))
	}
}

// handleLogin validates the access token, enforces the connection cap, and registers the session — displacing any
// existing session for the same (userId, deviceId) (spec §4.4, §4.2 invariant 1).
func (h *Hub) handleLogin(c *Client, seq string, data protocol.LoginData) {
	if data.Token == "" || data.DeviceID == "" {
		h.replyLoginFailure(c, seq, "token and deviceId are required")
		c.closeWithCode(CloseAuthFailed, "missing credentials")
		return
	}

	identity, err := auth.ValidateIdentity(data.Token, data.DeviceID, h.cfg.JWTSecret, h.cfg.JWTIssuer)
	if err != nil {
		h.log.Debug().Err(err).Msg("LOGIN token validation failed")
		h.replyLoginFailure(c, seq, "authentication failed")
		c.closeWithCode(CloseAuthFailed, "invalid token")
		return
	}

	if h.registry.Count() >= h.cfg.MaxConnections {
		h.replyLoginFailure(c, seq, "server at capacity")
		c.closeWithCode(CloseMaxConnections, "maximum connections reached")
		return
	}

	deviceType := data.DeviceType
	if deviceType == "" {
		deviceType = protocol.DeviceWeb
	}

	displaced := h.registry.Add(c, identity.UserID, identity.DeviceID, deviceType)
	if displaced != nil {
		h.kickDisplaced(displaced)
	}

	c.setIdentity(identity.UserID, identity.DeviceID, deviceType)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := h.presence.DeviceConnected(ctx, identity.UserID); err != nil {
		h.log.Warn().Err(err).Str("user_id", identity.UserID).Msg("failed to mark presence online")
	}

	raw, err := protocol.Encode(protocol.TypeLoginResponse, seq, protocol.LoginResponseData{Success: true, UserID: identity.UserID})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to build LOGIN_RESPONSE frame")
		return
	}
	c.enqueue(raw)

	sessionID := ""
	if s := h.registry.Get(identity.UserID, identity.DeviceID); s != nil {
		sessionID = s.SessionID
	}
	h.log.Info().Str("user_id", identity.UserID).Str("device_id", identity.DeviceID).Str("session_id", sessionID).
		Msg("session authenticated")
}

func (h *Hub) replyLoginFailure(c *Client, seq, reason string) {
	raw, err := protocol.Encode(protocol.TypeLoginResponse, seq, protocol.LoginResponseData{Success: false, Error: reason})
	if err != nil {
		return
	}
	c.enqueue(raw)
}

// kickDisplaced notifies a session's socket that it has been replaced by a newer LOGIN for the same (userId,
// deviceId) and lets its write pump drain the KICKED_OFFLINE frame before the read pump's own eviction-triggered
// close runs (spec §4.2 "at most one authenticated session per (userId,deviceId)").
func (h *Hub) kickDisplaced(s *Session) {
	raw, err := protocol.Encode(protocol.TypeKickedOffline, "", protocol.KickedOfflineData{Reason: "replaced by a new connection for this device"})
	if err != nil {
		return
	}
	if h.metrics != nil {
		h.metrics.ConnectionKicked()
	}
	s.socketHandle.enqueue(raw)
	s.socketHandle.closeSend()
}

// handleLogout ends the session's connection cleanly. The Registry's disconnect hook handles the presence update;
// this handler only acknowledges the request and closes the socket (spec §4.7 LOGOUT).
func (h *Hub) handleLogout(c *Client, seq string) {
	raw, err := protocol.Encode(protocol.TypeLogoutResponse, seq, protocol.LogoutResponseData{Success: true})
	if err == nil {
		c.enqueue(raw)
	}
	h.registry.RemoveBySocket(c)
	c.closeSend()
}

// handleHeartbeat refreshes the session's liveness and echoes the server clock (spec §4.7 HEARTBEAT, §4.1 idle
// timeout reset).
func (h *Hub) handleHeartbeat(c *Client, seq string) {
	if s := h.registry.GetBySocket(c); s != nil {
		s.LastHeartbeatAt = time.Now()
	}
	raw, err := protocol.Encode(protocol.TypeHeartbeatResp, seq, protocol.HeartbeatResponseData{ServerTime: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	c.enqueue(raw)
}

// Shutdown closes every active session, notifying each client before closing its socket (spec §9 graceful
// shutdown — grounded on the teacher's Hub.Shutdown).
func (h *Hub) Shutdown() {
	for _, s := range h.registry.AllSessions() {
		raw, err := protocol.Encode(protocol.TypeKickedOffline, "", protocol.KickedOfflineData{Reason: "server shutting down"})
		if err == nil {
			s.socketHandle.enqueue(raw)
		}
		s.socketHandle.closeSend()
		s.socketHandle.closeWithCode(websocket.CloseGoingAway, "server shutting down")
	}
	h.log.Info().Msg("gateway hub shut down")
}

// classify is a small convenience wrapper kept close to the handlers that use it, so each handler file need not
// repeat the gwerrors import for a single call.
func classify(err error) gwerrors.Kind { return gwerrors.Classify(err) }

// behaviorFor resolves the handling behaviour (spec §7) for an error a handler received from a dependency call, so
// every handler's ack/close decision on dependency failure comes from the same taxonomy table instead of being
// re-decided ad hoc per call site.
func behaviorFor(err error) gwerrors.Behavior { return gwerrors.BehaviorFor(classify(err)) }
