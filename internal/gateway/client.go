package gateway

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/imrelay/gateway/internal/protocol"
)

// writeWait is the time allowed to write a single frame to the peer.
const writeWait = 10 * time.Second

// Client represents a single WebSocket connection. Each client runs two goroutines (readPump and writePump) and
// communicates with the Hub via its send channel — grounded on the teacher's identical split (internal/gateway's
// original client.go), generalized from the teacher's Discord-style opcode frame to this protocol's {type, seq,
// data} envelope (spec §4.1, §4.3).
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	// done is closed to signal shutdown. writePump and enqueue both select on done to avoid send-on-closed-channel
	// panics when unregister races with dispatch (teacher's pattern, unchanged).
	done      chan struct{}
	closeOnce sync.Once

	mu            sync.RWMutex
	userID        string
	deviceID      string
	deviceType    protocol.DeviceType
	authenticated bool

	limiter *rate.Limiter

	violations      int
	lastViolationAt time.Time
}

func newClient(hub *Hub, conn *websocket.Conn, logger zerolog.Logger) *Client {
	cfg := hub.cfg
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, cfg.SendQueueHighWater),
		done:    make(chan struct{}),
		log:     logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitFramesPerSec), cfg.RateLimitBurst),
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// UserID returns the authenticated user ID, or "" before LOGIN succeeds.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// DeviceID returns the authenticated device ID, or "" before LOGIN succeeds.
func (c *Client) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

// DeviceType returns the authenticated device platform, or "" before LOGIN succeeds.
func (c *Client) DeviceType() protocol.DeviceType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceType
}

// IsAuthenticated reports whether LOGIN has completed for this connection.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Client) setIdentity(userID, deviceID string, deviceType protocol.DeviceType) {
	c.mu.Lock()
	c.userID = userID
	c.deviceID = deviceID
	c.deviceType = deviceType
	c.authenticated = true
	c.mu.Unlock()
}

// readPump reads frames from the WebSocket connection and hands each to the Hub's dispatcher. It runs in its own
// goroutine and is responsible for removing the session and closing the connection when the loop exits.
func (c *Client) readPump() {
	defer func() {
		c.hub.registry.RemoveBySocket(c)
		c.closeSend()
		_ = c.conn.Close()
	}()

	idleTimeout := c.hub.cfg.IdleTimeout()
	c.conn.SetReadLimit(int64(c.hub.cfg.MaxFrameBytes) + 1024) // a touch of headroom so oversize is caught by Decode, not the socket library
	_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		if !c.limiter.Allow() {
			if c.hub.metrics != nil {
				c.hub.metrics.FrameRejected("rate_limited")
			}
			if c.recordViolation() {
				c.closeWithCode(CloseRateLimited, "rate limit exceeded")
				return
			}
			continue
		}

		env, err := protocol.Decode(message)
		if err != nil {
			if c.hub.metrics != nil {
				c.hub.metrics.FrameRejected(classify(err).String())
			}
			if c.recordViolation() {
				c.closeWithCode(CloseDecodeError, "repeated malformed frames")
				return
			}
			c.sendServerError(env.Seq, "malformed or oversized frame")
			continue
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		c.hub.dispatch(c, env)
	}
}

// recordViolation tracks protocol violations (malformed frames, rate-limit hits) in a rolling 10s window and reports
// whether the connection has now exceeded the threshold of 3 within that window (spec §4.1).
func (c *Client) recordViolation() bool {
	now := time.Now()
	if now.Sub(c.lastViolationAt) > 10*time.Second {
		c.violations = 0
	}
	c.violations++
	c.lastViolationAt = now
	return c.violations >= 3
}

// writePump writes frames from the send channel to the WebSocket connection. It exits when done is closed, draining
// any buffered frames first so the peer receives them before the connection closes.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case msg := <-c.send:
			c.writeFrame(msg)
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if !c.writeFrame(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Client) writeFrame(msg []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.log.Debug().Err(err).Msg("websocket write error")
		return false
	}
	if c.hub.metrics != nil {
		c.hub.metrics.FrameSent()
	}
	return true
}

// enqueue pushes a frame onto the client's outbound FIFO. If the client is shutting down the frame is dropped
// silently. If the FIFO is at its high-water mark the connection is treated as unresponsive and dropped rather than
// let the buffer grow unbounded (spec §5, §9 "drop the session ... rather than growing unbounded memory").
func (c *Client) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn().Msg("send buffer full, closing connection")
		if c.hub.metrics != nil {
			c.hub.metrics.DispatchError("DeliveryError")
		}
		c.closeSend()
		_ = c.conn.Close()
	}
}

// closeWithCode sends a close frame carrying code and reason, then closes the socket. conn is nil only in handler
// tests that construct a Client without a live connection (see gateway package tests); closeSend still runs so the
// write pump's drain-and-exit path is exercised the same as in production.
func (c *Client) closeWithCode(code int, reason string) {
	c.closeSend()
	if c.conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

func (c *Client) sendServerError(seq, message string) {
	raw, err := protocol.Encode(protocol.TypeServerError, seq, protocol.ServerErrorData{Error: message})
	if err != nil {
		c.log.Error().Err(err).Msg("failed to build SERVER_ERROR frame")
		return
	}
	c.enqueue(raw)
}
