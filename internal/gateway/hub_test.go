package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/imrelay/gateway/internal/auth"
	"github.com/imrelay/gateway/internal/config"
	"github.com/imrelay/gateway/internal/presence"
	"github.com/imrelay/gateway/internal/protocol"
)

const testSecret = "test-secret"
const testIssuer = "test-issuer"

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:             testSecret,
		JWTIssuer:             testIssuer,
		MaxConnections:        10,
		SendQueueHighWater:    8,
		RateLimitFramesPerSec: 100,
		RateLimitBurst:        100,
		APITimeout:            time.Second,
	}
}

func testHub(t *testing.T) *Hub {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewHub(testConfig(), nil, nil, presence.NewStore(rdb), nil, zerolog.Nop())
}

// bareClient builds a Client with no underlying websocket connection — sufficient for handler tests that never
// reach the overflow-close path (same pattern as registry_test.go's &Client{}).
func bareClient(h *Hub) *Client {
	return &Client{hub: h, send: make(chan []byte, 8), done: make(chan struct{}), log: zerolog.Nop()}
}

func decodeEnvelope(t *testing.T, raw []byte) protocol.Envelope {
	t.Helper()
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestDispatchDropsUnauthenticatedNonLogin(t *testing.T) {
	t.Parallel()
	h := testHub(t)
	c := bareClient(h)

	h.dispatch(c, protocol.Envelope{Type: protocol.TypeHeartbeat, Seq: "1"})

	select {
	case <-c.send:
		t.Fatal("expected no reply for a non-LOGIN packet before authentication")
	default:
	}
}

func TestHandleLoginSuccess(t *testing.T) {
	t.Parallel()
	h := testHub(t)
	c := bareClient(h)

	token, err := auth.NewAccessToken("user-1", "web-A", testSecret, time.Hour, testIssuer)
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	h.handleLogin(c, "seq-1", protocol.LoginData{Token: token, DeviceID: "web-A", DeviceType: protocol.DeviceWeb})

	if !c.IsAuthenticated() {
		t.Fatal("client should be authenticated after a successful LOGIN")
	}
	if c.UserID() != "user-1" || c.DeviceID() != "web-A" {
		t.Errorf("identity = (%q, %q), want (user-1, web-A)", c.UserID(), c.DeviceID())
	}
	if h.registry.Get("user-1", "web-A") == nil {
		t.Error("registry should hold the new session after LOGIN")
	}

	raw := <-c.send
	env := decodeEnvelope(t, raw)
	if env.Type != protocol.TypeLoginResponse {
		t.Errorf("reply type = %v, want TypeLoginResponse", env.Type)
	}
}

func TestHandleLoginInvalidToken(t *testing.T) {
	t.Parallel()
	h := testHub(t)
	c := bareClient(h)

	h.handleLogin(c, "seq-1", protocol.LoginData{Token: "garbage", DeviceID: "web-A"})

	if c.IsAuthenticated() {
		t.Fatal("client must not be authenticated after an invalid LOGIN")
	}
	raw := <-c.send
	env := decodeEnvelope(t, raw)
	var resp protocol.LoginResponseData
	if err := env.DecodeData(&resp); err != nil {
		t.Fatalf("decode LOGIN_RESPONSE: %v", err)
	}
	if resp.Success {
		t.Error("LoginResponseData.Success = true, want false for an invalid token")
	}
}

func TestHandleLoginDisplacesExistingSession(t *testing.T) {
	t.Parallel()
	h := testHub(t)
	c1 := bareClient(h)
	c2 := bareClient(h)

	token, _ := auth.NewAccessToken("user-1", "web-A", testSecret, time.Hour, testIssuer)
	h.handleLogin(c1, "seq-1", protocol.LoginData{Token: token, DeviceID: "web-A", DeviceType: protocol.DeviceWeb})
	<-c1.send // drain the first LOGIN_RESPONSE

	h.handleLogin(c2, "seq-2", protocol.LoginData{Token: token, DeviceID: "web-A", DeviceType: protocol.DeviceWeb})

	kicked := <-c1.send
	env := decodeEnvelope(t, kicked)
	if env.Type != protocol.TypeKickedOffline {
		t.Errorf("c1 should receive KICKED_OFFLINE, got type %v", env.Type)
	}

	select {
	case <-c1.done:
	default:
		t.Error("displaced client's send channel should be closing")
	}

	if got := h.registry.Get("user-1", "web-A"); got == nil || got.socketHandle != c2 {
		t.Error("registry should now hold c2's session")
	}
}

func TestHandleLogout(t *testing.T) {
	t.Parallel()
	h := testHub(t)
	c := bareClient(h)

	token, _ := auth.NewAccessToken("user-1", "web-A", testSecret, time.Hour, testIssuer)
	h.handleLogin(c, "seq-1", protocol.LoginData{Token: token, DeviceID: "web-A", DeviceType: protocol.DeviceWeb})
	<-c.send

	h.handleLogout(c, "seq-2")

	raw := <-c.send
	env := decodeEnvelope(t, raw)
	if env.Type != protocol.TypeLogoutResponse {
		t.Errorf("reply type = %v, want TypeLogoutResponse", env.Type)
	}
	if h.registry.Get("user-1", "web-A") != nil {
		t.Error("registry should no longer hold the session after LOGOUT")
	}
	select {
	case <-c.done:
	default:
		t.Error("client should be closing after LOGOUT")
	}
}

func TestHandleHeartbeatRespondsAndRefreshesLiveness(t *testing.T) {
	t.Parallel()
	h := testHub(t)
	c := bareClient(h)

	token, _ := auth.NewAccessToken("user-1", "web-A", testSecret, time.Hour, testIssuer)
	h.handleLogin(c, "seq-1", protocol.LoginData{Token: token, DeviceID: "web-A", DeviceType: protocol.DeviceWeb})
	<-c.send

	s := h.registry.Get("user-1", "web-A")
	before := s.LastHeartbeatAt
	time.Sleep(time.Millisecond)

	h.handleHeartbeat(c, "seq-2")

	raw := <-c.send
	env := decodeEnvelope(t, raw)
	if env.Type != protocol.TypeHeartbeatResp {
		t.Errorf("reply type = %v, want TypeHeartbeatResp", env.Type)
	}
	if !s.LastHeartbeatAt.After(before) {
		t.Error("LastHeartbeatAt should advance on HEARTBEAT")
	}
}

func TestHandleLoginRejectsAtMaxConnections(t *testing.T) {
	t.Parallel()
	h := testHub(t)
	h.cfg.MaxConnections = 1

	c1 := bareClient(h)
	token1, _ := auth.NewAccessToken("user-1", "web-A", testSecret, time.Hour, testIssuer)
	h.handleLogin(c1, "seq-1", protocol.LoginData{Token: token1, DeviceID: "web-A", DeviceType: protocol.DeviceWeb})
	<-c1.send

	c2 := bareClient(h)
	token2, _ := auth.NewAccessToken("user-2", "web-B", testSecret, time.Hour, testIssuer)
	h.handleLogin(c2, "seq-2", protocol.LoginData{Token: token2, DeviceID: "web-B", DeviceType: protocol.DeviceWeb})

	if c2.IsAuthenticated() {
		t.Fatal("second LOGIN should be rejected once MaxConnections is reached")
	}
	raw := <-c2.send
	env := decodeEnvelope(t, raw)
	var resp protocol.LoginResponseData
	_ = env.DecodeData(&resp)
	if resp.Success {
		t.Error("LoginResponseData.Success = true, want false at capacity")
	}
	if h.registry.Count() != 1 {
		t.Errorf("Count() = %d, want 1 (second session must not be registered)", h.registry.Count())
	}
}
