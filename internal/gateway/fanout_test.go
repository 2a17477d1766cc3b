package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/imrelay/gateway/internal/apiclient"
	"github.com/imrelay/gateway/internal/broker"
	"github.com/imrelay/gateway/internal/presence"
	"github.com/imrelay/gateway/internal/protocol"
)

// participantServer returns an httptest.Server that answers GetParticipants with the given userIds, for any
// conversation id.
func participantServer(t *testing.T, userIDs []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			UserIDs []string `json:"userIds"`
		}{UserIDs: userIDs})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testHubWithAPI(t *testing.T, api *apiclient.Client) *Hub {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewHub(testConfig(), api, nil, presence.NewStore(rdb), nil, zerolog.Nop())
}

func TestDeliverChatSkipsSenderDeliversOthers(t *testing.T) {
	t.Parallel()
	srv := participantServer(t, []string{"sender", "recipient"})
	api := apiclient.New(srv.URL, "gateway", time.Second, 0, 0)
	h := testHubWithAPI(t, api)

	senderClient := bareClient(h)
	h.registry.Add(senderClient, "sender", "web-A", protocol.DeviceWeb)
	recipientClient := bareClient(h)
	h.registry.Add(recipientClient, "recipient", "web-B", protocol.DeviceWeb)

	h.deliverChat(broker.ChatEvent{
		ConversationID: 42,
		SenderID:       "sender",
		SenderDeviceID: "web-A",
		ServerMsgID:    "msg-1",
		Message:        "hello",
	})

	select {
	case <-senderClient.send:
		t.Error("sender must not receive its own ChatEvent as a RECEIVE_MESSAGE")
	default:
	}

	raw := <-recipientClient.send
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != protocol.TypeReceiveMessage {
		t.Errorf("type = %v, want TypeReceiveMessage", env.Type)
	}
}

func TestDeliverChatDeliversToSendersOtherDevices(t *testing.T) {
	t.Parallel()
	srv := participantServer(t, []string{"sender", "recipient"})
	api := apiclient.New(srv.URL, "gateway", time.Second, 0, 0)
	h := testHubWithAPI(t, api)

	originDevice := bareClient(h)
	h.registry.Add(originDevice, "sender", "web-A", protocol.DeviceWeb)
	otherDevice := bareClient(h)
	h.registry.Add(otherDevice, "sender", "ios-B", protocol.DeviceIOS)
	recipientClient := bareClient(h)
	h.registry.Add(recipientClient, "recipient", "web-C", protocol.DeviceWeb)

	h.deliverChat(broker.ChatEvent{
		ConversationID: 42,
		SenderID:       "sender",
		SenderDeviceID: "web-A",
		ServerMsgID:    "msg-1",
		Message:        "hello",
	})

	select {
	case <-originDevice.send:
		t.Error("the originating device must not receive its own ChatEvent as a RECEIVE_MESSAGE")
	default:
	}

	if raw := <-otherDevice.send; len(raw) == 0 {
		t.Error("the sender's other device should receive RECEIVE_MESSAGE for multi-device sync")
	}
	if raw := <-recipientClient.send; len(raw) == 0 {
		t.Error("the other participant should receive RECEIVE_MESSAGE")
	}
}

func TestDeliverRecallDropsEventWithNoConversationID(t *testing.T) {
	t.Parallel()
	h := testHubWithAPI(t, nil)
	c := bareClient(h)
	h.registry.Add(c, "user-1", "web-A", protocol.DeviceWeb)

	h.deliverRecall(broker.RecallEvent{MsgID: "msg-1", RecalledBy: "user-1"})

	select {
	case <-c.send:
		t.Error("a RecallEvent with no conversationId must be dropped, not delivered")
	default:
	}
}

func TestDeliverReadNotifiesOtherDevicesAndCounterpart(t *testing.T) {
	t.Parallel()
	h := testHubWithAPI(t, nil)

	originDevice := bareClient(h)
	h.registry.Add(originDevice, "user-1", "web-A", protocol.DeviceWeb)
	otherDevice := bareClient(h)
	h.registry.Add(otherDevice, "user-1", "ios-B", protocol.DeviceIOS)
	counterpart := bareClient(h)
	h.registry.Add(counterpart, "user-2", "web-C", protocol.DeviceWeb)

	h.deliverRead(broker.ReadEvent{
		UserID:         "user-1",
		OriginDeviceID: "web-A",
		ConversationID: 7,
		LastReadMsgID:  "msg-9",
		NotifyUserID:   "user-2",
	})

	select {
	case <-originDevice.send:
		t.Error("the originating device should not receive its own read receipt notification")
	default:
	}

	if raw := <-otherDevice.send; len(raw) == 0 {
		t.Error("the user's other device should receive a read receipt notification")
	}
	if raw := <-counterpart.send; len(raw) == 0 {
		t.Error("the private-chat counterpart should receive a read receipt notification")
	}
}
