package broker

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestChannelSubjectMapping(t *testing.T) {
	t.Parallel()

	cases := map[Channel]string{
		ChannelMessages:   "im.messages",
		ChannelTyping:     "im.typing",
		ChannelReadStatus: "im.read_status",
		ChannelRecall:     "im.recall",
	}
	for ch, want := range cases {
		if got := ch.subject(); got != want {
			t.Errorf("%s.subject() = %q, want %q", ch, got, want)
		}
	}
}

func TestEncodeEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	evt := ChatEvent{ConversationID: 42, SenderID: "u1", SenderDeviceID: "web-A", ServerMsgID: "m1"}
	raw, err := encodeEnvelope(kindChat, evt)
	if err != nil {
		t.Fatalf("encodeEnvelope() error = %v", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Kind != kindChat {
		t.Errorf("Kind = %q, want %q", env.Kind, kindChat)
	}

	var decoded ChatEvent
	if err := json.Unmarshal(env.Data, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded != evt {
		t.Errorf("decoded = %+v, want %+v", decoded, evt)
	}
}

func TestDecodeAndDispatchRejectsMismatchedKind(t *testing.T) {
	t.Parallel()

	raw, err := encodeEnvelope(kindTyping, TypingEvent{ConversationID: 1, UserID: "u1"})
	if err != nil {
		t.Fatalf("encodeEnvelope() error = %v", err)
	}

	called := false
	err = decodeAndDispatch(raw, kindChat, func(ChatEvent) { called = true })
	if err == nil {
		t.Fatal("decodeAndDispatch() error = nil, want mismatch error")
	}
	if called {
		t.Error("handler was called despite kind mismatch")
	}
}

func TestDecodeAndDispatchInvokesHandler(t *testing.T) {
	t.Parallel()

	want := RecallEvent{ConversationID: 7, MsgID: "m9", RecalledBy: "u1"}
	raw, err := encodeEnvelope(kindRecall, want)
	if err != nil {
		t.Fatalf("encodeEnvelope() error = %v", err)
	}

	var got RecallEvent
	if err := decodeAndDispatch(raw, kindRecall, func(evt RecallEvent) { got = evt }); err != nil {
		t.Fatalf("decodeAndDispatch() error = %v", err)
	}
	if got != want {
		t.Errorf("got = %+v, want %+v", got, want)
	}
}

func TestDecodeAndDispatchNilHandlerIsNoop(t *testing.T) {
	t.Parallel()

	raw, err := encodeEnvelope(kindTyping, TypingEvent{ConversationID: 1, UserID: "u1"})
	if err != nil {
		t.Fatalf("encodeEnvelope() error = %v", err)
	}
	if err := decodeAndDispatch[TypingEvent](raw, kindTyping, nil); err != nil {
		t.Fatalf("decodeAndDispatch() error = %v", err)
	}
}

func TestConnectUnreachableReturnsErrUnavailable(t *testing.T) {
	t.Parallel()

	_, err := Connect("nats://127.0.0.1:1", 200*time.Millisecond, zerolog.Nop())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Connect() error = %v, want wrapping ErrUnavailable", err)
	}
}

func TestBrokerIsConnectedFalseOnZeroValue(t *testing.T) {
	t.Parallel()

	var b Broker
	if b.IsConnected() {
		t.Error("IsConnected() = true on zero-value Broker, want false")
	}
}
