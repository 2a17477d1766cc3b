package broker

import "encoding/json"

// Channel names the four logical pub/sub channels (spec §3, §6). Each maps to one NATS subject.
type Channel string

const (
	ChannelMessages   Channel = "im:messages"
	ChannelTyping     Channel = "im:typing"
	ChannelReadStatus Channel = "im:read_status"
	ChannelRecall     Channel = "im:recall"
)

// subject returns the NATS-safe subject for a logical channel (NATS subjects use '.' as the token separator, not ':').
func (c Channel) subject() string {
	switch c {
	case ChannelMessages:
		return "im.messages"
	case ChannelTyping:
		return "im.typing"
	case ChannelReadStatus:
		return "im.read_status"
	case ChannelRecall:
		return "im.recall"
	default:
		return string(c)
	}
}

// ChatEvent is published on ChannelMessages after a CHAT_MESSAGE is persisted (spec §3).
type ChatEvent struct {
	ConversationID int64  `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderDeviceID string `json:"senderDeviceId"`
	ServerMsgID    string `json:"serverMsgId"`
	Message        any    `json:"message"`
}

// TypingEvent is published on ChannelTyping. Never persisted, never enqueued offline (spec §4.8).
type TypingEvent struct {
	ConversationID int64  `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ReadEvent is published on ChannelReadStatus after UpdateReadCursor succeeds (spec §3, §4.7).
type ReadEvent struct {
	UserID         string `json:"userId"`
	OriginDeviceID string `json:"originDeviceId"`
	ConversationID int64  `json:"conversationId"`
	LastReadMsgID  string `json:"lastReadMsgId"`
	// NotifyUserID is set when the API identified a recipient for a private-chat read receipt; empty otherwise.
	NotifyUserID string `json:"notifyUserId,omitempty"`
}

// RecallEvent is published on ChannelRecall after RecallMessage succeeds (spec §3, §4.7). ConversationID is
// required — a RecallEvent with no conversationId is dropped silently by subscribers (spec §4.7).
type RecallEvent struct {
	ConversationID int64  `json:"conversationId"`
	MsgID          string `json:"msgId"`
	RecalledBy     string `json:"recalledBy"`
}

// kind tags an envelope so a single subscriber callback per channel can dispatch to the right event type, even
// though today each channel carries exactly one event shape — this leaves room for a channel to carry more than one
// event kind without a wire-format break.
type kind string

const (
	kindChat   kind = "chat"
	kindTyping kind = "typing"
	kindRead   kind = "read"
	kindRecall kind = "recall"
)

type envelope struct {
	Kind kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func encodeEnvelope(k kind, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: k, Data: raw})
}
