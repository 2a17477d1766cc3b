// Package protocol defines the gateway's wire envelope and packet-type catalog (spec §6): a closed set of integer
// type codes carried over a bidirectional JSON frame at /ws. This package owns only the shapes; internal/gateway
// owns routing and handler behaviour.
package protocol

// Type is one of the closed set of packet type codes exchanged over /ws.
type Type int

const (
	TypeLogin     Type = 1
	TypeLogout    Type = 2
	TypeHeartbeat Type = 3

	TypeChatMessage   Type = 10
	TypeTyping        Type = 11
	TypeReadAck       Type = 12
	TypeRecallMessage Type = 13

	TypeSyncRequest        Type = 20
	TypeOfflineSyncRequest Type = 21
	TypeOfflineSyncAck     Type = 22

	TypeLoginResponse    Type = 101
	TypeLogoutResponse   Type = 102
	TypeHeartbeatResp    Type = 103
	TypeChatMessageAck   Type = 110
	TypeReceiveMessage   Type = 111
	TypeTypingNotify     Type = 112
	TypeRecallAck        Type = 113
	TypeRecallNotify     Type = 114
	// TypeReadReceiptNotify is not enumerated in spec §6's packet table but is required by §4.7/§4.8/S4 for private-chat
	// read receipts; 115 is the next free slot in the 110-range reserved for message/read/recall notifications.
	TypeReadReceiptNotify Type = 115
	TypeSyncResponse     Type = 120
	TypeOfflineSyncResp  Type = 121
	TypeOfflineSyncDone  Type = 122
	TypeKickedOffline    Type = 200
	TypeServerError      Type = 500
)

// inboundTypes is the closed set the codec accepts on the inbound side. Outbound-only types aren't listed here since
// the gateway never needs to validate a type code it generated itself.
var inboundTypes = map[Type]bool{
	TypeLogin:              true,
	TypeLogout:             true,
	TypeHeartbeat:          true,
	TypeChatMessage:        true,
	TypeTyping:             true,
	TypeReadAck:            true,
	TypeRecallMessage:      true,
	TypeSyncRequest:        true,
	TypeOfflineSyncRequest: true,
	TypeOfflineSyncAck:     true,
}

// IsKnownInbound reports whether t is one of the client→server packet types the dispatcher routes.
func IsKnownInbound(t Type) bool {
	return inboundTypes[t]
}

// DeviceType enumerates the client platforms a session may authenticate from.
type DeviceType string

const (
	DeviceWeb     DeviceType = "web"
	DeviceIOS     DeviceType = "ios"
	DeviceAndroid DeviceType = "android"
	DevicePC      DeviceType = "pc"
	DeviceTablet  DeviceType = "tablet"
)

// --- Inbound data payloads (C→S), keyed by Type ---

type LoginData struct {
	Token      string     `json:"token"`
	DeviceID   string     `json:"deviceId"`
	DeviceType DeviceType `json:"deviceType"`
}

type ChatMessageData struct {
	ClientMsgID  string   `json:"msgId"`
	ConversationID int64  `json:"conversationId"`
	MsgType      string   `json:"msgType"`
	Content      string   `json:"content"`
	Metadata     any      `json:"metadata,omitempty"`
	QuoteMsgID   string   `json:"quoteMsgId,omitempty"`
	AtUserIDs    []string `json:"atUserIds,omitempty"`
}

type TypingData struct {
	ConversationID int64 `json:"conversationId"`
}

type ReadAckData struct {
	ConversationID int64  `json:"conversationId"`
	LastReadMsgID  string `json:"lastReadMsgId"`
}

type RecallMessageData struct {
	MsgID          string `json:"msgId"`
	ConversationID int64  `json:"conversationId"`
}

type SyncRequestData struct {
	ConversationID int64  `json:"conversationId"`
	AfterMsgID     string `json:"afterMsgId,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type OfflineSyncRequestData struct {
	Limit int `json:"limit,omitempty"`
}

type OfflineSyncAckData struct {
	MessageIDs []string `json:"messageIds"`
}

// --- Outbound data payloads (S→C) ---

type LoginResponseData struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type LogoutResponseData struct {
	Success bool `json:"success"`
}

type HeartbeatResponseData struct {
	ServerTime int64 `json:"serverTime"`
}

type ChatMessageAckData struct {
	ClientMsgID     string `json:"clientMsgId"`
	MsgID           string `json:"msgId,omitempty"`
	ServerTimestamp int64  `json:"serverTimestamp,omitempty"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
}

type ReceiveMessageData struct {
	ConversationID int64  `json:"conversationId"`
	SenderID       string `json:"senderId"`
	MsgID          string `json:"msgId"`
	Message        any    `json:"message"`
}

type TypingNotifyData struct {
	ConversationID int64  `json:"conversationId"`
	UserID         string `json:"userId"`
}

type RecallAckData struct {
	Success bool   `json:"success"`
	MsgID   string `json:"msgId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type RecallNotifyData struct {
	ConversationID int64  `json:"conversationId"`
	MsgID          string `json:"msgId"`
	RecalledBy     string `json:"recalledBy"`
}

type SyncResponseData struct {
	Success    bool   `json:"success"`
	Messages   []any  `json:"messages,omitempty"`
	SyncCursor int64  `json:"syncCursor,omitempty"`
	Error      string `json:"error,omitempty"`
}

type OfflineSyncResponseData struct {
	Success  bool  `json:"success"`
	Messages []any `json:"messages"`
	Count    int   `json:"count"`
}

type OfflineSyncCompleteData struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

type KickedOfflineData struct {
	Reason string `json:"reason"`
}

type ServerErrorData struct {
	Error string `json:"error"`
}

type ReadReceiptNotifyData struct {
	ConversationID int64  `json:"conversationId"`
	ReaderID       string `json:"readerId"`
	LastReadMsgID  string `json:"lastReadMsgId"`
}
