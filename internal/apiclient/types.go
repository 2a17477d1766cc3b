package apiclient

// PersistMessageInput carries the fields needed to persist a chat message (spec §4.5).
type PersistMessageInput struct {
	UserID         string
	DeviceID       string
	ConversationID int64
	MsgType        string
	Content        string
	Metadata       any
	QuoteMsgID     string
	AtUserIDs      []string
	ClientMsgID    string
}

// PersistMessageResult is returned on a successful persist.
type PersistMessageResult struct {
	ServerMsgID     string
	ServerTimestamp int64
}

// RecallResult is the outcome of a recall attempt; ownership and time-window enforcement live entirely in the API
// service (spec §9 Open Question (a)).
type RecallResult struct {
	Success bool
	Reason  string
}

// ReadCursorResult optionally names another user whose sessions should receive a read receipt notification (private
// chat read receipts, spec §4.7 READ_ACK).
type ReadCursorResult struct {
	NotifyUserID string
}

// SyncedMessage is one row returned by GetMessagesForSync.
type SyncedMessage struct {
	ServerMsgID     string
	SenderID        string
	ConversationID  int64
	Content         any
	ServerTimestamp int64
}

// OfflineMessage is one pending row returned by GetPendingOffline (spec §3 "Offline message row").
type OfflineMessage struct {
	QueueID        string
	ConversationID int64
	SenderID       string
	ServerMsgID    string
	Message        any
	CreatedAt      int64
}
