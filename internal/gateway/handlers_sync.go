package gateway

import (
	"context"

	"github.com/imrelay/gateway/internal/protocol"
)

// defaultSyncLimit bounds a SYNC_REQUEST that doesn't specify one.
const defaultSyncLimit = 100

// handleSyncRequest returns messages in a conversation after a given message id, for a client catching up on
// history (spec §4.7 SYNC_REQUEST). This is distinct from OFFLINE_SYNC_REQUEST, which drains the user's
// per-device offline queue rather than replaying a single conversation.
func (h *Hub) handleSyncRequest(c *Client, seq string, data protocol.SyncRequestData) {
	userID := c.UserID()

	if data.ConversationID == 0 {
		h.sendSyncFailure(c, seq, "conversationId is required")
		return
	}

	limit := data.Limit
	if limit <= 0 {
		limit = defaultSyncLimit
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.APITimeout)
	defer cancel()

	messages, err := h.api.GetMessagesForSync(ctx, userID, data.ConversationID, data.AfterMsgID, limit)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Int64("conversation_id", data.ConversationID).Msg("sync request failed")
		b := behaviorFor(err)
		if b.AckFailure {
			h.sendSyncFailure(c, seq, "failed to load messages")
		}
		if b.CloseConnection {
			c.closeWithCode(CloseUnknownError, "request could not be completed")
		}
		return
	}

	out := make([]any, len(messages))
	var cursor int64
	for i, m := range messages {
		out[i] = m
		if m.ServerTimestamp > cursor {
			cursor = m.ServerTimestamp
		}
	}

	raw, err := protocol.Encode(protocol.TypeSyncResponse, seq, protocol.SyncResponseData{
		Success:    true,
		Messages:   out,
		SyncCursor: cursor,
	})
	if err != nil {
		return
	}
	c.enqueue(raw)
}

// sendSyncFailure replies with a single SYNC_RESPONSE carrying success:false and the failure reason, rather than a
// second SERVER_ERROR frame for the same seq (spec §6: at most one reply per request).
func (h *Hub) sendSyncFailure(c *Client, seq, reason string) {
	raw, err := protocol.Encode(protocol.TypeSyncResponse, seq, protocol.SyncResponseData{Success: false, Error: reason})
	if err != nil {
		return
	}
	c.enqueue(raw)
}
