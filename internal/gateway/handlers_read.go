package gateway

import (
	"context"

	"github.com/imrelay/gateway/internal/broker"
	"github.com/imrelay/gateway/internal/protocol"
)

// handleReadAck updates the caller's read cursor and publishes a ReadEvent so the conversation's other devices
// (and, in a private chat, the other participant) learn the new cursor via READ_RECEIPT_NOTIFY (spec §4.7
// READ_ACK, §4.8). READ_ACK carries no dedicated success response in the wire catalog (spec §6); failures are
// reported as SERVER_ERROR on the request's seq instead.
func (h *Hub) handleReadAck(c *Client, seq string, data protocol.ReadAckData) {
	userID, deviceID := c.UserID(), c.DeviceID()

	if data.ConversationID == 0 || data.LastReadMsgID == "" {
		c.sendServerError(seq, "conversationId and lastReadMsgId are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.APITimeout)
	defer cancel()

	result, err := h.api.UpdateReadCursor(ctx, userID, data.ConversationID, data.LastReadMsgID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Int64("conversation_id", data.ConversationID).Msg("update read cursor failed")
		b := behaviorFor(err)
		if b.AckFailure {
			c.sendServerError(seq, "failed to update read cursor")
		}
		if b.CloseConnection {
			c.closeWithCode(CloseUnknownError, "request could not be completed")
		}
		return
	}

	evt := broker.ReadEvent{
		UserID:         userID,
		OriginDeviceID: deviceID,
		ConversationID: data.ConversationID,
		LastReadMsgID:  data.LastReadMsgID,
		NotifyUserID:   result.NotifyUserID,
	}
	if err := h.broker.PublishRead(evt); err != nil {
		h.log.Warn().Err(err).Int64("conversation_id", data.ConversationID).Msg("failed to publish read event")
	}
}
