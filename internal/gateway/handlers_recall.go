package gateway

import (
	"context"

	"github.com/imrelay/gateway/internal/broker"
	"github.com/imrelay/gateway/internal/protocol"
)

// handleRecallMessage asks the API service to recall a message — ownership and the recall time window are both
// enforced entirely server-side (spec §9 Open Question (a)) — and, on success, publishes a RecallEvent. A
// RecallEvent always carries a conversationId; subscribers drop one that doesn't (spec §4.7).
func (h *Hub) handleRecallMessage(c *Client, seq string, data protocol.RecallMessageData) {
	userID := c.UserID()

	if data.MsgID == "" || data.ConversationID == 0 {
		h.ackRecallFailure(c, seq, "", "msgId and conversationId are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.APITimeout)
	defer cancel()

	result, err := h.api.RecallMessage(ctx, userID, data.MsgID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Str("msg_id", data.MsgID).Msg("recall request failed")
		b := behaviorFor(err)
		if b.AckFailure {
			h.ackRecallFailure(c, seq, data.MsgID, "recall request failed")
		}
		if b.CloseConnection {
			c.closeWithCode(CloseUnknownError, "request could not be completed")
		}
		return
	}
	if !result.Success {
		h.ackRecallFailure(c, seq, data.MsgID, result.Reason)
		return
	}

	raw, err := protocol.Encode(protocol.TypeRecallAck, seq, protocol.RecallAckData{Success: true, MsgID: data.MsgID})
	if err == nil {
		c.enqueue(raw)
	}

	evt := broker.RecallEvent{
		ConversationID: data.ConversationID,
		MsgID:          data.MsgID,
		RecalledBy:     userID,
	}
	if err := h.broker.PublishRecall(evt); err != nil {
		h.log.Warn().Err(err).Str("msg_id", data.MsgID).Msg("failed to publish recall event")
	}
}

func (h *Hub) ackRecallFailure(c *Client, seq, msgID, reason string) {
	raw, err := protocol.Encode(protocol.TypeRecallAck, seq, protocol.RecallAckData{Success: false, MsgID: msgID, Error: reason})
	if err == nil {
		c.enqueue(raw)
	}
}
