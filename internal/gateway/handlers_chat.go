package gateway

import (
	"context"

	"github.com/imrelay/gateway/internal/apiclient"
	"github.com/imrelay/gateway/internal/broker"
	"github.com/imrelay/gateway/internal/protocol"
)

// handleChatMessage persists a chat message, acknowledges the sender, and publishes a ChatEvent so every gateway
// node's fan-out subscriber (C8), this node's included, can deliver it to the conversation's other participants. The ack is sent
// before the publish so the sender never observes its own echo arriving ahead of its ack (spec §4.7 CHAT_MESSAGE,
// §4.9 ordering guarantee).
func (h *Hub) handleChatMessage(c *Client, seq string, data protocol.ChatMessageData) {
	userID, deviceID := c.UserID(), c.DeviceID()

	if data.ConversationID == 0 || data.Content == "" {
		h.ackChatFailure(c, seq, data.ClientMsgID, "conversationId and content are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.APITimeout)
	defer cancel()

	result, err := h.api.PersistMessage(ctx, apiclient.PersistMessageInput{
		UserID:         userID,
		DeviceID:       deviceID,
		ConversationID: data.ConversationID,
		MsgType:        data.MsgType,
		Content:        data.Content,
		Metadata:       data.Metadata,
		QuoteMsgID:     data.QuoteMsgID,
		AtUserIDs:      data.AtUserIDs,
		ClientMsgID:    data.ClientMsgID,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Int64("conversation_id", data.ConversationID).Msg("persist message failed")
		b := behaviorFor(err)
		if b.AckFailure {
			h.ackChatFailure(c, seq, data.ClientMsgID, "failed to persist message")
		}
		if b.CloseConnection {
			c.closeWithCode(CloseUnknownError, "request could not be completed")
		}
		if h.metrics != nil {
			h.metrics.DispatchError(classify(err).String())
		}
		return
	}

	ack, err := protocol.Encode(protocol.TypeChatMessageAck, seq, protocol.ChatMessageAckData{
		ClientMsgID:     data.ClientMsgID,
		MsgID:           result.ServerMsgID,
		ServerTimestamp: result.ServerTimestamp,
		Success:         true,
	})
	if err == nil {
		c.enqueue(ack)
	}

	h.publishChatAndEnqueueOffline(ctx, userID, deviceID, data, result)
}

func (h *Hub) ackChatFailure(c *Client, seq, clientMsgID, reason string) {
	raw, err := protocol.Encode(protocol.TypeChatMessageAck, seq, protocol.ChatMessageAckData{
		ClientMsgID: clientMsgID,
		Success:     false,
		Error:       reason,
	})
	if err == nil {
		c.enqueue(raw)
	}
}

// publishChatAndEnqueueOffline publishes the ChatEvent for cluster-wide fan-out (C8) and, for every other
// participant who has no live session anywhere in the cluster, enqueues an offline row exactly once, at the
// node that handled the originating packet (spec §4.8, §4.9, §9 Open Question (b): fan-out is participant-based,
// never sender-only).
func (h *Hub) publishChatAndEnqueueOffline(ctx context.Context, userID, deviceID string, data protocol.ChatMessageData, result apiclient.PersistMessageResult) {
	evt := broker.ChatEvent{
		ConversationID: data.ConversationID,
		SenderID:       userID,
		SenderDeviceID: deviceID,
		ServerMsgID:    result.ServerMsgID,
		Message:        data,
	}
	if err := h.broker.PublishChat(evt); err != nil {
		h.log.Warn().Err(err).Str("server_msg_id", result.ServerMsgID).Msg("failed to publish chat event")
	}

	participants, err := h.api.GetParticipants(ctx, data.ConversationID)
	if err != nil {
		h.log.Warn().Err(err).Int64("conversation_id", data.ConversationID).Msg("failed to resolve participants for offline enqueue")
		return
	}

	for _, participantID := range participants {
		if participantID == userID {
			continue
		}
		online, err := h.presence.IsOnline(ctx, participantID)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", participantID).Msg("failed to check presence for offline enqueue")
			continue
		}
		if online {
			continue
		}
		if err := h.api.EnqueueOffline(ctx, participantID, nil, data.ConversationID, result.ServerMsgID); err != nil {
			h.log.Warn().Err(err).Str("user_id", participantID).Msg("failed to enqueue offline message")
			continue
		}
		if h.metrics != nil {
			h.metrics.OfflineEnqueued(1)
		}
	}
}
