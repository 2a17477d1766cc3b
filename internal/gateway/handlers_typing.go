package gateway

import (
	"context"

	"github.com/imrelay/gateway/internal/broker"
	"github.com/imrelay/gateway/internal/protocol"
)

// handleTyping publishes a TypingEvent, but only on the leading edge of a typing burst: presence.SetTyping uses
// SET NX under a TTL so repeated TYPING frames from the same user/conversation within the window are suppressed
// rather than re-dispatched on every keystroke. Typing indicators are never persisted and never queued for offline
// delivery (spec §4.8 "ephemeral, no persistence, no offline queueing") — a publish failure is logged and
// otherwise ignored, since there is nothing to retry or ack.
func (h *Hub) handleTyping(c *Client, data protocol.TypingData) {
	if data.ConversationID == 0 {
		return
	}
	userID := c.UserID()

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.APITimeout)
	defer cancel()

	isNew, err := h.presence.SetTyping(ctx, data.ConversationID, userID)
	if err != nil {
		h.log.Debug().Err(err).Int64("conversation_id", data.ConversationID).Msg("failed to record typing state")
		return
	}
	if !isNew {
		return
	}

	evt := broker.TypingEvent{
		ConversationID: data.ConversationID,
		UserID:         userID,
	}
	if err := h.broker.PublishTyping(evt); err != nil {
		h.log.Debug().Err(err).Int64("conversation_id", data.ConversationID).Msg("failed to publish typing event")
	}
}
