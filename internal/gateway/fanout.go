package gateway

import (
	"context"
	"time"

	"github.com/imrelay/gateway/internal/broker"
	"github.com/imrelay/gateway/internal/protocol"
)

// fanout delivers broker events to this node's locally connected sessions (C8, spec §4.8/§4.9). Every gateway node
// subscribes to the same NATS subjects; each node is responsible only for participants that happen to hold a live
// session on it, which is why every handler below re-resolves participants or targets directly from the event
// rather than trusting any list baked in at publish time.
func (h *Hub) fanoutHandlers() broker.Handlers {
	return broker.Handlers{
		OnChat:   h.deliverChat,
		OnTyping: h.deliverTyping,
		OnRead:   h.deliverRead,
		OnRecall: h.deliverRecall,
	}
}

// SubscribeFanout subscribes the Hub to every broker channel so cluster-wide events reach this node's sessions.
func (h *Hub) SubscribeFanout() error {
	return h.broker.SubscribeAll(h.fanoutHandlers())
}

func (h *Hub) deliverChat(evt broker.ChatEvent) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.APITimeout)
	defer cancel()

	participants, err := h.api.GetParticipants(ctx, evt.ConversationID)
	if err != nil {
		h.log.Warn().Err(err).Int64("conversation_id", evt.ConversationID).Msg("fan-out: failed to resolve participants")
		return
	}

	raw, err := protocol.Encode(protocol.TypeReceiveMessage, "", protocol.ReceiveMessageData{
		ConversationID: evt.ConversationID,
		SenderID:       evt.SenderID,
		MsgID:          evt.ServerMsgID,
		Message:        evt.Message,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("fan-out: failed to build RECEIVE_MESSAGE frame")
		return
	}

	targets := 0
	for _, userID := range participants {
		for _, s := range h.registry.GetByUserID(userID) {
			if userID == evt.SenderID && s.DeviceID == evt.SenderDeviceID {
				continue
			}
			s.socketHandle.enqueue(raw)
			targets++
		}
	}

	if h.metrics != nil {
		h.metrics.FanoutObserved(time.Since(start), targets)
	}
}

func (h *Hub) deliverTyping(evt broker.TypingEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.APITimeout)
	defer cancel()

	participants, err := h.api.GetParticipants(ctx, evt.ConversationID)
	if err != nil {
		h.log.Debug().Err(err).Int64("conversation_id", evt.ConversationID).Msg("fan-out: failed to resolve participants for typing")
		return
	}

	raw, err := protocol.Encode(protocol.TypeTypingNotify, "", protocol.TypingNotifyData{
		ConversationID: evt.ConversationID,
		UserID:         evt.UserID,
	})
	if err != nil {
		return
	}

	for _, userID := range participants {
		if userID == evt.UserID {
			continue
		}
		for _, s := range h.registry.GetByUserID(userID) {
			s.socketHandle.enqueue(raw)
		}
	}
}

// deliverRead notifies the origin user's other devices (read-state sync across a user's own sessions) and, when
// the API identified a counterpart for a private chat, sends that counterpart a READ_RECEIPT_NOTIFY (spec §4.7
// READ_ACK, S4).
func (h *Hub) deliverRead(evt broker.ReadEvent) {
	raw, err := protocol.Encode(protocol.TypeReadReceiptNotify, "", protocol.ReadReceiptNotifyData{
		ConversationID: evt.ConversationID,
		ReaderID:       evt.UserID,
		LastReadMsgID:  evt.LastReadMsgID,
	})
	if err != nil {
		return
	}

	for _, s := range h.registry.GetByUserID(evt.UserID) {
		if s.DeviceID == evt.OriginDeviceID {
			continue
		}
		s.socketHandle.enqueue(raw)
	}

	if evt.NotifyUserID == "" {
		return
	}
	for _, s := range h.registry.GetByUserID(evt.NotifyUserID) {
		s.socketHandle.enqueue(raw)
	}
}

func (h *Hub) deliverRecall(evt broker.RecallEvent) {
	if evt.ConversationID == 0 {
		h.log.Warn().Str("msg_id", evt.MsgID).Msg("dropping RecallEvent with no conversationId")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.APITimeout)
	defer cancel()

	participants, err := h.api.GetParticipants(ctx, evt.ConversationID)
	if err != nil {
		h.log.Warn().Err(err).Int64("conversation_id", evt.ConversationID).Msg("fan-out: failed to resolve participants for recall")
		return
	}

	raw, err := protocol.Encode(protocol.TypeRecallNotify, "", protocol.RecallNotifyData{
		ConversationID: evt.ConversationID,
		MsgID:          evt.MsgID,
		RecalledBy:     evt.RecalledBy,
	})
	if err != nil {
		return
	}

	for _, userID := range participants {
		for _, s := range h.registry.GetByUserID(userID) {
			s.socketHandle.enqueue(raw)
		}
	}
}
