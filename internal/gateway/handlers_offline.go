package gateway

import (
	"context"

	"github.com/imrelay/gateway/internal/protocol"
)

// defaultOfflineSyncLimit bounds an OFFLINE_SYNC_REQUEST that doesn't specify one.
const defaultOfflineSyncLimit = 200

// handleOfflineSyncRequest drains the authenticated device's pending offline queue (C9, spec §4.7
// OFFLINE_SYNC_REQUEST). An empty result is still a successful OFFLINE_SYNC_COMPLETE, not an error (spec §8
// boundary: "zero pending messages is not a failure").
func (h *Hub) handleOfflineSyncRequest(c *Client, seq string, data protocol.OfflineSyncRequestData) {
	userID, deviceID := c.UserID(), c.DeviceID()

	limit := data.Limit
	if limit <= 0 {
		limit = defaultOfflineSyncLimit
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.APITimeout)
	defer cancel()

	pending, err := h.api.GetPendingOffline(ctx, userID, deviceID, limit)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Str("device_id", deviceID).Msg("offline sync request failed")
		b := behaviorFor(err)
		if b.AckFailure {
			c.sendServerError(seq, "failed to load offline messages")
		}
		if b.CloseConnection {
			c.closeWithCode(CloseUnknownError, "request could not be completed")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.OfflineQueueDepthObserved(len(pending))
	}

	if len(pending) == 0 {
		raw, err := protocol.Encode(protocol.TypeOfflineSyncDone, seq, protocol.OfflineSyncCompleteData{Success: true, Count: 0})
		if err == nil {
			c.enqueue(raw)
		}
		return
	}

	out := make([]any, len(pending))
	for i, m := range pending {
		out[i] = m
	}

	raw, err := protocol.Encode(protocol.TypeOfflineSyncResp, seq, protocol.OfflineSyncResponseData{
		Success:  true,
		Messages: out,
		Count:    len(out),
	})
	if err != nil {
		return
	}
	c.enqueue(raw)

	if h.metrics != nil {
		h.metrics.OfflineDelivered(len(out))
	}
}

// handleOfflineSyncAck acknowledges delivered offline rows so the API service can remove them from the queue.
// An empty id list is unusual but not an error — it's logged and otherwise ignored (spec §4.7 OFFLINE_SYNC_ACK).
func (h *Hub) handleOfflineSyncAck(c *Client, data protocol.OfflineSyncAckData) {
	userID, deviceID := c.UserID(), c.DeviceID()

	if len(data.MessageIDs) == 0 {
		h.log.Warn().Str("user_id", userID).Msg("OFFLINE_SYNC_ACK with no message ids")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.APITimeout)
	defer cancel()

	if err := h.api.AckOffline(ctx, userID, deviceID, data.MessageIDs); err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Int("count", len(data.MessageIDs)).Msg("offline ack failed")
		if behaviorFor(err).CloseConnection {
			c.closeWithCode(CloseUnknownError, "request could not be completed")
		}
	}
}
