// Package apiclient is the gateway's typed HTTP client to the out-of-scope persistence/API service (C5, spec §4.5).
// It never retries writes — PersistMessage, RecallMessage, UpdateReadCursor, and AckOffline run at most once per
// call — but wraps idempotent reads (GetParticipants, GetMessagesForSync, GetPendingOffline) in a bounded exponential
// backoff via sethvargo/go-retry.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/imrelay/gateway/internal/gwerrors"
)

// Sentinel errors classified by gwerrors.Classify into the spec §7 taxonomy.
var (
	ErrPersistFailed = errors.New("persist message failed")
	ErrUnavailable   = errors.New("api service unreachable")
	ErrNotFound      = errors.New("resource not found")
)

func init() {
	gwerrors.Register(ErrPersistFailed, gwerrors.KindPersistenceError)
	gwerrors.Register(ErrUnavailable, gwerrors.KindDependencyError)
}

// Client calls the persistence/API service on behalf of authenticated gateway sessions.
type Client struct {
	baseURL     string
	serviceName string
	httpClient  *http.Client
	maxRetries  uint64
	retryWait   time.Duration
}

// New constructs a Client. timeout bounds every individual HTTP call (read or write); maxRetries/retryWait bound the
// exponential backoff applied only to the three idempotent read calls.
func New(baseURL, serviceName string, timeout time.Duration, maxRetries uint64, retryWait time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		serviceName: serviceName,
		httpClient:  &http.Client{Timeout: timeout},
		maxRetries:  maxRetries,
		retryWait:   retryWait,
	}
}

// PersistMessage stores a chat message. On transient failure the caller must ack the origin with success:false and
// must not publish a ChatEvent (spec §4.10) — this call is never retried internally.
func (c *Client) PersistMessage(ctx context.Context, in PersistMessageInput) (PersistMessageResult, error) {
	var result PersistMessageResult
	err := c.doJSON(ctx, http.MethodPost, "/internal/messages", in.UserID, in.DeviceID, in, &result)
	if err != nil {
		return PersistMessageResult{}, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return result, nil
}

// RecallMessage asks the API service to recall a message it owns the ownership/time-window rules for.
func (c *Client) RecallMessage(ctx context.Context, userID, msgID string) (RecallResult, error) {
	body := struct {
		MsgID string `json:"msgId"`
	}{MsgID: msgID}

	var result RecallResult
	if err := c.doJSON(ctx, http.MethodPost, "/internal/messages/recall", userID, "", body, &result); err != nil {
		return RecallResult{}, fmt.Errorf("%w: recall message: %v", ErrUnavailable, err)
	}
	return result, nil
}

// UpdateReadCursor advances a user's read cursor for a conversation; later cursors win (idempotent).
func (c *Client) UpdateReadCursor(ctx context.Context, userID string, conversationID int64, lastReadMsgID string) (ReadCursorResult, error) {
	body := struct {
		ConversationID int64  `json:"conversationId"`
		LastReadMsgID  string `json:"lastReadMsgId"`
	}{ConversationID: conversationID, LastReadMsgID: lastReadMsgID}

	var result ReadCursorResult
	if err := c.doJSON(ctx, http.MethodPost, "/internal/read-cursor", userID, "", body, &result); err != nil {
		return ReadCursorResult{}, fmt.Errorf("%w: update read cursor: %v", ErrUnavailable, err)
	}
	return result, nil
}

// GetParticipants resolves a conversation's participant userIds. Staleness of a few seconds is acceptable (spec
// §4.5) — callers degrade to an empty slice on failure per spec §4.10, not an error.
func (c *Client) GetParticipants(ctx context.Context, conversationID int64) ([]string, error) {
	var result struct {
		UserIDs []string `json:"userIds"`
	}
	path := fmt.Sprintf("/internal/conversations/%d/participants", conversationID)
	if err := c.doJSONRetry(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.UserIDs, nil
}

// GetMessagesForSync returns messages after afterMsgID for reconnect catch-up (spec §4.7 SYNC_REQUEST).
func (c *Client) GetMessagesForSync(ctx context.Context, userID string, conversationID int64, afterMsgID string, limit int) ([]SyncedMessage, error) {
	path := fmt.Sprintf("/internal/conversations/%d/sync?userId=%s&after=%s&limit=%d", conversationID, userID, afterMsgID, limit)
	var result struct {
		Messages []SyncedMessage `json:"messages"`
	}
	if err := c.doJSONRetry(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.Messages, nil
}

// GetPendingOffline returns offline rows for (userID, deviceID) ordered by createdAt ascending (spec §4.9).
func (c *Client) GetPendingOffline(ctx context.Context, userID, deviceID string, limit int) ([]OfflineMessage, error) {
	path := fmt.Sprintf("/internal/offline?deviceId=%s&limit=%d", deviceID, limit)
	var result struct {
		Messages []OfflineMessage `json:"messages"`
	}
	if err := c.doJSONRetryWithIdentity(ctx, path, userID, deviceID, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.Messages, nil
}

// EnqueueOffline records a durable offline row for a participant with no live session cluster-wide at publish time
// (spec §4.8, §4.9). targetDeviceID is nil to deliver to the first device of that user that next connects, or set for
// a per-device queue (spec §9 Open Question (c) — both modes are supported). The API service enforces the
// existence predicate on (targetUserId, messageId) so a retried or duplicated call here never produces a duplicate row.
func (c *Client) EnqueueOffline(ctx context.Context, targetUserID string, targetDeviceID *string, conversationID int64, messageID string) error {
	body := struct {
		TargetUserID   string  `json:"targetUserId"`
		TargetDeviceID *string `json:"targetDeviceId,omitempty"`
		ConversationID int64   `json:"conversationId"`
		MessageID      string  `json:"messageId"`
	}{TargetUserID: targetUserID, TargetDeviceID: targetDeviceID, ConversationID: conversationID, MessageID: messageID}

	if err := c.doJSON(ctx, http.MethodPost, "/internal/offline/enqueue", "", "", body, nil); err != nil {
		return fmt.Errorf("enqueue offline: %w", err)
	}
	return nil
}

// AckOffline marks the given offline queue rows delivered. Never retried — a duplicate ack for an already-delivered
// row must be a no-op at the API service, not a gateway-side retry loop (spec §8 idempotence laws).
func (c *Client) AckOffline(ctx context.Context, userID, deviceID string, queueIDs []string) error {
	body := struct {
		QueueIDs []string `json:"queueIds"`
	}{QueueIDs: queueIDs}

	if err := c.doJSON(ctx, http.MethodPost, "/internal/offline/ack", userID, deviceID, body, nil); err != nil {
		return fmt.Errorf("%w: ack offline: %v", ErrUnavailable, err)
	}
	return nil
}

// doJSON performs a single (non-retried) HTTP call carrying the internal-service identity headers.
func (c *Client) doJSON(ctx context.Context, method, path, userID, deviceID string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req, userID, deviceID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// doJSONRetry performs an idempotent GET with bounded exponential backoff, used for reads with no caller identity
// beyond the gateway's own service header.
func (c *Client) doJSONRetry(ctx context.Context, path string, out any) error {
	return c.doJSONRetryWithIdentity(ctx, path, "", "", out)
}

func (c *Client) doJSONRetryWithIdentity(ctx context.Context, path, userID, deviceID string, out any) error {
	backoff, err := retry.NewExponential(c.retryWait)
	if err != nil {
		return fmt.Errorf("build retry backoff: %w", err)
	}
	backoff = retry.WithMaxRetries(c.maxRetries, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		c.setHeaders(req, userID, deviceID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("request failed: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("api returned status %d", resp.StatusCode))
		}

		return decodeResponse(resp, out)
	})
}

func (c *Client) setHeaders(req *http.Request, userID, deviceID string) {
	req.Header.Set("X-Internal-Service", c.serviceName)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	if deviceID != "" {
		req.Header.Set("X-Device-Id", deviceID)
	}
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("api returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
