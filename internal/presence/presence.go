// Package presence provides the cluster-wide online-presence index (C10) backed by Redis/Valkey. The online bit
// has set semantics over userIds and reflects "at least one authenticated session cluster-wide" (spec §3, §4 Design
// Notes "Global presence set") — membership changes only on the first-device-connected and last-device-disconnected
// transitions, which the Store derives from per-user session counters as the gateway Hub reports each session through
// DeviceConnected/DeviceDisconnected.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// typingTTL is the lifetime of a typing indicator key. Clients may re-trigger typing, but SET NX suppresses
	// duplicate dispatches until the key expires.
	typingTTL = 10 * time.Second

	onlineSetKey = "presence:online"
)

// Store reads and writes presence state in Redis/Valkey.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a presence store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// DeviceConnected records that one more authenticated session exists for userID. It returns true exactly when this
// was the user's first live session cluster-wide, in which case userID is added to the online set — the gateway Hub
// calls this once per successful authentication, never per heartbeat.
func (s *Store) DeviceConnected(ctx context.Context, userID string) (becameOnline bool, err error) {
	count, err := s.rdb.Incr(ctx, counterKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("incr presence counter for %s: %w", userID, err)
	}
	if count == 1 {
		if err := s.rdb.SAdd(ctx, onlineSetKey, userID).Err(); err != nil {
			return false, fmt.Errorf("add %s to online set: %w", userID, err)
		}
		return true, nil
	}
	return false, nil
}

// DeviceDisconnected records that one authenticated session for userID has ended. It returns true exactly when this
// was the user's last live session cluster-wide, in which case userID is removed from the online set.
func (s *Store) DeviceDisconnected(ctx context.Context, userID string) (becameOffline bool, err error) {
	count, err := s.rdb.Decr(ctx, counterKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("decr presence counter for %s: %w", userID, err)
	}
	if count <= 0 {
		if err := s.rdb.Del(ctx, counterKey(userID)).Err(); err != nil {
			return false, fmt.Errorf("delete presence counter for %s: %w", userID, err)
		}
		if err := s.rdb.SRem(ctx, onlineSetKey, userID).Err(); err != nil {
			return false, fmt.Errorf("remove %s from online set: %w", userID, err)
		}
		return true, nil
	}
	return false, nil
}

// IsOnline reports whether userID has at least one authenticated session anywhere in the cluster.
func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, onlineSetKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("check online set for %s: %w", userID, err)
	}
	return ok, nil
}

// OnlineUserIDs returns every userId currently considered online cluster-wide.
func (s *Store) OnlineUserIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list online set: %w", err)
	}
	return ids, nil
}

// SetTyping records that userID started typing in conversationID. The key uses SET NX so repeated calls within the
// TTL window are no-ops. Returns true when the key was newly created, meaning a TYPING_NOTIFY dispatch should be
// sent; false when a dispatch was already sent for this burst.
func (s *Store) SetTyping(ctx context.Context, conversationID int64, userID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, typingKey(conversationID, userID), 1, typingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("set typing for %s in %d: %w", userID, conversationID, err)
	}
	return ok, nil
}

func counterKey(userID string) string {
	return "presence:count:" + userID
}

func typingKey(conversationID int64, userID string) string {
	return fmt.Sprintf("typing:%d:%s", conversationID, userID)
}
