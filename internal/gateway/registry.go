package gateway

import (
	"hash/fnv"
	"sync"

	"github.com/imrelay/gateway/internal/protocol"
)

// shardCount is the number of registry shards. Sharding by userId hash keeps all of one user's sessions in the same
// shard, so getByUserId never needs to lock more than one shard (spec §4.2 "O(sessions-for-that-user)").
const shardCount = 32

// DisconnectHook is invoked exactly once per session removal, regardless of whether the removal was a clean
// disconnect, a duplicate-key eviction, or a heartbeat timeout (spec §3 "destroyed on close/eviction/heartbeat
// timeout").
type DisconnectHook func(s *Session)

// Registry is the session registry (C2): a sharded, concurrent set of three mutually consistent indices —
// socket→session, (userId,deviceId)→session, userId→{sessions}. Grounded on the teacher's single-map
// sync.RWMutex-guarded Hub.clients, generalized to N independently-locked shards as SPEC_FULL.md calls for.
type Registry struct {
	shards  [shardCount]*shard
	onAdd   DisconnectHook
	onClose DisconnectHook
}

type shard struct {
	mu       sync.RWMutex
	bySocket map[*Client]*Session
	byKey    map[sessionKey]*Session
	byUser   map[string]map[string]*Session // userID -> deviceID -> Session
}

// NewRegistry constructs an empty Registry. onClose, if non-nil, runs exactly once per session removal (used to
// update presence and free resources); it is called after the registry's shard lock has been released.
func NewRegistry(onClose DisconnectHook) *Registry {
	r := &Registry{onClose: onClose}
	for i := range r.shards {
		r.shards[i] = &shard{
			bySocket: make(map[*Client]*Session),
			byKey:    make(map[sessionKey]*Session),
			byUser:   make(map[string]map[string]*Session),
		}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Add registers socket as the authenticated session for (userId, deviceId). If a session already holds that key, it
// is atomically displaced: Add fires the disconnect hook for it once the shard lock is released and returns it
// (non-nil) so the caller can send it a KICKED_OFFLINE frame and close it — with the new session already visible to
// lookups before the displaced socket begins closing (spec §4.2).
func (r *Registry) Add(socket *Client, userID, deviceID string, deviceType protocol.DeviceType) (displaced *Session) {
	s := r.shardFor(userID)
	s.mu.Lock()

	key := keyFor(userID, deviceID)
	displaced = s.byKey[key]

	var generation uint64
	if displaced != nil {
		generation = displaced.generation + 1
		delete(s.bySocket, displaced.socketHandle)
	}

	session := newSession(socket, userID, deviceID, deviceType, generation)
	s.byKey[key] = session
	s.bySocket[socket] = session
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]*Session)
	}
	s.byUser[userID][deviceID] = session

	s.mu.Unlock()
	if displaced != nil && r.onClose != nil {
		r.onClose(displaced)
	}
	return displaced
}

// RemoveBySocket removes socket's session from all three indices and fires the disconnect hook exactly once. It is a
// no-op if socket has no registered session, or if the session under that key has already been replaced by a newer
// session (the eviction race the teacher's Hub.unregister guards against with "current != client").
func (r *Registry) RemoveBySocket(socket *Client) {
	session := r.removeBySocketLocked(socket)
	if session != nil && r.onClose != nil {
		r.onClose(session)
	}
}

func (r *Registry) removeBySocketLocked(socket *Client) *Session {
	session, ok := peekSocket(r, socket)
	if !ok {
		return nil
	}

	s := r.shardFor(session.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.bySocket[socket]
	if !ok {
		return nil
	}

	key := keyFor(current.UserID, current.DeviceID)
	if byKeyCurrent := s.byKey[key]; byKeyCurrent == current {
		delete(s.byKey, key)
	}
	delete(s.bySocket, socket)
	if devices := s.byUser[current.UserID]; devices != nil {
		if devices[current.DeviceID] == current {
			delete(devices, current.DeviceID)
		}
		if len(devices) == 0 {
			delete(s.byUser, current.UserID)
		}
	}
	return current
}

func peekSocket(r *Registry, socket *Client) (*Session, bool) {
	for _, s := range r.shards {
		s.mu.RLock()
		session, ok := s.bySocket[socket]
		s.mu.RUnlock()
		if ok {
			return session, true
		}
	}
	return nil, false
}

// Get returns the session for (userId, deviceId), or nil.
func (r *Registry) Get(userID, deviceID string) *Session {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byKey[keyFor(userID, deviceID)]
}

// GetBySocket returns the session owning socket, or nil.
func (r *Registry) GetBySocket(socket *Client) *Session {
	session, _ := peekSocket(r, socket)
	return session
}

// GetByUserID returns every live session for userID.
func (r *Registry) GetByUserID(userID string) []*Session {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := s.byUser[userID]
	out := make([]*Session, 0, len(devices))
	for _, session := range devices {
		out = append(out, session)
	}
	return out
}

// AllSessions returns a snapshot of every session in the registry, for broadcast primitives (spec §4.2).
func (r *Registry) AllSessions() []*Session {
	var out []*Session
	for _, s := range r.shards {
		s.mu.RLock()
		for _, session := range s.byKey {
			out = append(out, session)
		}
		s.mu.RUnlock()
	}
	return out
}

// Count returns the total number of registered sessions across all shards.
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.byKey)
		s.mu.RUnlock()
	}
	return n
}
