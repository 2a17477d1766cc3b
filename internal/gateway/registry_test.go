package gateway

import (
	"sync"
	"testing"

	"github.com/imrelay/gateway/internal/protocol"
)

func TestRegistryAddAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	c := &Client{}
	r.Add(c, "user-1", "web-A", protocol.DeviceWeb)

	got := r.Get("user-1", "web-A")
	if got == nil {
		t.Fatal("Get() = nil, want session")
	}
	if got.UserID != "user-1" || got.DeviceID != "web-A" {
		t.Errorf("session = %+v, want userId=user-1 deviceId=web-A", got)
	}
}

func TestRegistryAddDisplacesExistingKey(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	c1 := &Client{}
	c2 := &Client{}

	displaced := r.Add(c1, "user-1", "web-A", protocol.DeviceWeb)
	if displaced != nil {
		t.Fatalf("first Add() displaced = %v, want nil", displaced)
	}

	displaced = r.Add(c2, "user-1", "web-A", protocol.DeviceWeb)
	if displaced == nil {
		t.Fatal("second Add() displaced = nil, want the first session")
	}
	if displaced.socketHandle != c1 {
		t.Error("displaced session does not reference the first socket")
	}

	got := r.Get("user-1", "web-A")
	if got.socketHandle != c2 {
		t.Error("Get() after displacement does not return the new session")
	}
}

func TestRegistryRemoveBySocket(t *testing.T) {
	t.Parallel()

	var closed *Session
	r := NewRegistry(func(s *Session) { closed = s })
	c := &Client{}
	r.Add(c, "user-1", "web-A", protocol.DeviceWeb)

	r.RemoveBySocket(c)

	if r.Get("user-1", "web-A") != nil {
		t.Error("Get() after RemoveBySocket() = non-nil, want nil")
	}
	if r.GetBySocket(c) != nil {
		t.Error("GetBySocket() after RemoveBySocket() = non-nil, want nil")
	}
	if closed == nil {
		t.Fatal("disconnect hook was not invoked")
	}
	if closed.UserID != "user-1" {
		t.Errorf("hook session userId = %q, want user-1", closed.UserID)
	}
}

func TestRegistryRemoveBySocketIsNoopForDisplacedSocket(t *testing.T) {
	t.Parallel()

	var hookCalls int
	r := NewRegistry(func(s *Session) { hookCalls++ })
	c1 := &Client{}
	c2 := &Client{}

	r.Add(c1, "user-1", "web-A", protocol.DeviceWeb)
	r.Add(c2, "user-1", "web-A", protocol.DeviceWeb)

	// c1 was displaced by Add, which fired the hook once for it; its own eviction-triggered close must not remove
	// c2's session nor fire the hook a second time.
	r.RemoveBySocket(c1)

	if hookCalls != 1 {
		t.Errorf("hook calls = %d, want 1 (the eviction only) after removing an already-displaced socket", hookCalls)
	}
	if r.Get("user-1", "web-A") == nil {
		t.Error("Get() = nil after removing the displaced socket, want the surviving session")
	}
}

func TestRegistryRemoveBySocketUnknownIsNoop(t *testing.T) {
	t.Parallel()

	r := NewRegistry(func(*Session) { t.Fatal("hook must not be invoked for an unknown socket") })
	r.RemoveBySocket(&Client{})
}

func TestRegistryGetByUserID(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	r.Add(&Client{}, "user-1", "web-A", protocol.DeviceWeb)
	r.Add(&Client{}, "user-1", "ios-B", protocol.DeviceIOS)
	r.Add(&Client{}, "user-2", "web-C", protocol.DeviceWeb)

	sessions := r.GetByUserID("user-1")
	if len(sessions) != 2 {
		t.Fatalf("GetByUserID() = %d sessions, want 2", len(sessions))
	}
}

func TestRegistryGetByUserIDEmptyForUnknownUser(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	if sessions := r.GetByUserID("nobody"); len(sessions) != 0 {
		t.Errorf("GetByUserID() = %d sessions, want 0", len(sessions))
	}
}

func TestRegistryAllSessionsAndCount(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	r.Add(&Client{}, "user-1", "web-A", protocol.DeviceWeb)
	r.Add(&Client{}, "user-2", "web-B", protocol.DeviceWeb)

	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}
	if len(r.AllSessions()) != 2 {
		t.Errorf("AllSessions() = %d, want 2", len(r.AllSessions()))
	}
}

func TestRegistryConcurrentAddAndRemove(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &Client{}
			userID := "user-1"
			deviceID := "web-A"
			r.Add(c, userID, deviceID, protocol.DeviceWeb)
			r.RemoveBySocket(c)
		}(i)
	}
	wg.Wait()

	// Every Add/Remove pair races against the others; the registry must remain internally consistent regardless of
	// which socket's session survives.
	if n := r.Count(); n > 1 {
		t.Errorf("Count() = %d after concurrent churn, want at most 1", n)
	}
}
