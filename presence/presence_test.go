package presence

import (
	"context"
	"sync"
	"testing"
)

type memHashStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
}

func newMemHashStore() *memHashStore {
	return &memHashStore{hashes: make(map[string]map[string]string)}
}

func (m *memHashStore) HSet(ctx context.Context, key, field string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashes[key] == nil {
		m.hashes[key] = make(map[string]string)
	}
	switch v := value.(type) {
	case string:
		m.hashes[key][field] = v
	case []byte:
		m.hashes[key][field] = string(v)
	default:
		m.hashes[key][field] = "1"
	}
	return nil
}

func (m *memHashStore) HGet(ctx context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.hashes[key][field]
	if !ok {
		return "", errNotFound
	}
	return v, nil
}

func (m *memHashStore) HDel(ctx context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fields {
		delete(m.hashes[key], f)
	}
	return nil
}

func (m *memHashStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errNotFound = sentinelErr("not found")

func TestSetOnlineThenGet(t *testing.T) {
	r := New(newMemHashStore())
	ctx := context.Background()

	if err := r.SetOnline(ctx, "user-1", "socket-1"); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}

	blob, ok, err := r.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected user to be online")
	}
	if blob.SocketID != "socket-1" {
		t.Errorf("expected socket-1, got %q", blob.SocketID)
	}
}

func TestSetOfflineRemovesPresence(t *testing.T) {
	r := New(newMemHashStore())
	ctx := context.Background()

	r.SetOnline(ctx, "user-1", "socket-1")
	r.SetOffline(ctx, "user-1")

	_, ok, err := r.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Fatal("expected user to be offline")
	}
}

func TestRoomMembershipIndexes(t *testing.T) {
	r := New(newMemHashStore())
	ctx := context.Background()

	r.AddToRoom(ctx, "user-1", "room-a")
	r.AddToRoom(ctx, "user-2", "room-a")
	r.AddToRoom(ctx, "user-1", "room-b")

	roomAUsers, err := r.RoomUsers(ctx, "room-a")
	if err != nil {
		t.Fatalf("RoomUsers failed: %v", err)
	}
	if len(roomAUsers) != 2 {
		t.Errorf("expected 2 users in room-a, got %d", len(roomAUsers))
	}

	user1Rooms, err := r.UserRooms(ctx, "user-1")
	if err != nil {
		t.Fatalf("UserRooms failed: %v", err)
	}
	if len(user1Rooms) != 2 {
		t.Errorf("expected user-1 in 2 rooms, got %d", len(user1Rooms))
	}

	r.RemoveFromRoom(ctx, "user-1", "room-a")
	roomAUsers, _ = r.RoomUsers(ctx, "room-a")
	if len(roomAUsers) != 1 {
		t.Errorf("expected 1 user in room-a after removal, got %d", len(roomAUsers))
	}
}

func TestCleanupUserRemovesFromAllRoomsAndMarksOffline(t *testing.T) {
	r := New(newMemHashStore())
	ctx := context.Background()

	r.SetOnline(ctx, "user-1", "socket-1")
	r.AddToRoom(ctx, "user-1", "room-a")
	r.AddToRoom(ctx, "user-1", "room-b")

	if err := r.CleanupUser(ctx, "user-1"); err != nil {
		t.Fatalf("CleanupUser failed: %v", err)
	}

	rooms, _ := r.UserRooms(ctx, "user-1")
	if len(rooms) != 0 {
		t.Errorf("expected no rooms after cleanup, got %d", len(rooms))
	}

	_, ok, _ := r.Get(ctx, "user-1")
	if ok {
		t.Fatal("expected user offline after cleanup")
	}

	roomAUsers, _ := r.RoomUsers(ctx, "room-a")
	if len(roomAUsers) != 0 {
		t.Errorf("expected room-a empty after cleanup, got %d", len(roomAUsers))
	}
}
