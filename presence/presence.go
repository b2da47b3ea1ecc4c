// Package presence implements C5: online/offline tracking and
// room-membership indexes over the keyed store's hash primitives.
package presence

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

const (
	// HeartbeatInterval is how often a connected socket refreshes its
	// presence blob.
	HeartbeatInterval = 20 * time.Second
	// StaleAfter is how long a presence blob may go unrefreshed before
	// it is considered stale by callers that care (the gateway does not
	// evict on a timer; it relies on setOffline at disconnect).
	StaleAfter = 30 * time.Second
)

const (
	userPresenceKey = "user:presence"
	roomUsersKey    = "room:users"
	userRoomsKey    = "user:rooms"
)

// hashStore is the slice of store.Store presence depends on.
type hashStore interface {
	HSet(ctx context.Context, key, field string, value interface{}) error
	HGet(ctx context.Context, key, field string) (string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// Blob is the JSON value stored per online user.
type Blob struct {
	SocketID string    `json:"socketId"`
	LastSeen time.Time `json:"lastSeen"`
}

// Registry implements presence tracking and room membership indexes.
type Registry struct {
	store hashStore
}

// New wraps a keyed store as a presence Registry.
func New(s hashStore) *Registry {
	return &Registry{store: s}
}

func roomUserField(roomID, userID string) string { return roomID + ":" + userID }
func userRoomField(userID, roomID string) string  { return userID + ":" + roomID }

// SetOnline marks userID online on socketID and stamps lastSeen=now.
// The heartbeat loop calls this again every HeartbeatInterval.
func (r *Registry) SetOnline(ctx context.Context, userID, socketID string) error {
	blob := Blob{SocketID: socketID, LastSeen: time.Now()}
	data, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	return r.store.HSet(ctx, userPresenceKey, userID, data)
}

// SetOffline removes userID's presence blob.
func (r *Registry) SetOffline(ctx context.Context, userID string) error {
	return r.store.HDel(ctx, userPresenceKey, userID)
}

// Get returns userID's presence blob, or ok=false if offline.
func (r *Registry) Get(ctx context.Context, userID string) (Blob, bool, error) {
	raw, err := r.store.HGet(ctx, userPresenceKey, userID)
	if err != nil {
		return Blob{}, false, nil
	}
	var blob Blob
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return Blob{}, false, err
	}
	return blob, true, nil
}

// AddToRoom records that userID has joined roomID.
func (r *Registry) AddToRoom(ctx context.Context, userID, roomID string) error {
	if err := r.store.HSet(ctx, roomUsersKey, roomUserField(roomID, userID), "1"); err != nil {
		return err
	}
	return r.store.HSet(ctx, userRoomsKey, userRoomField(userID, roomID), "1")
}

// RemoveFromRoom records that userID has left roomID.
func (r *Registry) RemoveFromRoom(ctx context.Context, userID, roomID string) error {
	if err := r.store.HDel(ctx, roomUsersKey, roomUserField(roomID, userID)); err != nil {
		return err
	}
	return r.store.HDel(ctx, userRoomsKey, userRoomField(userID, roomID))
}

// RoomUsers lists the user IDs currently joined to roomID.
func (r *Registry) RoomUsers(ctx context.Context, roomID string) ([]string, error) {
	all, err := r.store.HGetAll(ctx, roomUsersKey)
	if err != nil {
		return nil, err
	}
	prefix := roomID + ":"
	var users []string
	for field := range all {
		if userID, ok := strings.CutPrefix(field, prefix); ok {
			users = append(users, userID)
		}
	}
	return users, nil
}

// UserRooms lists the room IDs userID currently belongs to.
func (r *Registry) UserRooms(ctx context.Context, userID string) ([]string, error) {
	all, err := r.store.HGetAll(ctx, userRoomsKey)
	if err != nil {
		return nil, err
	}
	prefix := userID + ":"
	var rooms []string
	for field := range all {
		if roomID, ok := strings.CutPrefix(field, prefix); ok {
			rooms = append(rooms, roomID)
		}
	}
	return rooms, nil
}

// CleanupUser removes userID from every room index and marks it
// offline. Called on disconnect.
func (r *Registry) CleanupUser(ctx context.Context, userID string) error {
	rooms, err := r.UserRooms(ctx, userID)
	if err != nil {
		return err
	}
	for _, roomID := range rooms {
		if err := r.RemoveFromRoom(ctx, userID, roomID); err != nil {
			return err
		}
	}
	return r.SetOffline(ctx, userID)
}
