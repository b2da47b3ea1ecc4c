// Package chatcache implements C4: an advisory, best-effort cache of
// each room's most recent messages, used to serve the first page of
// history without a document-store round trip.
package chatcache

import (
	"context"
	"time"
)

const (
	ttl        = 5 * time.Minute
	maxEntries = 50
)

// listStore is the slice of store.Store chatcache depends on.
type listStore interface {
	LPush(ctx context.Context, key string, value interface{}) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64, dest interface{}) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

func roomKey(roomID string) string { return "recent:room:" + roomID }

// Cache is the hot-message cache.
type Cache struct {
	store listStore
}

// New wraps a keyed store as a Cache.
func New(s listStore) *Cache {
	return &Cache{store: s}
}

// Prepend adds a single newly-sent message to the front of roomID's
// cached list, re-truncates to maxEntries, and refreshes the TTL.
func (c *Cache) Prepend(ctx context.Context, roomID string, message interface{}) error {
	key := roomKey(roomID)
	if err := c.store.LPush(ctx, key, message); err != nil {
		return err
	}
	if err := c.store.LTrim(ctx, key, 0, maxEntries-1); err != nil {
		return err
	}
	return c.store.Expire(ctx, key, ttl)
}

// Recent returns roomID's cached messages (most recent first, up to
// maxEntries), decoded into dest. A cache miss is not an error: dest
// is simply left empty and the caller falls through to the document
// store.
func (c *Cache) Recent(ctx context.Context, roomID string, dest interface{}) error {
	return c.store.LRange(ctx, roomKey(roomID), 0, maxEntries-1, dest)
}

// Refresh replaces roomID's cached list wholesale, most-recent-first,
// and resets the TTL. Called after a first-page history read to
// refresh the cache from the document store, and with messages set to
// nil to invalidate the cache outright after an edit or delete — in
// both cases the existing list is deleted first, so no stale entry
// from before the call can survive a subsequent Recent.
func (c *Cache) Refresh(ctx context.Context, roomID string, messages []interface{}) error {
	key := roomKey(roomID)
	if err := c.store.Delete(ctx, key); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	if len(messages) > maxEntries {
		messages = messages[:maxEntries]
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if err := c.store.LPush(ctx, key, messages[i]); err != nil {
			return err
		}
	}
	if err := c.store.LTrim(ctx, key, 0, maxEntries-1); err != nil {
		return err
	}
	return c.store.Expire(ctx, key, ttl)
}
