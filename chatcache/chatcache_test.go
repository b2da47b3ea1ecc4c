package chatcache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type fakeListStore struct {
	mu   sync.Mutex
	data map[string][]string
}

func newFakeListStore() *fakeListStore {
	return &fakeListStore{data: make(map[string][]string)}
}

func (f *fakeListStore) LPush(ctx context.Context, key string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = append([]string{string(data)}, f.data[key]...)
	return nil
}

func (f *fakeListStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.data[key]
	if int64(len(list)) > stop+1 {
		f.data[key] = list[:stop+1]
	}
	return nil
}

func (f *fakeListStore) LRange(ctx context.Context, key string, start, stop int64, dest interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.data[key]
	end := stop + 1
	if end > int64(len(list)) {
		end = int64(len(list))
	}
	raw := "[" + join(list[start:end]) + "]"
	return json.Unmarshal([]byte(raw), dest)
}

func join(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it
	}
	return out
}

func (f *fakeListStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (f *fakeListStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

type testMessage struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

func TestPrependThenRecent(t *testing.T) {
	c := New(newFakeListStore())
	ctx := context.Background()

	c.Prepend(ctx, "room-1", testMessage{ID: "1", Body: "hello"})
	c.Prepend(ctx, "room-1", testMessage{ID: "2", Body: "world"})

	var out []testMessage
	if err := c.Recent(ctx, "room-1", &out); err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].ID != "2" {
		t.Errorf("expected most recent message first, got %q", out[0].ID)
	}
}

func TestPrependTruncatesToMaxEntries(t *testing.T) {
	c := New(newFakeListStore())
	ctx := context.Background()

	for i := 0; i < maxEntries+10; i++ {
		c.Prepend(ctx, "room-1", testMessage{ID: string(rune('a' + i%26))})
	}

	var out []testMessage
	if err := c.Recent(ctx, "room-1", &out); err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(out) != maxEntries {
		t.Fatalf("expected cache truncated to %d, got %d", maxEntries, len(out))
	}
}

func TestRefreshReplacesListMostRecentFirst(t *testing.T) {
	c := New(newFakeListStore())
	ctx := context.Background()

	msgs := []interface{}{
		testMessage{ID: "newest"},
		testMessage{ID: "middle"},
		testMessage{ID: "oldest"},
	}
	if err := c.Refresh(ctx, "room-1", msgs); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	var out []testMessage
	if err := c.Recent(ctx, "room-1", &out); err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(out) != 3 || out[0].ID != "newest" {
		t.Fatalf("expected order preserved starting with 'newest', got %+v", out)
	}
}

func TestRefreshDropsStaleEntriesNotInNewList(t *testing.T) {
	c := New(newFakeListStore())
	ctx := context.Background()

	if err := c.Refresh(ctx, "room-1", []interface{}{
		testMessage{ID: "a"}, testMessage{ID: "b"}, testMessage{ID: "c"},
	}); err != nil {
		t.Fatalf("first Refresh failed: %v", err)
	}
	// A shorter refresh (e.g. after CountLive shrank) must not leave "c"
	// behind from the previous write.
	if err := c.Refresh(ctx, "room-1", []interface{}{testMessage{ID: "a"}}); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}

	var out []testMessage
	if err := c.Recent(ctx, "room-1", &out); err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("expected only 'a' to remain, got %+v", out)
	}
}

func TestRefreshNilInvalidatesCache(t *testing.T) {
	c := New(newFakeListStore())
	ctx := context.Background()

	if err := c.Prepend(ctx, "room-1", testMessage{ID: "stale"}); err != nil {
		t.Fatalf("Prepend failed: %v", err)
	}
	if err := c.Refresh(ctx, "room-1", nil); err != nil {
		t.Fatalf("Refresh(nil) failed: %v", err)
	}

	var out []testMessage
	if err := c.Recent(ctx, "room-1", &out); err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected cache emptied after Refresh(nil), got %+v", out)
	}
}
