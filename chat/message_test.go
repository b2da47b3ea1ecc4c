package chat

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/epic1st/pulseroom/backend/broker"
	"github.com/epic1st/pulseroom/backend/internal/apperr"
	"github.com/epic1st/pulseroom/backend/ratelimit"
	"github.com/epic1st/pulseroom/backend/store"
	"github.com/epic1st/pulseroom/backend/storepg"
)

type fakeMessageRepo struct {
	byID map[string]*storepg.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{byID: make(map[string]*storepg.Message)}
}

func (r *fakeMessageRepo) Insert(ctx context.Context, m *storepg.Message) error {
	cp := *m
	r.byID[m.ID] = &cp
	return nil
}

func (r *fakeMessageRepo) Get(ctx context.Context, id string) (*storepg.Message, error) {
	m, ok := r.byID[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "message not found")
	}
	cp := *m
	return &cp, nil
}

func (r *fakeMessageRepo) List(ctx context.Context, roomID string, limit, offset int, cursor *time.Time) ([]*storepg.Message, error) {
	var out []*storepg.Message
	for _, m := range r.byID {
		if m.RoomID == roomID && m.DeletedAt == nil {
			if cursor != nil && !m.CreatedAt.Before(*cursor) {
				continue
			}
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if cursor == nil {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeMessageRepo) CountLive(ctx context.Context, roomID string) (int, error) {
	n := 0
	for _, m := range r.byID {
		if m.RoomID == roomID && m.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *fakeMessageRepo) UpdateBody(ctx context.Context, id, body string, editedAt time.Time) error {
	m, ok := r.byID[id]
	if !ok {
		return apperr.New(apperr.NotFound, "message not found")
	}
	m.Body = body
	m.EditedAt = &editedAt
	return nil
}

func (r *fakeMessageRepo) SoftDelete(ctx context.Context, id string, deletedAt time.Time) error {
	m, ok := r.byID[id]
	if !ok {
		return apperr.New(apperr.NotFound, "message not found")
	}
	m.DeletedAt = &deletedAt
	return nil
}

type fakeRooms struct {
	rooms       map[string]*storepg.Room
	memberships map[string]map[string]string // roomID -> userID -> role
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{rooms: make(map[string]*storepg.Room), memberships: make(map[string]map[string]string)}
}

func (r *fakeRooms) addRoom(id string) {
	r.rooms[id] = &storepg.Room{ID: id}
	r.memberships[id] = make(map[string]string)
}

func (r *fakeRooms) addMember(roomID, userID, role string) {
	r.memberships[roomID][userID] = role
}

func (r *fakeRooms) GetRoom(ctx context.Context, roomID string) (*storepg.Room, error) {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "room not found")
	}
	return room, nil
}

func (r *fakeRooms) GetMembership(ctx context.Context, roomID, userID string) (*storepg.Membership, error) {
	members, ok := r.memberships[roomID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "room not found")
	}
	role, ok := members[userID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "not a member")
	}
	return &storepg.Membership{RoomID: roomID, UserID: userID, Role: role}, nil
}

type fakeCache struct {
	entries map[string][]interface{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]interface{})}
}

func (c *fakeCache) Prepend(ctx context.Context, roomID string, message interface{}) error {
	c.entries[roomID] = append([]interface{}{message}, c.entries[roomID]...)
	return nil
}

func (c *fakeCache) Recent(ctx context.Context, roomID string, dest interface{}) error {
	out, ok := dest.(*[]*storepg.Message)
	if !ok {
		return nil
	}
	for _, e := range c.entries[roomID] {
		if m, ok := e.(*storepg.Message); ok {
			*out = append(*out, m)
		}
	}
	return nil
}

func (c *fakeCache) Refresh(ctx context.Context, roomID string, messages []interface{}) error {
	c.entries[roomID] = messages
	return nil
}

type fakeZSetStore struct {
	data map[string]map[string]float64
}

func newFakeZSetStore() *fakeZSetStore {
	return &fakeZSetStore{data: make(map[string]map[string]float64)}
}

func (s *fakeZSetStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	m := s.data[key]
	for member, score := range m {
		if score >= min && score <= max {
			delete(m, member)
		}
	}
	return nil
}

func (s *fakeZSetStore) ZCard(ctx context.Context, key string) (int64, error) {
	return int64(len(s.data[key])), nil
}

func (s *fakeZSetStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if s.data[key] == nil {
		s.data[key] = make(map[string]float64)
	}
	s.data[key][member] = score
	return nil
}

func (s *fakeZSetStore) Expire(ctx context.Context, key string, ttl time.Duration) error { return nil }

func (s *fakeZSetStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]store.ZMember, error) {
	set := s.data[key]
	members := make([]store.ZMember, 0, len(set))
	for member, score := range set {
		members = append(members, store.ZMember{Member: member, Score: score})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Score < members[j].Score })
	if start >= int64(len(members)) {
		return nil, nil
	}
	end := stop + 1
	if end > int64(len(members)) || end < start {
		end = int64(len(members))
	}
	return members[start:end], nil
}

type fakeDeleteSink struct {
	roomID    string
	messageID string
	calls     int
}

func (s *fakeDeleteSink) EmitMessageDeleted(roomID, messageID string) {
	s.roomID = roomID
	s.messageID = messageID
	s.calls++
}

type fakeProducer struct {
	produced []broker.MessageMetadata
}

func (p *fakeProducer) ProduceInbound(ctx context.Context, m broker.MessageMetadata) error {
	p.produced = append(p.produced, m)
	return nil
}

func newTestMessageService() (*MessageService, *fakeMessageRepo, *fakeRooms, *fakeCache, *fakeProducer) {
	messages := newFakeMessageRepo()
	rooms := newFakeRooms()
	cache := newFakeCache()
	limiter := ratelimit.New(newFakeZSetStore())
	producer := &fakeProducer{}
	svc := NewMessageService(messages, rooms, cache, limiter, producer)
	return svc, messages, rooms, cache, producer
}

func TestSendRequiresMembership(t *testing.T) {
	svc, _, rooms, _, _ := newTestMessageService()
	rooms.addRoom("room-1")

	_, err := svc.Send(context.Background(), "room-1", "hi", "user-1", "")
	if apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected forbidden for non-member send, got %v", err)
	}
}

func TestSendSanitizesAndProducesRawBody(t *testing.T) {
	svc, _, rooms, _, producer := newTestMessageService()
	rooms.addRoom("room-1")
	rooms.addMember("room-1", "user-1", "member")

	raw := "<script>alert(1)</script>hello"
	msg, err := svc.Send(context.Background(), "room-1", raw, "user-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Body == raw {
		t.Fatal("expected stored body to be sanitized")
	}
	if len(producer.produced) != 1 {
		t.Fatalf("expected one inbound produce, got %d", len(producer.produced))
	}
	if producer.produced[0].Body != raw {
		t.Fatal("expected the analyzer-bound body to be the original, unsanitized text")
	}
}

func TestUpdateIsSenderOnly(t *testing.T) {
	svc, _, rooms, _, _ := newTestMessageService()
	rooms.addRoom("room-1")
	rooms.addMember("room-1", "user-1", "member")
	rooms.addMember("room-1", "user-2", "member")

	msg, err := svc.Send(context.Background(), "room-1", "hello", "user-1", "")
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	if _, err := svc.Update(context.Background(), msg.ID, "edited", "user-2"); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected forbidden for non-sender edit, got %v", err)
	}

	updated, err := svc.Update(context.Background(), msg.ID, "edited", "user-1")
	if err != nil {
		t.Fatalf("unexpected error on sender edit: %v", err)
	}
	if updated.Body != "edited" || updated.EditedAt == nil {
		t.Fatal("expected body updated and editedAt stamped")
	}
}

func TestListConcatenatesPagesWithoutOverlap(t *testing.T) {
	svc, messages, rooms, _, _ := newTestMessageService()
	rooms.addRoom("room-1")
	rooms.addMember("room-1", "user-1", "member")

	base := time.Now()
	for i := 0; i < 5; i++ {
		messages.byID[string(rune('a'+i))] = &storepg.Message{
			ID:        string(rune('a' + i)),
			RoomID:    "room-1",
			SenderID:  "user-1",
			Body:      "msg",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
	}
	// newest-first order is e, d, c, b, a.

	var concatenated []*storepg.Message
	for page := 1; page <= 3; page++ {
		got, err := svc.List(context.Background(), "room-1", page, 2, nil, "user-1")
		if err != nil {
			t.Fatalf("unexpected error on page %d: %v", page, err)
		}
		concatenated = append(concatenated, got.Messages...)
	}

	if len(concatenated) != 5 {
		t.Fatalf("expected 5 messages across pages 1..3, got %d", len(concatenated))
	}
	want := []string{"e", "d", "c", "b", "a"}
	for i, m := range concatenated {
		if m.ID != want[i] {
			t.Fatalf("position %d: expected message %q, got %q", i, want[i], m.ID)
		}
	}
}

func TestDeleteThenGetIsNotFound(t *testing.T) {
	svc, _, rooms, _, _ := newTestMessageService()
	rooms.addRoom("room-1")
	rooms.addMember("room-1", "user-1", "member")

	msg, err := svc.Send(context.Background(), "room-1", "hello", "user-1", "")
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	if err := svc.Delete(context.Background(), msg.ID, "user-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := svc.Get(context.Background(), msg.ID, "user-1"); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected not found after soft delete, got %v", err)
	}
}

func TestDeleteNotifiesDeleteSink(t *testing.T) {
	svc, _, rooms, _, _ := newTestMessageService()
	rooms.addRoom("room-1")
	rooms.addMember("room-1", "user-1", "member")

	sink := &fakeDeleteSink{}
	svc.SetDeleteSink(sink)

	msg, err := svc.Send(context.Background(), "room-1", "hello", "user-1", "")
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	if err := svc.Delete(context.Background(), msg.ID, "user-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	if sink.calls != 1 {
		t.Fatalf("expected EmitMessageDeleted called once, got %d", sink.calls)
	}
	if sink.roomID != "room-1" || sink.messageID != msg.ID {
		t.Fatalf("expected sink notified of room-1/%s, got %s/%s", msg.ID, sink.roomID, sink.messageID)
	}
}
