package chat

import (
	"context"
	"testing"

	"github.com/epic1st/pulseroom/backend/auth"
	"github.com/epic1st/pulseroom/backend/internal/apperr"
	"github.com/epic1st/pulseroom/backend/storepg"
)

type fakeRoomRepo struct {
	rooms       map[string]*storepg.Room
	memberships map[string]map[string]string
}

func newFakeRoomRepo() *fakeRoomRepo {
	return &fakeRoomRepo{rooms: make(map[string]*storepg.Room), memberships: make(map[string]map[string]string)}
}

func (r *fakeRoomRepo) CreateRoomWithOwner(ctx context.Context, room *storepg.Room, ownerID string) error {
	room.MembersCount = 1
	r.rooms[room.ID] = room
	r.memberships[room.ID] = map[string]string{ownerID: "owner"}
	return nil
}

func (r *fakeRoomRepo) GetRoom(ctx context.Context, roomID string) (*storepg.Room, error) {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "room not found")
	}
	return room, nil
}

func (r *fakeRoomRepo) GetMembership(ctx context.Context, roomID, userID string) (*storepg.Membership, error) {
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

func (r *fakeRoomRepo) InsertMembership(ctx context.Context, roomID, userID, role string) error {
	r.memberships[roomID][userID] = role
	return nil
}

func (r *fakeRoomRepo) DeleteMembership(ctx context.Context, roomID, userID string) error {
	delete(r.memberships[roomID], userID)
	return nil
}

func (r *fakeRoomRepo) UpdateMembershipRole(ctx context.Context, roomID, userID, role string) error {
	r.memberships[roomID][userID] = role
	return nil
}

func (r *fakeRoomRepo) CountOwners(ctx context.Context, roomID string) (int, error) {
	n := 0
	for _, role := range r.memberships[roomID] {
		if role == "owner" {
			n++
		}
	}
	return n, nil
}

type fakeUserLookup struct {
	users map[string]*auth.User
}

func newFakeUserLookup(ids ...string) *fakeUserLookup {
	u := &fakeUserLookup{users: make(map[string]*auth.User)}
	for _, id := range ids {
		u.users[id] = &auth.User{ID: id}
	}
	return u
}

func (u *fakeUserLookup) GetUserByID(ctx context.Context, id string) (*auth.User, error) {
	user, ok := u.users[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}
	return user, nil
}

func newTestMembershipService(userIDs ...string) (*MembershipService, *fakeRoomRepo) {
	rooms := newFakeRoomRepo()
	svc := NewMembershipService(rooms, newFakeUserLookup(userIDs...))
	return svc, rooms
}

func TestCreateRoomSetsOwnerAndMembersCount(t *testing.T) {
	svc, _ := newTestMembershipService()
	room, err := svc.Create(context.Background(), CreateRoomInput{Type: "channel", Name: "general"}, "owner-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if room.MembersCount != 1 {
		t.Fatalf("expected membersCount=1, got %d", room.MembersCount)
	}
	role, err := svc.RoleOf(context.Background(), room.ID, "owner-1")
	if err != nil || role != "owner" {
		t.Fatalf("expected owner role, got %q err=%v", role, err)
	}
}

func TestAddMemberRequiresOwnerOrModerator(t *testing.T) {
	svc, rooms := newTestMembershipService("target-1")
	rooms.rooms["room-1"] = &storepg.Room{ID: "room-1"}
	rooms.memberships["room-1"] = map[string]string{"user-1": "member"}

	if err := svc.AddMember(context.Background(), "room-1", "user-1", "target-1"); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected forbidden for plain member adding, got %v", err)
	}

	rooms.memberships["room-1"]["mod-1"] = "moderator"
	if err := svc.AddMember(context.Background(), "room-1", "mod-1", "target-1"); err != nil {
		t.Fatalf("unexpected error for moderator add: %v", err)
	}

	if err := svc.AddMember(context.Background(), "room-1", "mod-1", "target-1"); apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("expected conflict for already-member add, got %v", err)
	}
}

func TestRemoveMemberSelfAlwaysAllowed(t *testing.T) {
	svc, rooms := newTestMembershipService()
	rooms.rooms["room-1"] = &storepg.Room{ID: "room-1"}
	rooms.memberships["room-1"] = map[string]string{"owner-1": "owner", "user-1": "member"}

	if err := svc.RemoveMember(context.Background(), "room-1", "user-1", "user-1"); err != nil {
		t.Fatalf("unexpected error for self-removal: %v", err)
	}
}

func TestRemoveMemberOwnerCannotLeaveAsSoleOwner(t *testing.T) {
	svc, rooms := newTestMembershipService()
	rooms.rooms["room-1"] = &storepg.Room{ID: "room-1"}
	rooms.memberships["room-1"] = map[string]string{"owner-1": "owner"}

	if err := svc.RemoveMember(context.Background(), "room-1", "owner-1", "owner-1"); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected forbidden for sole-owner self-removal, got %v", err)
	}

	rooms.memberships["room-1"]["owner-2"] = "owner"
	if err := svc.RemoveMember(context.Background(), "room-1", "owner-1", "owner-1"); err != nil {
		t.Fatalf("unexpected error once a second owner exists: %v", err)
	}
}

func TestUpdateMemberRoleOwnerOnlyNotSelf(t *testing.T) {
	svc, rooms := newTestMembershipService()
	rooms.rooms["room-1"] = &storepg.Room{ID: "room-1"}
	rooms.memberships["room-1"] = map[string]string{"owner-1": "owner", "user-1": "member"}

	if err := svc.UpdateMemberRole(context.Background(), "room-1", "owner-1", "owner-1", "moderator"); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected forbidden for self role change, got %v", err)
	}

	if err := svc.UpdateMemberRole(context.Background(), "room-1", "user-1", "owner-1", "member"); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected forbidden for non-owner caller, got %v", err)
	}

	if err := svc.UpdateMemberRole(context.Background(), "room-1", "owner-1", "user-1", "moderator"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	role, _ := svc.RoleOf(context.Background(), "room-1", "user-1")
	if role != "moderator" {
		t.Fatalf("expected promoted role moderator, got %q", role)
	}
}
