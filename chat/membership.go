package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/epic1st/pulseroom/backend/auth"
	"github.com/epic1st/pulseroom/backend/internal/apperr"
	"github.com/epic1st/pulseroom/backend/logging"
	"github.com/epic1st/pulseroom/backend/storepg"
)

// userLookup is the slice of auth.Repository the membership service
// depends on to confirm an addMember target exists.
type userLookup interface {
	GetUserByID(ctx context.Context, id string) (*auth.User, error)
}

// roomRepo is the slice of storepg.RoomRepo the membership service
// depends on.
type roomRepo interface {
	CreateRoomWithOwner(ctx context.Context, room *storepg.Room, ownerID string) error
	GetRoom(ctx context.Context, roomID string) (*storepg.Room, error)
	GetMembership(ctx context.Context, roomID, userID string) (*storepg.Membership, error)
	InsertMembership(ctx context.Context, roomID, userID, role string) error
	DeleteMembership(ctx context.Context, roomID, userID string) error
	UpdateMembershipRole(ctx context.Context, roomID, userID, role string) error
	CountOwners(ctx context.Context, roomID string) (int, error)
}

// CreateRoomInput is the payload for MembershipService.Create.
type CreateRoomInput struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Private bool   `json:"private"`
}

// MembershipService is C10.
type MembershipService struct {
	rooms roomRepo
	users userLookup
	audit *logging.AuditLogger
}

// NewMembershipService wires C10's collaborators.
func NewMembershipService(rooms roomRepo, users userLookup) *MembershipService {
	return &MembershipService{rooms: rooms, users: users}
}

// SetAuditLogger attaches an audit trail for role changes. Nil-safe.
func (s *MembershipService) SetAuditLogger(audit *logging.AuditLogger) {
	s.audit = audit
}

// Create implements C10.create: inserts the room and its owner
// membership, membersCount starting at 1.
func (s *MembershipService) Create(ctx context.Context, input CreateRoomInput, ownerID string) (*storepg.Room, error) {
	room := &storepg.Room{
		ID:        uuid.NewString(),
		Type:      input.Type,
		Name:      input.Name,
		Private:   input.Private,
		CreatorID: ownerID,
		CreatedAt: time.Now(),
	}
	if err := s.rooms.CreateRoomWithOwner(ctx, room, ownerID); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create room", err)
	}
	return room, nil
}

// AddMember implements C10.addMember: caller must be owner or
// moderator; target must exist and not already be a member.
func (s *MembershipService) AddMember(ctx context.Context, roomID, callerID, targetID string) error {
	callerRole, err := s.RoleOf(ctx, roomID, callerID)
	if err != nil {
		return err
	}
	if callerRole != "owner" && callerRole != "moderator" {
		return apperr.New(apperr.Forbidden, "only an owner or moderator may add members")
	}

	if _, err := s.users.GetUserByID(ctx, targetID); err != nil {
		return err
	}

	if _, err := s.rooms.GetMembership(ctx, roomID, targetID); err == nil {
		return apperr.New(apperr.Conflict, "user is already a member")
	} else if apperr.KindOf(err) != apperr.NotFound {
		return err
	}

	if err := s.rooms.InsertMembership(ctx, roomID, targetID, "member"); err != nil {
		return apperr.Wrap(apperr.Internal, "add member", err)
	}
	return nil
}

// RemoveMember implements C10.removeMember: self-removal is always
// allowed; a moderator may remove a plain member; an owner may remove
// anyone but themselves. An owner can leave only if another owner
// remains.
func (s *MembershipService) RemoveMember(ctx context.Context, roomID, callerID, targetID string) error {
	callerRole, err := s.RoleOf(ctx, roomID, callerID)
	if err != nil {
		return err
	}
	targetRole, err := s.RoleOf(ctx, roomID, targetID)
	if err != nil {
		return err
	}

	selfRemoval := callerID == targetID
	allowed := selfRemoval ||
		(callerRole == "moderator" && targetRole == "member") ||
		(callerRole == "owner" && callerID != targetID)
	if !allowed {
		return apperr.New(apperr.Forbidden, "not permitted to remove this member")
	}

	if targetRole == "owner" {
		owners, err := s.rooms.CountOwners(ctx, roomID)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "count owners", err)
		}
		if owners <= 1 {
			return apperr.New(apperr.Forbidden, "cannot remove the sole remaining owner")
		}
	}

	if err := s.rooms.DeleteMembership(ctx, roomID, targetID); err != nil {
		return apperr.Wrap(apperr.Internal, "remove member", err)
	}
	return nil
}

// UpdateMemberRole implements C10.updateMemberRole: caller must be
// owner, may not change their own role, and the target must be an
// existing member other than the caller.
func (s *MembershipService) UpdateMemberRole(ctx context.Context, roomID, callerID, targetID, role string) error {
	if callerID == targetID {
		return apperr.New(apperr.Forbidden, "cannot change your own role")
	}
	callerRole, err := s.RoleOf(ctx, roomID, callerID)
	if err != nil {
		return err
	}
	if callerRole != "owner" {
		return apperr.New(apperr.Forbidden, "only an owner may change member roles")
	}
	if _, err := s.rooms.GetMembership(ctx, roomID, targetID); err != nil {
		return err
	}

	if err := s.rooms.UpdateMembershipRole(ctx, roomID, targetID, role); err != nil {
		return apperr.Wrap(apperr.Internal, "update member role", err)
	}
	if s.audit != nil {
		s.audit.LogMemberRoleChanged(ctx, roomID, callerID, targetID, role)
	}
	return nil
}

// IsMember implements C10.isMember.
func (s *MembershipService) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	_, err := s.rooms.GetMembership(ctx, roomID, userID)
	if apperr.KindOf(err) == apperr.NotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RoleOf implements C10.roleOf: a real membership-table lookup, never
// a placeholder role.
func (s *MembershipService) RoleOf(ctx context.Context, roomID, userID string) (string, error) {
	m, err := s.rooms.GetMembership(ctx, roomID, userID)
	if err != nil {
		return "", err
	}
	return m.Role, nil
}
