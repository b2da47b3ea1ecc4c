package storepg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epic1st/pulseroom/backend/internal/apperr"
)

// Room is a conversation scope: a direct message or a channel.
type Room struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"` // "dm" | "channel"
	Name         string    `json:"name"`
	Private      bool      `json:"private"`
	CreatorID    string    `json:"creatorId"`
	MembersCount int       `json:"membersCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Membership is the (room, user, role) triple authorizing
// participation.
type Membership struct {
	RoomID            string     `json:"roomId"`
	UserID            string     `json:"userId"`
	Role              string     `json:"role"` // "owner" | "moderator" | "member"
	JoinedAt          time.Time  `json:"joinedAt"`
	LastReadMessageID *string    `json:"lastReadMessageId,omitempty"`
	LastSeenAt        *time.Time `json:"lastSeenAt,omitempty"`
}

// RoomRepo is the raw persistence surface for rooms and memberships.
// Business rules (who may add/remove/promote whom) live in package
// chat; this type only executes the SQL those rules decide on.
type RoomRepo struct {
	db *pgxpool.Pool
}

// CreateRoomWithOwner inserts a room and its owner membership in one
// transaction, per C10 create: membersCount starts at 1.
func (r *RoomRepo) CreateRoomWithOwner(ctx context.Context, room *Room, ownerID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	room.MembersCount = 1
	_, err = tx.Exec(ctx, `
		INSERT INTO rooms (id, type, name, private, creator_id, members_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, room.ID, room.Type, room.Name, room.Private, room.CreatorID, room.MembersCount, room.CreatedAt)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO memberships (room_id, user_id, role, joined_at)
		VALUES ($1, $2, 'owner', $3)
	`, room.ID, ownerID, now)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetRoom loads a room by ID.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	var room Room
	err := r.db.QueryRow(ctx, `
		SELECT id, type, name, private, creator_id, members_count, created_at
		FROM rooms WHERE id = $1
	`, roomID).Scan(&room.ID, &room.Type, &room.Name, &room.Private, &room.CreatorID, &room.MembersCount, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "room not found")
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetMembership returns the (room, user) membership, or NotFound.
func (r *RoomRepo) GetMembership(ctx context.Context, roomID, userID string) (*Membership, error) {
	var m Membership
	err := r.db.QueryRow(ctx, `
		SELECT room_id, user_id, role, joined_at, last_read_message_id, last_seen_at
		FROM memberships WHERE room_id = $1 AND user_id = $2
	`, roomID, userID).Scan(&m.RoomID, &m.UserID, &m.Role, &m.JoinedAt, &m.LastReadMessageID, &m.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "not a member")
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMembership adds a (room, user) membership at the given role
// and increments the room's member count.
func (r *RoomRepo) InsertMembership(ctx context.Context, roomID, userID, role string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO memberships (room_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, roomID, userID, role, time.Now()); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE rooms SET members_count = members_count + 1 WHERE id = $1`, roomID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeleteMembership removes a (room, user) membership and decrements
// the room's member count.
func (r *RoomRepo) DeleteMembership(ctx context.Context, roomID, userID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM memberships WHERE room_id = $1 AND user_id = $2`, roomID, userID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE rooms SET members_count = members_count - 1 WHERE id = $1`, roomID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// UpdateMembershipRole changes a member's role.
func (r *RoomRepo) UpdateMembershipRole(ctx context.Context, roomID, userID, role string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE memberships SET role = $3 WHERE room_id = $1 AND user_id = $2
	`, roomID, userID, role)
	return err
}

// CountOwners counts live owners of a room, used to guard "owner
// cannot be removed while being the sole owner".
func (r *RoomRepo) CountOwners(ctx context.Context, roomID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*) FROM memberships WHERE room_id = $1 AND role = 'owner'
	`, roomID).Scan(&n)
	return n, err
}

// UserRoomIDs lists every room a user belongs to — used by the
// gateway to auto-join on connect.
func (r *RoomRepo) UserRoomIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT room_id FROM memberships WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
