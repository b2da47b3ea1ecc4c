package storepg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epic1st/pulseroom/backend/internal/apperr"
)

// ModerationMeta is the pipeline processor's verdict, rewritten
// exactly once per message.
type ModerationMeta struct {
	Sentiment string   `json:"sentiment"` // "positive" | "negative" | "neutral"
	Flagged   bool     `json:"flagged"`
	Reasons   []string `json:"reasons,omitempty"`
}

// Message is a single room message.
type Message struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"roomId"`
	SenderID  string          `json:"senderId"`
	Body      string          `json:"body"`
	Meta      ModerationMeta  `json:"meta"`
	EditedAt  *time.Time      `json:"editedAt,omitempty"`
	DeletedAt *time.Time      `json:"deletedAt,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// MessageRepo is the raw persistence surface for messages.
type MessageRepo struct {
	db *pgxpool.Pool
}

// Insert stores a new message with the moderation meta it carries; the
// message service passes neutral, unflagged meta.
func (r *MessageRepo) Insert(ctx context.Context, m *Message) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO messages (id, room_id, sender_id, body, sentiment, flagged, reasons, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.RoomID, m.SenderID, m.Body, m.Meta.Sentiment, m.Meta.Flagged, m.Meta.Reasons, m.CreatedAt)
	return err
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Body, &m.Meta.Sentiment, &m.Meta.Flagged, &m.Meta.Reasons, &m.EditedAt, &m.DeletedAt, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "message not found")
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const messageColumns = `id, room_id, sender_id, body, sentiment, flagged, reasons, edited_at, deleted_at, created_at`

// Get loads a message by ID, including soft-deleted ones; callers
// check DeletedAt themselves per the spec's "load; verify not
// soft-deleted" ordering.
func (r *MessageRepo) Get(ctx context.Context, id string) (*Message, error) {
	row := r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

// List returns roomID's non-deleted messages ordered newest-first,
// optionally strictly older than cursorCreatedAt, capped at limit. When
// cursorCreatedAt is nil, offset skips the first offset rows (page-based
// pagination); it is ignored when cursorCreatedAt is set, since the
// cursor already positions the window.
func (r *MessageRepo) List(ctx context.Context, roomID string, limit, offset int, cursorCreatedAt *time.Time) ([]*Message, error) {
	var rows pgx.Rows
	var err error
	if cursorCreatedAt != nil {
		rows, err = r.db.Query(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE room_id = $1 AND deleted_at IS NULL AND created_at < $2
			ORDER BY created_at DESC LIMIT $3
		`, roomID, *cursorCreatedAt, limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE room_id = $1 AND deleted_at IS NULL
			ORDER BY created_at DESC LIMIT $2 OFFSET $3
		`, roomID, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountLive returns the total non-deleted message count for a room,
// used as the best-effort total in paginated listings.
func (r *MessageRepo) CountLive(ctx context.Context, roomID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*) FROM messages WHERE room_id = $1 AND deleted_at IS NULL
	`, roomID).Scan(&n)
	return n, err
}

// UpdateBody edits a message's body and stamps editedAt.
func (r *MessageRepo) UpdateBody(ctx context.Context, id, body string, editedAt time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE messages SET body = $2, edited_at = $3 WHERE id = $1`, id, body, editedAt)
	return err
}

// SoftDelete stamps deletedAt.
func (r *MessageRepo) SoftDelete(ctx context.Context, id string, deletedAt time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE messages SET deleted_at = $2 WHERE id = $1`, id, deletedAt)
	return err
}

// UpdateModeration rewrites the moderation meta — called exactly once
// per message by the pipeline's moderated-stage handler.
func (r *MessageRepo) UpdateModeration(ctx context.Context, id string, meta ModerationMeta) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages SET sentiment = $2, flagged = $3, reasons = $4 WHERE id = $1
	`, id, meta.Sentiment, meta.Flagged, meta.Reasons)
	return err
}
