package storepg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epic1st/pulseroom/backend/auth"
	"github.com/epic1st/pulseroom/backend/internal/apperr"
)

// UserRepo implements auth.Repository against Postgres.
type UserRepo struct {
	db *pgxpool.Pool
}

var _ auth.Repository = (*UserRepo)(nil)

// CreateUser inserts a new user row. The unique index on lower(email)
// is the enforcement point for "unique lowercase email".
func (r *UserRepo) CreateUser(ctx context.Context, u *auth.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, display_name, role, active, created_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7)
	`, u.ID, u.Email, u.PasswordHash, u.DisplayName, u.Role, u.Active, u.CreatedAt)
	if err != nil {
		return err
	}
	return nil
}

func (r *UserRepo) scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Role, &u.Active, &u.AvatarURL, &u.LastLogin, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail looks up a user by lowercased email.
func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, password_hash, display_name, role, active, avatar_url, last_login, created_at
		FROM users WHERE email = lower($1)
	`, email)
	return r.scanUser(row)
}

// GetUserByID looks up a user by ID.
func (r *UserRepo) GetUserByID(ctx context.Context, id string) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, password_hash, display_name, role, active, avatar_url, last_login, created_at
		FROM users WHERE id = $1
	`, id)
	return r.scanUser(row)
}

// UpdateLastLogin stamps a user's last-login time.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	return err
}

// UpdateRole is the admin-only role mutation from the users API.
func (r *UserRepo) UpdateRole(ctx context.Context, id, role string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET role = $2 WHERE id = $1`, id, role)
	return err
}

// SetActive is the admin-only activate/deactivate mutation.
func (r *UserRepo) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET active = $2 WHERE id = $1`, id, active)
	return err
}
