// Package storepg is the document store (C9/C10's backing
// repository): Postgres via pgx, holding users, rooms, memberships,
// and messages. It is the source of truth the spec calls "the
// document store" — the keyed store in package store never holds
// authoritative data.
package storepg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps a pgxpool.Pool and exposes the per-entity repositories.
type Pool struct {
	db *pgxpool.Pool
}

// Connect opens a pooled connection and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 25
	cfg.MinConns = 5
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{db: pool}, nil
}

// Close releases every pooled connection.
func (p *Pool) Close() {
	p.db.Close()
}

// Ping checks Postgres reachability for health reporting.
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Users returns the user repository.
func (p *Pool) Users() *UserRepo {
	return &UserRepo{db: p.db}
}

// Rooms returns the room/membership repository.
func (p *Pool) Rooms() *RoomRepo {
	return &RoomRepo{db: p.db}
}

// Messages returns the message repository.
func (p *Pool) Messages() *MessageRepo {
	return &MessageRepo{db: p.db}
}
