package migrations

import (
	"database/sql"
)

func init() {
	RegisterMigration(&Migration{
		Version: 1,
		Name:    "initial_schema",
		Up:      initialSchemaUp,
		Down:    initialSchemaDown,
	})
}

func initialSchemaUp(tx *sql.Tx) error {
	schema := `
	CREATE EXTENSION IF NOT EXISTS pgcrypto;

	-- Users table
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email VARCHAR(255) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		display_name VARCHAR(255) NOT NULL,
		role VARCHAR(50) NOT NULL DEFAULT 'user',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		avatar_url TEXT,
		last_login TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX idx_users_email_lower ON users(lower(email));
	CREATE INDEX idx_users_role ON users(role);
	CREATE INDEX idx_users_active ON users(active);

	-- Rooms table
	CREATE TABLE IF NOT EXISTS rooms (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		type VARCHAR(50) NOT NULL DEFAULT 'group',
		name VARCHAR(255) NOT NULL,
		private BOOLEAN NOT NULL DEFAULT FALSE,
		creator_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		members_count INT NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX idx_rooms_creator_id ON rooms(creator_id);
	CREATE INDEX idx_rooms_type ON rooms(type);

	-- Memberships table
	CREATE TABLE IF NOT EXISTS memberships (
		room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role VARCHAR(50) NOT NULL DEFAULT 'member',
		joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_read_message_id UUID,
		last_seen_at TIMESTAMP,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE INDEX idx_memberships_user_id ON memberships(user_id);
	CREATE INDEX idx_memberships_room_id_role ON memberships(room_id, role);

	-- Messages table
	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		sender_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		body TEXT NOT NULL,
		sentiment VARCHAR(50) NOT NULL DEFAULT 'neutral',
		flagged BOOLEAN NOT NULL DEFAULT FALSE,
		reasons TEXT[],
		edited_at TIMESTAMP,
		deleted_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX idx_messages_room_id_created_at ON messages(room_id, created_at DESC);
	CREATE INDEX idx_messages_sender_id ON messages(sender_id);
	CREATE INDEX idx_messages_flagged ON messages(flagged) WHERE flagged = TRUE;
	`

	_, err := tx.Exec(schema)
	return err
}

func initialSchemaDown(tx *sql.Tx) error {
	dropTables := `
	DROP TABLE IF EXISTS messages;
	DROP TABLE IF EXISTS memberships;
	DROP TABLE IF EXISTS rooms;
	DROP TABLE IF EXISTS users;
	`

	_, err := tx.Exec(dropTables)
	return err
}
