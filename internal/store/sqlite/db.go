package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"securechat/internal/domain"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate creates the schema and seeds the default open channel. All
// statements are idempotent so it is safe to run on every start.
//
// Message timestamps are stored as unix milliseconds so that ordering
// is a plain integer comparison; ties fall back to the autoincrement
// rowid, i.e. insertion order.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			hashed_password VARCHAR(255) NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS groups (
			id TEXT PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			open_membership BOOLEAN NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id TEXT NOT NULL,
			username VARCHAR(50) NOT NULL,
			last_read_at INTEGER DEFAULT NULL,
			PRIMARY KEY (group_id, username),
			FOREIGN KEY (group_id) REFERENCES groups(id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			message_id TEXT UNIQUE NOT NULL,
			room_id TEXT NOT NULL,
			username VARCHAR(50) NOT NULL,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS direct_messages (
			id INTEGER PRIMARY KEY,
			message_id TEXT UNIQUE NOT NULL,
			sender VARCHAR(50) NOT NULL,
			receiver VARCHAR(50) NOT NULL,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(username);`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_group ON group_members(group_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages(room_id, timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_dm_sender ON direct_messages(sender, receiver);`,
		`CREATE INDEX IF NOT EXISTS idx_dm_receiver ON direct_messages(receiver, sender);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// Seed the default channel.
	if _, err := db.Exec(`
		INSERT INTO groups (id, name, description, open_membership)
		VALUES (?, 'General', 'Main channel', 1)
		ON CONFLICT(id) DO NOTHING
	`, domain.GeneralGroupID); err != nil {
		return fmt.Errorf("seed general group: %w", err)
	}

	return nil
}
