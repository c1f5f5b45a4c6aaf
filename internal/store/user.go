package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertUser inserts or updates a user profile. Identity is immutable;
// profile fields are overwritten by the latest payload.
func (db *DB) UpsertUser(u *User) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (id, username, display_name, avatar_url, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		u.ID, u.Username, u.DisplayName, u.AvatarURL, u.LastSeen, u.CreatedAt, now)
	return err
}

// BulkUpsertUsers inserts or updates multiple users in a single transaction.
func (db *DB) BulkUpsertUsers(users []User) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, u := range users {
		if _, err := tx.Exec(`
			INSERT INTO users (id, username, display_name, avatar_url, last_seen, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				username = excluded.username,
				display_name = excluded.display_name,
				avatar_url = excluded.avatar_url,
				last_seen = excluded.last_seen,
				updated_at = excluded.updated_at`,
			u.ID, u.Username, u.DisplayName, u.AvatarURL, u.LastSeen, u.CreatedAt, now); err != nil {
			return fmt.Errorf("upsert user %q: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

// GetUser returns a user by ID, or nil if absent.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	err := db.QueryRow(`
		SELECT id, username, display_name, avatar_url, last_seen, created_at
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.LastSeen, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserCount returns the total number of users.
func (db *DB) UserCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
