package store

import (
	"database/sql"
	"fmt"
	"time"
)

const displayNameExpr = `
	COALESCE(
		NULLIF(c.name, ''),
		CASE WHEN c.chat_type = 'direct' THEN (
			SELECT NULLIF(u.display_name, '')
			FROM chat_participants p
			JOIN users u ON u.id = p.user_id
			WHERE p.chat_id = c.id AND p.user_id <> ?
			ORDER BY p.position LIMIT 1)
		END,
		'Unknown Chat')`

// UpsertChat inserts or updates a chat record. updated_at only moves
// forward, and the cached last-message fields are replaced only by a
// newer message, so stale sync payloads cannot roll a chat back.
func (db *DB) UpsertChat(c *Chat) error {
	updatedAt := c.UpdatedAt
	if updatedAt == 0 {
		updatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO chats (id, name, chat_type, unread_count, last_message_id, last_message_at, last_message_preview, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			chat_type = excluded.chat_type,
			unread_count = excluded.unread_count,
			last_message_id = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_id ELSE chats.last_message_id END,
			last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			updated_at = MAX(chats.updated_at, excluded.updated_at)`,
		c.ID, c.Name, c.Type, c.UnreadCount, c.LastMessageID, c.LastMessageAt, c.LastMessagePreview, c.CreatedAt, updatedAt)
	return err
}

// SetParticipants replaces the participant set of a chat, preserving the
// given order.
func (db *DB) SetParticipants(chatID string, userIDs []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM chat_participants WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	for i, uid := range userIDs {
		if _, err := tx.Exec(`
			INSERT INTO chat_participants (chat_id, user_id, position) VALUES (?, ?, ?)`,
			chatID, uid, i); err != nil {
			return fmt.Errorf("add participant %q: %w", uid, err)
		}
	}
	return tx.Commit()
}

// ListChats returns chats sorted by last message timestamp descending.
// For direct chats with no explicit name, the other participant's display
// name substitutes; selfID identifies which participant to skip.
func (db *DB) ListChats(selfID string, limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT c.id, `+displayNameExpr+` AS display_name,
			c.chat_type, c.unread_count, c.last_message_id, c.last_message_at, c.last_message_preview, c.created_at, c.updated_at
		FROM chats c
		ORDER BY c.last_message_at DESC
		LIMIT ? OFFSET ?`, selfID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.UnreadCount, &c.LastMessageID, &c.LastMessageAt, &c.LastMessagePreview, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by ID with its display name resolved, or
// nil if absent.
func (db *DB) GetChat(id, selfID string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT c.id, `+displayNameExpr+` AS display_name,
			c.chat_type, c.unread_count, c.last_message_id, c.last_message_at, c.last_message_preview, c.created_at, c.updated_at
		FROM chats c
		WHERE c.id = ?`, selfID, id).
		Scan(&c.ID, &c.Name, &c.Type, &c.UnreadCount, &c.LastMessageID, &c.LastMessageAt, &c.LastMessagePreview, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ChatIDs returns all known chat IDs ordered by recency.
func (db *DB) ChatIDs() ([]string, error) {
	rows, err := db.Query(`SELECT id FROM chats ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

// ClearUnread resets a chat's unread counter.
func (db *DB) ClearUnread(chatID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE chats SET unread_count = 0, updated_at = MAX(updated_at, ?) WHERE id = ?`, now, chatID)
	return err
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}
