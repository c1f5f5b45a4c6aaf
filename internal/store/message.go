package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"
)

// upsertMessageSQL is the single-statement idempotent message write.
// The status CASE chain keeps the delivery state monotonic: a message
// already read stays read, delivered never drops back to sent, and a
// confirmed send is never overwritten by a retry marking it pending.
const upsertMessageSQL = `
	INSERT INTO messages (id, chat_id, sender_id, sender_name, content, message_type, media_url, status, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		sender_name = excluded.sender_name,
		content = excluded.content,
		message_type = excluded.message_type,
		media_url = excluded.media_url,
		status = CASE
			WHEN messages.status = 'read' THEN 'read'
			WHEN messages.status = 'delivered' AND excluded.status <> 'read' THEN 'delivered'
			WHEN messages.status = 'sent' AND excluded.status IN ('pending', 'failed') THEN 'sent'
			ELSE excluded.status
		END`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertMessage(e execer, m *Message) error {
	_, err := e.Exec(upsertMessageSQL,
		m.ID, m.ChatID, m.SenderID, m.SenderName, m.Content, m.Type, m.MediaURL, m.Status, m.Timestamp, time.Now().UnixMilli())
	return err
}

// UpsertMessage inserts or updates a message (idempotent on id).
func (db *DB) UpsertMessage(m *Message) error {
	return upsertMessage(db, m)
}

// BulkUpsertMessages applies a fetched message set in a single
// transaction, all-or-nothing: a failure leaves the store untouched.
func (db *DB) BulkUpsertMessages(msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range msgs {
		if err := upsertMessage(tx, &msgs[i]); err != nil {
			return fmt.Errorf("upsert message %q: %w", msgs[i].ID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns messages for a chat in ascending timestamp order,
// ties broken by insertion order. beforeTs enables keyset pagination
// backwards through history; the newest page is returned when zero.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		// Not the local clock: server timestamps may run ahead of it and
		// must still land on the newest page.
		beforeTs = math.MaxInt64
	}
	rows, err := db.Query(`
		SELECT seq, id, chat_id, sender_id, sender_name, content, message_type, media_url, status, timestamp
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC, seq DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.ID, &m.ChatID, &m.SenderID, &m.SenderName, &m.Content, &m.Type, &m.MediaURL, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Fetched newest-first for the LIMIT; present ascending.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetMessage returns a message by ID, or nil if absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT seq, id, chat_id, sender_id, sender_name, content, message_type, media_url, status, timestamp
		FROM messages WHERE id = ?`, id).
		Scan(&m.Seq, &m.ID, &m.ChatID, &m.SenderID, &m.SenderName, &m.Content, &m.Type, &m.MediaURL, &m.Status, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkMessageRead advances a message to read status.
func (db *DB) MarkMessageRead(id string) error {
	_, err := db.Exec(`UPDATE messages SET status = 'read' WHERE id = ?`, id)
	return err
}

// ReplaceMessage substitutes a locally-identified message with its
// server-confirmed counterpart in one transaction. The local row is
// removed, never duplicated, and the owning chat's cache follows.
func (db *DB) ReplaceMessage(localID string, m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, localID); err != nil {
		return fmt.Errorf("remove local message: %w", err)
	}
	if err := upsertMessage(tx, m); err != nil {
		return fmt.Errorf("upsert confirmed message: %w", err)
	}
	if err := touchChatLastMessage(tx, m, false); err != nil {
		return fmt.Errorf("update chat cache: %w", err)
	}
	return tx.Commit()
}

// InboundResult reports how an inbound realtime message was applied.
type InboundResult struct {
	Inserted     bool
	TypeConflict bool
}

// ApplyInbound applies a realtime push transactionally: upsert the
// message, and only when its identity is new, bump the chat's unread
// counter and refresh the cached last message. Duplicate delivery of the
// same identity is therefore harmless.
func (db *DB) ApplyInbound(m *Message) (InboundResult, error) {
	var res InboundResult

	tx, err := db.Begin()
	if err != nil {
		return res, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingType string
	err = tx.QueryRow(`SELECT message_type FROM messages WHERE id = ?`, m.ID).Scan(&existingType)
	switch {
	case err == sql.ErrNoRows:
		res.Inserted = true
	case err != nil:
		return res, fmt.Errorf("check existing: %w", err)
	default:
		res.TypeConflict = existingType != m.Type
	}

	if err := upsertMessage(tx, m); err != nil {
		return res, fmt.Errorf("upsert message: %w", err)
	}
	if res.Inserted {
		if err := touchChatLastMessage(tx, m, true); err != nil {
			return res, fmt.Errorf("update chat: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return InboundResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// touchChatLastMessage creates the chat row if needed and folds a message
// into its cached last-message fields. updated_at only moves forward.
func touchChatLastMessage(e execer, m *Message, bumpUnread bool) error {
	now := time.Now().UnixMilli()
	if _, err := e.Exec(`
		INSERT INTO chats (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, m.ChatID, now, m.Timestamp); err != nil {
		return err
	}
	bump := 0
	if bumpUnread {
		bump = 1
	}
	_, err := e.Exec(`
		UPDATE chats SET
			unread_count = unread_count + ?,
			last_message_id = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_id END,
			last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
			last_message_at = MAX(last_message_at, ?),
			updated_at = MAX(updated_at, ?)
		WHERE id = ?`,
		bump,
		m.Timestamp, m.ID,
		m.Timestamp, truncate(m.Content, 100),
		m.Timestamp, m.Timestamp, m.ChatID)
	return err
}

// SetChatLastMessage refreshes a chat's cached last message without
// touching the unread counter. Used after a bulk fetch.
func (db *DB) SetChatLastMessage(m *Message) error {
	return touchChatLastMessage(db, m, false)
}

// DeleteUnsentMessage removes a message that never made it to the
// server. Confirmed messages are not deletable this way.
func (db *DB) DeleteUnsentMessage(id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ? AND status IN ('pending', 'failed')`, id)
	return err
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
