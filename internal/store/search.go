package store

import (
	"strings"
)

// The FTS index lives outside the migration set: the fts5 module is only
// present when mattn/go-sqlite3 is built with the sqlite_fts5 tag, and a
// migration that requires it would brick every plain build. The schema
// is idempotent, so it is re-applied on every startup instead.
const searchSchema = `
	CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		content,
		content='messages',
		content_rowid='seq'
	);

	CREATE TRIGGER IF NOT EXISTS messages_fts_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, content) VALUES (new.seq, new.content);
	END;

	CREATE TRIGGER IF NOT EXISTS messages_fts_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.seq, old.content);
	END;

	CREATE TRIGGER IF NOT EXISTS messages_fts_au AFTER UPDATE OF content ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.seq, old.content);
		INSERT INTO messages_fts(rowid, content) VALUES (new.seq, new.content);
	END;`

// initSearchIndex creates the FTS index when the linked sqlite provides
// the fts5 module. Without it, SearchMessages falls back to a LIKE scan;
// search stays functional either way.
func (db *DB) initSearchIndex() error {
	var existed int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'messages_fts'`).Scan(&existed); err != nil {
		return err
	}

	if _, err := db.Exec(searchSchema); err != nil {
		if strings.Contains(err.Error(), "fts5") {
			return nil
		}
		return err
	}
	db.fts = true

	// Index rows written before the table existed.
	if existed == 0 {
		if _, err := db.Exec(`INSERT INTO messages_fts(messages_fts) VALUES ('rebuild')`); err != nil {
			return err
		}
	}
	return nil
}

const searchColumns = `m.seq, m.id, m.chat_id, m.sender_id, m.sender_name, m.content, m.message_type, m.media_url, m.status, m.timestamp`

// SearchMessages performs a full-text search over message content.
// chatID narrows the search to a single chat when non-empty.
func (db *DB) SearchMessages(query, chatID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	if db.fts {
		return db.searchFTS(query, chatID, limit)
	}
	return db.searchLike(query, chatID, limit)
}

func (db *DB) searchFTS(query, chatID string, limit int) ([]SearchResult, error) {
	sqlQuery := `
		SELECT ` + searchColumns + `,
			snippet(messages_fts, 0, '[', ']', '…', 12)
		FROM messages_fts f
		JOIN messages m ON m.seq = f.rowid
		WHERE messages_fts MATCH ?`
	args := []any{query}
	if chatID != "" {
		sqlQuery += ` AND m.chat_id = ?`
		args = append(args, chatID)
	}
	sqlQuery += ` ORDER BY m.timestamp DESC LIMIT ?`
	args = append(args, limit)

	return db.scanSearch(sqlQuery, args, "")
}

func (db *DB) searchLike(query, chatID string, limit int) ([]SearchResult, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)
	sqlQuery := `
		SELECT ` + searchColumns + `
		FROM messages m
		WHERE m.content LIKE '%' || ? || '%' ESCAPE '\'`
	args := []any{escaped}
	if chatID != "" {
		sqlQuery += ` AND m.chat_id = ?`
		args = append(args, chatID)
	}
	sqlQuery += ` ORDER BY m.timestamp DESC LIMIT ?`
	args = append(args, limit)

	return db.scanSearch(sqlQuery, args, query)
}

// scanSearch runs a search query. When snippetQuery is non-empty the
// snippet column is absent from the rows and built in Go instead.
func (db *DB) scanSearch(sqlQuery string, args []any, snippetQuery string) ([]SearchResult, error) {
	rows, err := db.Query(sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		dest := []any{&r.Message.Seq, &r.Message.ID, &r.Message.ChatID, &r.Message.SenderID, &r.Message.SenderName,
			&r.Message.Content, &r.Message.Type, &r.Message.MediaURL, &r.Message.Status, &r.Message.Timestamp}
		if snippetQuery == "" {
			dest = append(dest, &r.Snippet)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if snippetQuery != "" {
			r.Snippet = likeSnippet(r.Message.Content, snippetQuery)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// likeSnippet marks the first match the way the fts5 snippet() call
// does, so both search paths render alike.
func likeSnippet(content, query string) string {
	idx := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if idx < 0 {
		return truncate(content, 100)
	}
	end := idx + len(query)
	return content[:idx] + "[" + content[idx:end] + "]" + content[end:]
}
