package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatroom-im/chatroom/internal/store"
)

// frame is the JSON shape of an inbound realtime message event.
type frame struct {
	ID         string     `json:"id"`
	ChatID     string     `json:"chat_id"`
	SenderID   string     `json:"sender_id"`
	SenderName string     `json:"sender_name"`
	Content    string     `json:"content"`
	Type       string     `json:"type"`
	MediaURL   string     `json:"media_url,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	IsRead     bool       `json:"is_read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// ParseFrame decodes a realtime frame into a store message. A malformed
// frame is a ProtocolError for the caller to log and drop; it never
// tears the channel down.
func ParseFrame(data []byte) (*store.Message, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("protocol error: decode frame: %w", err)
	}
	if f.ID == "" || f.ChatID == "" {
		return nil, fmt.Errorf("protocol error: frame missing identity (id=%q chat_id=%q)", f.ID, f.ChatID)
	}
	if f.Type == "" {
		f.Type = store.TypeText
	}
	status := store.StatusDelivered
	if f.IsRead || f.ReadAt != nil {
		status = store.StatusRead
	}
	return &store.Message{
		ID:         f.ID,
		ChatID:     f.ChatID,
		SenderID:   f.SenderID,
		SenderName: f.SenderName,
		Content:    f.Content,
		Type:       f.Type,
		MediaURL:   f.MediaURL,
		Status:     status,
		Timestamp:  f.Timestamp.UnixMilli(),
	}, nil
}

// EncodeMessage encodes an outbound message for the wire.
func EncodeMessage(m *store.Message) ([]byte, error) {
	f := frame{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		Type:       m.Type,
		MediaURL:   m.MediaURL,
		Timestamp:  time.UnixMilli(m.Timestamp).UTC(),
		IsRead:     m.Status == store.StatusRead,
	}
	return json.Marshal(f)
}
