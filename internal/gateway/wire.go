package gateway

import (
	"time"

	"github.com/chatroom-im/chatroom/internal/store"
)

// Wire types for the JSON-over-HTTPS contract. Entity identities and
// timestamps round-trip exactly; timestamps are RFC3339 on the wire and
// unix milliseconds in the store.

type wireUser struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

type wireMessage struct {
	ID          string     `json:"id"`
	ChatID      string     `json:"chat_id"`
	SenderID    string     `json:"sender_id"`
	SenderName  string     `json:"sender_name"`
	Content     string     `json:"content"`
	Type        string     `json:"type"`
	MediaURL    string     `json:"media_url,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	IsRead      bool       `json:"is_read"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

type wireChat struct {
	ID           string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	Participants []wireUser   `json:"participants"`
	Type         string       `json:"type"`
	LastMessage  *wireMessage `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type sendMessageRequest struct {
	ChatID   string `json:"chat_id"`
	Content  string `json:"content"`
	Type     string `json:"type"`
	MediaURL string `json:"media_url,omitempty"`
}

type createChatRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
	Type           string   `json:"type"`
	Name           string   `json:"name,omitempty"`
}

func (u *wireUser) toStore() store.User {
	su := store.User{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		CreatedAt:   u.CreatedAt.UnixMilli(),
	}
	if u.LastSeen != nil {
		su.LastSeen = u.LastSeen.UnixMilli()
	}
	return su
}

func (m *wireMessage) toStore() store.Message {
	status := store.StatusSent
	switch {
	case m.IsRead || m.ReadAt != nil:
		status = store.StatusRead
	case m.DeliveredAt != nil:
		status = store.StatusDelivered
	}
	return store.Message{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		Type:       m.Type,
		MediaURL:   m.MediaURL,
		Status:     status,
		Timestamp:  m.Timestamp.UnixMilli(),
	}
}

func (c *wireChat) toStore() store.Chat {
	sc := store.Chat{
		ID:          c.ID,
		Name:        c.Name,
		Type:        c.Type,
		UnreadCount: c.UnreadCount,
		CreatedAt:   c.CreatedAt.UnixMilli(),
		UpdatedAt:   c.UpdatedAt.UnixMilli(),
	}
	for i := range c.Participants {
		sc.Participants = append(sc.Participants, c.Participants[i].toStore())
	}
	if c.LastMessage != nil {
		sc.LastMessageID = c.LastMessage.ID
		sc.LastMessageAt = c.LastMessage.Timestamp.UnixMilli()
		sc.LastMessagePreview = c.LastMessage.Content
	}
	return sc
}
