package api

import (
	"context"
	"fmt"

	"github.com/chatroom-im/chatroom/internal/bus"
	"github.com/chatroom-im/chatroom/internal/outbox"
	"github.com/chatroom-im/chatroom/internal/store"
	intsync "github.com/chatroom-im/chatroom/internal/sync"
)

// ReadMarker is the slice of the remote gateway used to mark reads.
type ReadMarker interface {
	MarkRead(ctx context.Context, messageID string) error
}

// MessageService exposes message operations.
type MessageService struct {
	db     *store.DB
	engine *intsync.Engine
	sender *outbox.Sender
	gw     ReadMarker
	bus    *bus.Bus
}

// NewMessageService creates a message service.
func NewMessageService(db *store.DB, engine *intsync.Engine, sender *outbox.Sender, gw ReadMarker, b *bus.Bus) *MessageService {
	return &MessageService{db: db, engine: engine, sender: sender, gw: gw, bus: b}
}

// LoadMessages returns locally known messages for a chat in ascending
// timestamp order. beforeTs pages backwards through history; zero means
// the newest page.
func (s *MessageService) LoadMessages(chatID string, beforeTs int64, limit int) ([]store.Message, error) {
	return s.db.ListMessages(chatID, beforeTs, limit)
}

// Refresh reconciles one chat's messages against the remote service.
func (s *MessageService) Refresh(ctx context.Context, chatID string) error {
	return s.engine.SyncMessages(ctx, chatID)
}

// Send queues a message for delivery. It is visible in the store with
// pending status before this returns; actual delivery is asynchronous.
func (s *MessageService) Send(chatID, content, msgType, mediaURL string) (string, error) {
	if msgType == "" {
		msgType = store.TypeText
	}
	return s.sender.Queue(chatID, content, msgType, mediaURL)
}

// MarkRead marks a message read remotely, then mirrors the state locally
// and clears the owning chat's unread counter.
func (s *MessageService) MarkRead(ctx context.Context, messageID string) error {
	if err := s.gw.MarkRead(ctx, messageID); err != nil {
		return err
	}
	msg, err := s.db.GetMessage(messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg == nil {
		return nil
	}
	if err := s.db.MarkMessageRead(messageID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if err := s.db.ClearUnread(msg.ChatID); err != nil {
		return fmt.Errorf("clear unread: %w", err)
	}
	s.bus.Publish(bus.New(bus.KindChatUpdated, map[string]string{"chat_id": msg.ChatID}))
	return nil
}

// Search performs a full-text search over stored messages.
func (s *MessageService) Search(query, chatID string, limit int) ([]store.SearchResult, error) {
	return s.db.SearchMessages(query, chatID, limit)
}

// DropFailed removes a failed queued message, both the outbox entry and
// the visible message row. This is the explicit user action; nothing
// else ever drops a queued message.
func (s *MessageService) DropFailed(clientMsgID string) error {
	if err := s.db.DeleteOutbox(clientMsgID); err != nil {
		return err
	}
	if err := s.db.DeleteUnsentMessage(clientMsgID); err != nil {
		return err
	}
	s.bus.Publish(bus.New(bus.KindMessageUpsert, map[string]string{"msg_id": clientMsgID}))
	return nil
}
