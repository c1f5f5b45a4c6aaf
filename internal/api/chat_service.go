// Package api is the surface the UI layer consumes. Reads come straight
// from the local store for an instant answer; refreshes go through the
// sync engine; change notifications flow over the bus.
package api

import (
	"context"
	"fmt"

	"github.com/chatroom-im/chatroom/internal/bus"
	"github.com/chatroom-im/chatroom/internal/store"
	intsync "github.com/chatroom-im/chatroom/internal/sync"
)

// ChatGateway is the slice of the remote gateway used to create chats
// and look up users.
type ChatGateway interface {
	CreateChat(ctx context.Context, participantIDs []string, chatType, name string) (*store.Chat, error)
	FetchUsers(ctx context.Context, search string) ([]store.User, error)
	FetchUser(ctx context.Context, id string) (*store.User, error)
}

// ChatService exposes chat list operations.
type ChatService struct {
	db     *store.DB
	engine *intsync.Engine
	gw     ChatGateway
	bus    *bus.Bus
	selfID string
}

// NewChatService creates a chat service. selfID identifies the local
// user for direct-chat display name resolution; when unknown it may be
// empty and the first participant's name is used.
func NewChatService(db *store.DB, engine *intsync.Engine, gw ChatGateway, b *bus.Bus, selfID string) *ChatService {
	return &ChatService{db: db, engine: engine, gw: gw, bus: b, selfID: selfID}
}

// LoadChats returns the locally known chat list, most recent first.
func (s *ChatService) LoadChats(limit, offset int) ([]store.Chat, error) {
	return s.db.ListChats(s.selfID, limit, offset)
}

// GetChat returns one chat with its display name resolved.
func (s *ChatService) GetChat(id string) (*store.Chat, error) {
	return s.db.GetChat(id, s.selfID)
}

// Refresh reconciles the chat list against the remote service.
func (s *ChatService) Refresh(ctx context.Context) error {
	return s.engine.SyncChats(ctx)
}

// RefreshAll reconciles everything: the chat list, then messages for
// every known chat.
func (s *ChatService) RefreshAll(ctx context.Context) (intsync.Result, error) {
	return s.engine.SyncAll(ctx)
}

// CreateChat creates a chat remotely and mirrors it into the store.
func (s *ChatService) CreateChat(ctx context.Context, participantIDs []string, chatType, name string) (*store.Chat, error) {
	chat, err := s.gw.CreateChat(ctx, participantIDs, chatType, name)
	if err != nil {
		return nil, err
	}
	if err := s.db.BulkUpsertUsers(chat.Participants); err != nil {
		return nil, fmt.Errorf("store participants: %w", err)
	}
	if err := s.db.UpsertChat(chat); err != nil {
		return nil, fmt.Errorf("store chat: %w", err)
	}
	ids := make([]string, 0, len(chat.Participants))
	for _, u := range chat.Participants {
		ids = append(ids, u.ID)
	}
	if err := s.db.SetParticipants(chat.ID, ids); err != nil {
		return nil, fmt.Errorf("store participants: %w", err)
	}
	s.bus.Publish(bus.New(bus.KindChatUpdated, map[string]string{"chat_id": chat.ID}))
	return chat, nil
}

// SearchUsers queries the remote user directory and mirrors the results
// into the store so they resolve offline afterwards.
func (s *ChatService) SearchUsers(ctx context.Context, query string) ([]store.User, error) {
	users, err := s.gw.FetchUsers(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := s.db.BulkUpsertUsers(users); err != nil {
		return nil, fmt.Errorf("store users: %w", err)
	}
	return users, nil
}

// GetUser returns one user's profile, from the local store when known,
// fetched and mirrored otherwise.
func (s *ChatService) GetUser(ctx context.Context, id string) (*store.User, error) {
	if u, err := s.db.GetUser(id); err != nil {
		return nil, err
	} else if u != nil {
		return u, nil
	}
	u, err := s.gw.FetchUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.UpsertUser(u); err != nil {
		return nil, fmt.Errorf("store user: %w", err)
	}
	return u, nil
}

// Watch subscribes to change notifications for the given namespace
// prefix (e.g. "chat." or "message."). The returned function
// unsubscribes.
func (s *ChatService) Watch(namespace string, buf int) (<-chan bus.Event, func()) {
	return s.bus.Subscribe(namespace, buf)
}
