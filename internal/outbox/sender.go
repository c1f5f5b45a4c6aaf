// Package outbox holds messages accepted from the user but not yet
// confirmed by the server, and retries them until they are. A queued
// message is never silently dropped.
package outbox

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatroom-im/chatroom/internal/bus"
	"github.com/chatroom-im/chatroom/internal/store"
)

// MessageSender is the slice of the remote gateway the outbox needs.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, content, msgType, mediaURL string) (*store.Message, error)
}

// Sender drains the outbox against the remote gateway. Drains are
// triggered by Queue, by reconnect events, and by a periodic retry
// ticker; overlapping triggers collapse into one running drain.
type Sender struct {
	db         *store.DB
	sender     MessageSender
	bus        *bus.Bus
	logger     *zap.Logger
	selfID     string
	retryEvery time.Duration

	draining atomic.Bool
	runCtx   context.Context
	cancel   context.CancelFunc
}

// NewSender creates a new outbox sender. retryEvery is the minimum
// interval between automatic retry rounds.
func NewSender(db *store.DB, sender MessageSender, b *bus.Bus, selfID string, retryEvery time.Duration, logger *zap.Logger) *Sender {
	if retryEvery <= 0 {
		retryEvery = 15 * time.Second
	}
	return &Sender{
		db:         db,
		sender:     sender,
		bus:        b,
		logger:     logger,
		selfID:     selfID,
		retryEvery: retryEvery,
	}
}

// Start begins listening for drain triggers.
func (s *Sender) Start(ctx context.Context) {
	s.runCtx, s.cancel = context.WithCancel(ctx)
	go s.loop(s.runCtx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	events, unsub := s.bus.Subscribe(bus.KindRTConnected, 8)
	defer unsub()

	ticker := time.NewTicker(s.retryEvery)
	defer ticker.Stop()

	for {
		select {
		case <-events:
			// Connectivity regained; flush immediately.
			s.Drain(ctx)
		case <-ticker.C:
			s.Drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Queue accepts a message for sending. The message is written to the
// store first with pending status, so it is visible instantly, then
// queued, then a send attempt is kicked off without blocking the caller.
// Returns the locally generated message ID.
func (s *Sender) Queue(chatID, content, msgType, mediaURL string) (string, error) {
	clientMsgID := "local-" + uuid.New().String()
	now := time.Now().UnixMilli()

	msg := &store.Message{
		ID:        clientMsgID,
		ChatID:    chatID,
		SenderID:  s.selfID,
		Content:   content,
		Type:      msgType,
		MediaURL:  mediaURL,
		Status:    store.StatusPending,
		Timestamp: now,
	}
	if err := s.db.UpsertMessage(msg); err != nil {
		return "", err
	}
	if err := s.db.SetChatLastMessage(msg); err != nil {
		return "", err
	}
	if err := s.db.QueueOutbox(&store.OutboxEntry{
		ClientMsgID: clientMsgID,
		ChatID:      chatID,
		Content:     content,
		MessageType: msgType,
		MediaURL:    mediaURL,
	}); err != nil {
		return "", err
	}

	s.bus.Publish(bus.New(bus.KindMessageUpsert, map[string]string{
		"chat_id": chatID,
		"msg_id":  clientMsgID,
	}))

	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go s.Drain(ctx)

	return clientMsgID, nil
}

// Drain attempts every queued entry in enqueue order. A failure parks
// the rest of that chat's entries for this round, preserving per-chat
// delivery order, while other chats keep going. Entries stay queued
// until a send succeeds. Reports whether this call performed the pass;
// false means another drain was already running.
func (s *Sender) Drain(ctx context.Context) bool {
	if !s.draining.CompareAndSwap(false, true) {
		return false
	}
	defer s.draining.Store(false)

	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return true
	}

	failedChats := make(map[string]bool)
	for _, entry := range pending {
		if ctx.Err() != nil {
			return true
		}
		if failedChats[entry.ChatID] {
			continue
		}
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		confirmed, err := s.sender.SendMessage(ctx, entry.ChatID, entry.Content, entry.MessageType, entry.MediaURL)
		if err != nil {
			s.logger.Warn("send attempt failed", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			failedChats[entry.ChatID] = true
			if err := s.db.RequeueOutbox(entry.ClientMsgID, err.Error()); err != nil {
				s.logger.Error("failed to requeue", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			}
			// Surface the failure on the visible message; the entry
			// stays queued for the next round.
			if m, gerr := s.db.GetMessage(entry.ClientMsgID); gerr == nil && m != nil {
				m.Status = store.StatusFailed
				_ = s.db.UpsertMessage(m)
			}
			s.bus.Publish(bus.New(bus.KindSendFailed, map[string]string{
				"client_msg_id": entry.ClientMsgID,
				"chat_id":       entry.ChatID,
				"error":         err.Error(),
			}))
			continue
		}

		// Identity substitution: the locally-identified row is replaced
		// by the server-confirmed message, never duplicated.
		if err := s.db.ReplaceMessage(entry.ClientMsgID, confirmed); err != nil {
			s.logger.Error("failed to substitute confirmed message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.RequeueOutbox(entry.ClientMsgID, err.Error())
			failedChats[entry.ChatID] = true
			continue
		}
		if err := s.db.MarkOutboxSent(entry.ClientMsgID, confirmed.ID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		s.logger.Info("message sent",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("server_msg_id", confirmed.ID))
		s.bus.Publish(bus.New(bus.KindSendAck, map[string]string{
			"client_msg_id": entry.ClientMsgID,
			"server_msg_id": confirmed.ID,
			"chat_id":       entry.ChatID,
		}))
	}
	return true
}
