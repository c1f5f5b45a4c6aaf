package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/chatroom-im/chatroom/internal/bus"
	"github.com/chatroom-im/chatroom/internal/store"
)

// Merger subscribes to the realtime channel's inbound sequence and
// applies each message to the store in order of receipt. Display-time
// sorting handles out-of-order timestamps; the merger never reorders.
type Merger struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewMerger creates a stream merger.
func NewMerger(db *store.DB, b *bus.Bus, logger *zap.Logger) *Merger {
	return &Merger{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to inbound realtime events on the bus.
func (m *Merger) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	ch, unsub := m.bus.Subscribe("rt.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				m.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the merger.
func (m *Merger) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Merger) handleEvent(evt bus.Event) {
	if evt.Kind != bus.KindRTMessage {
		return
	}
	msg, ok := evt.Payload.(*store.Message)
	if !ok {
		return
	}
	if err := m.Apply(msg); err != nil {
		m.logger.Error("failed to apply inbound message", zap.Error(err), zap.String("msg_id", msg.ID))
	}
}

// Apply folds one inbound message into the store. A message already
// present by identity is upserted harmlessly: the unread counter and the
// chat's cached last message move only when the identity is new, so
// duplicate delivery cannot double-count.
func (m *Merger) Apply(msg *store.Message) error {
	res, err := m.db.ApplyInbound(msg)
	if err != nil {
		return err
	}
	if res.TypeConflict {
		// Identity collision with an incompatible type is a data
		// integrity bug upstream; the newer write has already won.
		m.logger.Error("message type conflict on upsert",
			zap.String("msg_id", msg.ID), zap.String("new_type", msg.Type))
	}

	m.bus.Publish(bus.New(bus.KindMessageUpsert, map[string]string{
		"chat_id": msg.ChatID,
		"msg_id":  msg.ID,
	}))
	if res.Inserted {
		m.bus.Publish(bus.New(bus.KindChatUpdated, map[string]string{"chat_id": msg.ChatID}))
	}
	return nil
}
