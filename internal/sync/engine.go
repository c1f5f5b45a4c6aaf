// Package sync reconciles the local store with the remote service and
// folds realtime pushes into the same store, keeping it the single
// source of truth regardless of where a message arrived from.
package sync

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chatroom-im/chatroom/internal/bus"
	"github.com/chatroom-im/chatroom/internal/store"
)

// Gateway is the slice of the remote client the engine needs.
type Gateway interface {
	FetchChats(ctx context.Context) ([]store.Chat, error)
	FetchMessages(ctx context.Context, chatID string) ([]store.Message, error)
}

// Result summarizes a SyncAll run.
type Result struct {
	ChatsSynced int
	Failed      int // chats whose message sync failed
}

// Engine orchestrates full and per-chat reconciliation. At most one sync
// operation runs process-wide; a concurrent call is an immediate no-op
// rather than queued, so overlapping syncs can never interleave partial
// writes.
type Engine struct {
	db      *store.DB
	gw      Gateway
	bus     *bus.Bus
	logger  *zap.Logger
	syncing atomic.Bool
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, gw Gateway, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		gw:     gw,
		bus:    b,
		logger: logger,
	}
}

// SyncChats fetches the authoritative chat list and upserts each chat
// and every referenced participant. Idempotent: repeated calls converge
// the store to the same state.
func (e *Engine) SyncChats(ctx context.Context) error {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer e.syncing.Store(false)
	return e.syncChats(ctx)
}

// SyncMessages fetches all messages for a chat and applies them in a
// single transaction: on failure the store keeps its last known state.
func (e *Engine) SyncMessages(ctx context.Context, chatID string) error {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer e.syncing.Store(false)
	return e.syncMessages(ctx, chatID)
}

// SyncAll runs SyncChats, then message sync for every chat known
// locally, sequentially. One chat's failure never aborts the loop; the
// count of failed chats is reported in the result.
func (e *Engine) SyncAll(ctx context.Context) (Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return Result{}, nil
	}
	defer e.syncing.Store(false)

	if err := e.syncChats(ctx); err != nil {
		return Result{}, err
	}

	ids, err := e.db.ChatIDs()
	if err != nil {
		return Result{}, fmt.Errorf("list chats: %w", err)
	}

	var res Result
	for _, id := range ids {
		if err := e.syncMessages(ctx, id); err != nil {
			e.logger.Warn("chat message sync failed", zap.String("chat_id", id), zap.Error(err))
			res.Failed++
			continue
		}
		res.ChatsSynced++
	}

	e.bus.Publish(bus.New(bus.KindSyncDone, res))
	return res, nil
}

func (e *Engine) syncChats(ctx context.Context) error {
	chats, err := e.gw.FetchChats(ctx)
	if err != nil {
		return fmt.Errorf("sync chats: %w", err)
	}

	for i := range chats {
		c := &chats[i]
		if err := e.db.BulkUpsertUsers(c.Participants); err != nil {
			return fmt.Errorf("upsert participants for %s: %w", c.ID, err)
		}
		if err := e.db.UpsertChat(c); err != nil {
			return fmt.Errorf("upsert chat %s: %w", c.ID, err)
		}
		ids := make([]string, 0, len(c.Participants))
		for _, u := range c.Participants {
			ids = append(ids, u.ID)
		}
		if err := e.db.SetParticipants(c.ID, ids); err != nil {
			return fmt.Errorf("set participants for %s: %w", c.ID, err)
		}
	}

	if err := e.db.SetCheckpoint("chats_synced_at", nowMillis()); err != nil {
		e.logger.Warn("failed to record chats checkpoint", zap.Error(err))
	}
	e.bus.Publish(bus.New(bus.KindChatUpdated, map[string]int{"count": len(chats)}))
	e.logger.Info("chats synced", zap.Int("count", len(chats)))
	return nil
}

func (e *Engine) syncMessages(ctx context.Context, chatID string) error {
	msgs, err := e.gw.FetchMessages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("sync messages for %s: %w", chatID, err)
	}
	if err := e.db.BulkUpsertMessages(msgs); err != nil {
		return fmt.Errorf("apply messages for %s: %w", chatID, err)
	}

	if len(msgs) > 0 {
		newest := msgs[0]
		for _, m := range msgs[1:] {
			if m.Timestamp > newest.Timestamp {
				newest = m
			}
		}
		if err := e.db.SetChatLastMessage(&newest); err != nil {
			return fmt.Errorf("update chat cache for %s: %w", chatID, err)
		}
	}

	if err := e.db.SetCheckpoint("chat:"+chatID+":synced_at", nowMillis()); err != nil {
		e.logger.Warn("failed to record chat checkpoint", zap.String("chat_id", chatID), zap.Error(err))
	}
	e.bus.Publish(bus.New(bus.KindMessageUpsert, map[string]string{"chat_id": chatID}))
	return nil
}

func nowMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
