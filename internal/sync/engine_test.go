package sync

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chatroom-im/chatroom/internal/bus"
	"github.com/chatroom-im/chatroom/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeGateway struct {
	chats    []store.Chat
	chatsErr error
	msgs     map[string][]store.Message
	msgErrs  map[string]error

	chatCalls atomic.Int64
	msgCalls  atomic.Int64
	block     chan struct{} // when set, FetchChats waits for it to close
}

func (f *fakeGateway) FetchChats(ctx context.Context) ([]store.Chat, error) {
	f.chatCalls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.chats, f.chatsErr
}

func (f *fakeGateway) FetchMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	f.msgCalls.Add(1)
	if err := f.msgErrs[chatID]; err != nil {
		return nil, err
	}
	return f.msgs[chatID], nil
}

func twoChats() []store.Chat {
	alice := store.User{ID: "u-alice", Username: "alice", DisplayName: "Alice"}
	bob := store.User{ID: "u-bob", Username: "bob", DisplayName: "Bob"}
	self := store.User{ID: "u-self", Username: "me", DisplayName: "Me"}
	return []store.Chat{
		{
			ID: "c-direct", Type: store.ChatDirect,
			Participants: []store.User{self, alice},
			UpdatedAt:    1000,
		},
		{
			ID: "c-group", Name: "Team", Type: store.ChatGroup,
			Participants: []store.User{self, alice, bob},
			UpdatedAt:    2000,
		},
	}
}

func newTestEngine(db *store.DB, gw Gateway) (*Engine, *bus.Bus) {
	b := bus.NewBus()
	return NewEngine(db, gw, b, zap.NewNop()), b
}

func TestSyncChats(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{chats: twoChats()}
	e, _ := newTestEngine(db, gw)

	if err := e.SyncChats(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	chatCount, _ := db.ChatCount()
	if chatCount != 2 {
		t.Errorf("chat count = %d, want 2", chatCount)
	}
	userCount, _ := db.UserCount()
	if userCount != 3 {
		t.Errorf("user count = %d, want 3 (shared participants deduped)", userCount)
	}

	direct, err := db.GetChat("c-direct", "u-self")
	if err != nil {
		t.Fatalf("get direct: %v", err)
	}
	if direct.Name != "Alice" {
		t.Errorf("direct chat name = %q, want Alice", direct.Name)
	}

	cp, err := db.GetCheckpoint("chats_synced_at")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if cp == "" {
		t.Error("chats checkpoint not recorded")
	}
}

func TestSyncChatsIdempotent(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{chats: twoChats()}
	e, _ := newTestEngine(db, gw)

	for i := 0; i < 3; i++ {
		if err := e.SyncChats(context.Background()); err != nil {
			t.Fatalf("sync %d: %v", i, err)
		}
	}

	chatCount, _ := db.ChatCount()
	userCount, _ := db.UserCount()
	if chatCount != 2 || userCount != 3 {
		t.Errorf("counts = %d chats / %d users after repeat sync", chatCount, userCount)
	}
}

func TestSyncChatsFetchFailure(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{chatsErr: errors.New("connection refused")}
	e, _ := newTestEngine(db, gw)

	if err := e.SyncChats(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if count, _ := db.ChatCount(); count != 0 {
		t.Errorf("chat count = %d after failed sync, want 0", count)
	}
}

func TestSyncMessages(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{
		msgs: map[string][]store.Message{
			"c1": {
				{ID: "m2", ChatID: "c1", Content: "newer", Type: store.TypeText, Status: store.StatusSent, Timestamp: 2000},
				{ID: "m1", ChatID: "c1", Content: "older", Type: store.TypeText, Status: store.StatusSent, Timestamp: 1000},
			},
		},
	}
	e, _ := newTestEngine(db, gw)

	if err := e.SyncMessages(context.Background(), "c1"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("order = %q, %q", msgs[0].ID, msgs[1].ID)
	}

	chat, err := db.GetChat("c1", "")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if chat.LastMessageID != "m2" {
		t.Errorf("chat last message = %q, want m2", chat.LastMessageID)
	}

	cp, _ := db.GetCheckpoint("chat:c1:synced_at")
	if cp == "" {
		t.Error("chat checkpoint not recorded")
	}
}

func TestSyncMessagesFetchFailureLeavesStore(t *testing.T) {
	db := testDB(t)
	seeded := &store.Message{ID: "m1", ChatID: "c1", Content: "kept", Type: store.TypeText, Status: store.StatusSent, Timestamp: 1000}
	if err := db.UpsertMessage(seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	gw := &fakeGateway{msgErrs: map[string]error{"c1": errors.New("boom")}}
	e, _ := newTestEngine(db, gw)

	if err := e.SyncMessages(context.Background(), "c1"); err == nil {
		t.Fatal("expected error")
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "kept" {
		t.Errorf("store changed on failed sync: %+v", msgs)
	}
}

func TestSyncAll(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{
		chats: twoChats(),
		msgs: map[string][]store.Message{
			"c-direct": {{ID: "m1", ChatID: "c-direct", Content: "hi", Type: store.TypeText, Status: store.StatusSent, Timestamp: 1000}},
		},
		msgErrs: map[string]error{"c-group": errors.New("server error 500")},
	}
	e, b := newTestEngine(db, gw)

	done, unsub := b.Subscribe(bus.KindSyncDone, 1)
	defer unsub()

	res, err := e.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if res.ChatsSynced != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want 1 synced / 1 failed", res)
	}

	select {
	case evt := <-done:
		if evt.Kind != bus.KindSyncDone {
			t.Errorf("kind = %q", evt.Kind)
		}
	default:
		t.Error("sync completion event not published")
	}
}

func TestSyncSingleFlight(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{chats: twoChats(), block: make(chan struct{})}
	e, _ := newTestEngine(db, gw)

	started := make(chan struct{})
	finished := make(chan error, 1)
	go func() {
		close(started)
		finished <- e.SyncChats(context.Background())
	}()
	<-started

	// Wait until the first sync is inside the gateway call.
	for gw.chatCalls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	// A concurrent sync is an immediate no-op, not queued.
	if err := e.SyncChats(context.Background()); err != nil {
		t.Errorf("concurrent sync: %v", err)
	}
	if _, err := e.SyncAll(context.Background()); err != nil {
		t.Errorf("concurrent sync all: %v", err)
	}
	if calls := gw.chatCalls.Load(); calls != 1 {
		t.Errorf("gateway calls = %d, want 1", calls)
	}

	close(gw.block)
	if err := <-finished; err != nil {
		t.Fatalf("blocked sync: %v", err)
	}

	// Latch released: a fresh sync runs again.
	if err := e.SyncChats(context.Background()); err != nil {
		t.Fatalf("follow-up sync: %v", err)
	}
	if calls := gw.chatCalls.Load(); calls != 2 {
		t.Errorf("gateway calls = %d, want 2", calls)
	}
}
