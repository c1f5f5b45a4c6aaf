// chatroom is the one-shot CLI. It builds the same components as the
// daemon and runs a single command against the profile's local store,
// reconciling with the remote service where the command needs it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/chatroom-im/chatroom/internal/api"
	"github.com/chatroom-im/chatroom/internal/auth"
	"github.com/chatroom-im/chatroom/internal/bus"
	"github.com/chatroom-im/chatroom/internal/config"
	"github.com/chatroom-im/chatroom/internal/gateway"
	"github.com/chatroom-im/chatroom/internal/lock"
	"github.com/chatroom-im/chatroom/internal/outbox"
	"github.com/chatroom-im/chatroom/internal/profile"
	"github.com/chatroom-im/chatroom/internal/store"
	intsync "github.com/chatroom-im/chatroom/internal/sync"
)

type app struct {
	cfg      *config.Config
	db       *store.DB
	chats    *api.ChatService
	messages *api.MessageService
	sender   *outbox.Sender
}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if err := profile.EnsureDir(profileName); err != nil {
		fatal(err)
	}
	lk, err := lock.Acquire(profile.Dir(profileName))
	if err != nil {
		fatal(err)
	}
	defer func() { _ = lk.Release() }()

	a, cleanup, err := build(profileName)
	if err != nil {
		fatal(err)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := a.run(ctx, args); err != nil {
		fatal(err)
	}
}

func build(profileName string) (*app, func(), error) {
	cfg := config.LoadOrDefault(profile.ConfigPath())

	db, err := store.Open(profile.DBPath(profileName))
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	logger := zap.NewNop()
	b := bus.NewBus()
	tokens := auth.NewFileSource(profile.TokenPath(profileName))
	gw := gateway.NewClient(cfg.Server.BaseURL, tokens)
	engine := intsync.NewEngine(db, gw, b, logger)
	sender := outbox.NewSender(db, gw, b, cfg.SelfUserID, 0, logger)

	return &app{
		cfg:      cfg,
		db:       db,
		chats:    api.NewChatService(db, engine, gw, b, cfg.SelfUserID),
		messages: api.NewMessageService(db, engine, sender, gw, b),
		sender:   sender,
	}, func() { _ = db.Close() }, nil
}

func (a *app) run(ctx context.Context, args []string) error {
	switch args[0] {
	case "sync":
		res, err := a.chats.RefreshAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("synced %d chats (%d failed)\n", res.ChatsSynced, res.Failed)
		return nil
	case "chats":
		return a.cmdChats()
	case "messages":
		if len(args) < 2 {
			return fmt.Errorf("usage: chatroom messages <chat-id>")
		}
		return a.cmdMessages(ctx, args[1])
	case "send":
		if len(args) < 3 {
			return fmt.Errorf("usage: chatroom send <chat-id> <text>")
		}
		return a.cmdSend(ctx, args[1], args[2])
	case "read":
		if len(args) < 2 {
			return fmt.Errorf("usage: chatroom read <message-id>")
		}
		return a.messages.MarkRead(ctx, args[1])
	case "search":
		if len(args) < 2 {
			return fmt.Errorf("usage: chatroom search <query>")
		}
		return a.cmdSearch(args[1])
	case "users":
		query := ""
		if len(args) > 1 {
			query = args[1]
		}
		return a.cmdUsers(ctx, query)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func (a *app) cmdChats() error {
	chats, err := a.chats.LoadChats(50, 0)
	if err != nil {
		return err
	}
	for _, c := range chats {
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
		}
		fmt.Printf("%-24s  %s%s\n    %s\n", c.ID, c.Name, unread, c.LastMessagePreview)
	}
	return nil
}

func (a *app) cmdMessages(ctx context.Context, chatID string) error {
	// Best effort refresh; offline falls back to local data.
	if err := a.messages.Refresh(ctx, chatID); err != nil {
		fmt.Fprintf(os.Stderr, "warning: refresh failed, showing local data: %v\n", err)
	}
	msgs, err := a.messages.LoadMessages(chatID, 0, 50)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
		fmt.Printf("[%s] %s: %s (%s)\n", ts, m.SenderName, m.Content, m.Status)
	}
	return nil
}

func (a *app) cmdSend(ctx context.Context, chatID, text string) error {
	clientMsgID, err := a.messages.Send(chatID, text, store.TypeText, "")
	if err != nil {
		return err
	}
	// One-shot process: Queue already kicked off an async drain, and the
	// drain guard may make a single call a no-op while that one is
	// mid-flight. Loop until a full pass has run in this process so the
	// attempt is not killed by exit.
	for !a.sender.Drain(ctx) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	m, err := a.db.GetMessage(clientMsgID)
	if err != nil {
		return err
	}
	if m == nil {
		fmt.Println("sent")
		return nil
	}
	fmt.Printf("queued (%s); will retry on next sync\n", m.Status)
	return nil
}

func (a *app) cmdSearch(query string) error {
	results, err := a.messages.Search(query, "", 50)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%s  %s: %s\n", r.Message.ChatID, r.Message.SenderName, r.Snippet)
	}
	return nil
}

func (a *app) cmdUsers(ctx context.Context, query string) error {
	users, err := a.chats.SearchUsers(ctx, query)
	if err != nil {
		return err
	}
	for _, u := range users {
		fmt.Printf("%-24s  %s (@%s)\n", u.ID, u.DisplayName, u.Username)
	}
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatroom [--profile <name>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  sync                     Reconcile chats and messages")
	fmt.Fprintln(os.Stderr, "  chats                    List chats")
	fmt.Fprintln(os.Stderr, "  messages <chat-id>       List messages in a chat")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <text>    Send a message")
	fmt.Fprintln(os.Stderr, "  read <message-id>        Mark a message read")
	fmt.Fprintln(os.Stderr, "  search <query>           Full-text search messages")
	fmt.Fprintln(os.Stderr, "  users [query]            Look up users in the directory")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
