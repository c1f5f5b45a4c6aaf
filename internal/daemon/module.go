// Package daemon composes the sync core: every component is explicitly
// constructed and injected here, never reached through a global.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/chatroom-im/chatroom/internal/api"
	"github.com/chatroom-im/chatroom/internal/auth"
	"github.com/chatroom-im/chatroom/internal/bus"
	"github.com/chatroom-im/chatroom/internal/config"
	"github.com/chatroom-im/chatroom/internal/gateway"
	"github.com/chatroom-im/chatroom/internal/lock"
	"github.com/chatroom-im/chatroom/internal/logging"
	"github.com/chatroom-im/chatroom/internal/outbox"
	"github.com/chatroom-im/chatroom/internal/profile"
	"github.com/chatroom-im/chatroom/internal/realtime"
	"github.com/chatroom-im/chatroom/internal/status"
	"github.com/chatroom-im/chatroom/internal/store"
	intsync "github.com/chatroom-im/chatroom/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTokens,
			provideGateway,
			provideChannel,
			provideEngine,
			provideMerger,
			provideSender,
			provideChatService,
			provideMessageService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.NewBus()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTokens(p Params) auth.TokenSource {
	return auth.NewFileSource(profile.TokenPath(p.ProfileName))
}

func provideGateway(cfg *config.Config, tokens auth.TokenSource) *gateway.Client {
	return gateway.NewClient(cfg.Server.BaseURL, tokens)
}

func provideChannel(cfg *config.Config, tokens auth.TokenSource, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *realtime.Channel {
	return realtime.NewChannel(realtime.Config{URL: cfg.Server.WSURL}, tokens, b, machine, logger)
}

func provideEngine(db *store.DB, gw *gateway.Client, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, gw, b, logger)
}

func provideMerger(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Merger {
	return intsync.NewMerger(db, b, logger)
}

func provideSender(cfg *config.Config, db *store.DB, gw *gateway.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	retry := time.Duration(cfg.Sync.RetryIntervalSecs) * time.Second
	return outbox.NewSender(db, gw, b, cfg.SelfUserID, retry, logger)
}

func provideChatService(cfg *config.Config, db *store.DB, engine *intsync.Engine, gw *gateway.Client, b *bus.Bus) *api.ChatService {
	return api.NewChatService(db, engine, gw, b, cfg.SelfUserID)
}

func provideMessageService(db *store.DB, engine *intsync.Engine, sender *outbox.Sender, gw *gateway.Client, b *bus.Bus) *api.MessageService {
	return api.NewMessageService(db, engine, sender, gw, b)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, tokens auth.TokenSource, channel *realtime.Channel, engine *intsync.Engine, merger *intsync.Merger, sender *outbox.Sender, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Merger first, so realtime events are consumed from the
			// moment the channel comes up.
			merger.Start(context.Background())
			sender.Start(context.Background())

			if tokens.IsAuthenticated() {
				go func() {
					if err := channel.Connect(context.Background()); err != nil {
						logger.Warn("initial realtime connect failed", zap.Error(err))
					}
				}()
				go func() {
					res, err := engine.SyncAll(context.Background())
					if err != nil {
						logger.Warn("initial sync failed", zap.Error(err))
						return
					}
					logger.Info("initial sync completed",
						zap.Int("chats", res.ChatsSynced), zap.Int("failed", res.Failed))
				}()
			} else {
				logger.Info("no credentials found, auth required")
			}

			return nil
		},
		OnStop: func(_ context.Context) error {
			channel.Close()
			sender.Stop()
			merger.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
