package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"transcendence/coordinator/internal/config"
	"transcendence/coordinator/internal/game"
	httpapi "transcendence/coordinator/internal/http"
	"transcendence/coordinator/internal/journal"
	"transcendence/coordinator/internal/presence"
	"transcendence/coordinator/internal/rooms"
	"transcendence/coordinator/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("logger init", zap.Error(err))
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("coordinator exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pending, channels, closeStore, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var presenceOpts []presence.Option
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		presenceOpts = append(presenceOpts, presence.WithMirror(
			presence.NewRedisMirror(client, presence.DefaultMirrorKey)))
		log.Info("presence mirror enabled", zap.String("redis_addr", cfg.RedisAddr))
	}

	var matchJournal *journal.Journal
	if cfg.JournalDir != "" {
		matchJournal, err = journal.New(cfg.JournalDir, log)
		if err != nil {
			return err
		}
		defer matchJournal.CloseAll()
		log.Info("match journal enabled", zap.String("dir", cfg.JournalDir))
	}

	authenticator, err := buildAuthenticator(cfg, log)
	if err != nil {
		return err
	}

	hub := NewHub(cfg, authenticator, log)
	svc := NewService(ServiceDeps{
		Presence: presence.NewRegistry(log, presenceOpts...),
		Rooms:    rooms.NewDirectory(),
		Games:    game.NewCoordinator(log),
		Channels: channels,
		Pending:  pending,
		Journal:  matchJournal,
	}, hub, log)
	hub.SetService(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      log,
		Notifier:    svc,
		Stats:       svc.Stats,
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(time.Second, 100, nil),
	})
	handlers.Register(mux)

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("coordinator listening", zap.String("addr", cfg.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.CloseAll()
	return server.Shutdown(shutdownCtx)
}

func buildStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.PendingGames, store.Channels, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("no database configured, using in-memory store")
		mem := store.NewMemoryStore()
		return mem, store.ChannelFinder{MemoryStore: mem}, func() {}, nil
	}
	pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	return pg, store.PostgresChannels{PostgresStore: pg}, pg.Close, nil
}

func buildAuthenticator(cfg *config.Config, log *zap.Logger) (websocketAuthenticator, error) {
	if cfg.AuthSecret == "" {
		log.Warn("no auth secret configured, trusting user_id query parameter")
		return allowAllAuthenticator{}, nil
	}
	return newHMACWebsocketAuthenticator(cfg.AuthSecret, cfg.AuthLeeway)
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}
