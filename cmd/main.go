package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matchgogo/backend/internal/api/handler"
	"matchgogo/backend/internal/auth"
	"matchgogo/backend/internal/calls"
	"matchgogo/backend/internal/chat"
	"matchgogo/backend/internal/chathub"
	"matchgogo/backend/internal/config"
	"matchgogo/backend/internal/localization"
	"matchgogo/backend/internal/logging"
	"matchgogo/backend/internal/matching"
	"matchgogo/backend/internal/models"
	"matchgogo/backend/internal/relay"
	"matchgogo/backend/internal/storage"
	"matchgogo/backend/internal/telegram"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// notifier is what the engine components deliver through: the registry
// itself, or the relay bridge in front of it.
type notifier interface {
	Send(identity string, env models.Envelope) int
}

func setupStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, *redis.Client) {
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		var err error
		rdb, err = storage.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("redis unavailable", zap.Error(err))
		}
	}

	if cfg.Storage.Driver == "memory" {
		logger.Warn("using in-memory storage, nothing survives a restart")
		return storage.NewMemoryStore(), rdb
	}

	// 1. PostgreSQL
	db, err := storage.OpenPostgres(cfg.Storage.DSN)
	if err != nil {
		logger.Fatal("postgres unavailable", zap.Error(err))
	}
	s := storage.NewStorageService(db, rdb)

	// 2. Міграції (Створення таблиць)
	if err := s.Migrate(); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	if rdb == nil {
		logger.Warn("REDIS_ADDR not set, bans and Telegram links are disabled")
	}
	logger.Info("storage ready", zap.String("driver", cfg.Storage.Driver))
	return s, rdb
}

func setupRelay(cfg *config.Config, registry *chathub.Registry, rdb *redis.Client, logger *zap.Logger) (*relay.Bridge, relay.Bus) {
	nodeID := cfg.Relay.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	var bus relay.Bus
	switch cfg.Relay.Driver {
	case "redis":
		bus = relay.NewRedisBus(rdb, cfg.Relay.Subject, logger)
	case "nats":
		nb, err := relay.NewNATSBus(cfg.Relay.NATSURL, cfg.Relay.Subject, "matchgogo-"+nodeID, logger)
		if err != nil {
			logger.Fatal("nats unavailable", zap.Error(err))
		}
		bus = nb
	default:
		return nil, nil
	}
	logger.Info("cross-node relay enabled", zap.String("driver", cfg.Relay.Driver), zap.String("node", nodeID))
	return relay.NewBridge(registry, bus, nodeID, logger), bus
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting MatchGoGo backend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Ініціалізація залежностей
	store, rdb := setupStorage(ctx, cfg, logger)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	registry := chathub.NewRegistry(logger)
	var out notifier = registry
	if bridge, bus := setupRelay(cfg, registry, rdb, logger); bridge != nil {
		defer func() { _ = bus.Close() }()
		out = bridge
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error("relay stopped", zap.Error(err))
			}
		}()
	}

	// 2. Рушій: збіги, дзвінки, чат
	authn := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	detector := matching.NewDetector(store, out, logger)
	callOpts := []calls.Option{
		calls.WithRingTimeout(cfg.Calls.RingTimeout),
		calls.WithSweepInterval(cfg.Calls.SweepInterval),
		calls.WithRetention(cfg.Calls.Retention),
		calls.WithMaxCallDuration(cfg.Calls.MaxDuration),
	}
	if cfg.Relay.Driver == "none" {
		// Єдиний вузол: активні дзвінки в сховищі лишилися від попереднього запуску.
		callOpts = append(callOpts, calls.WithExclusiveStore())
	}
	coord := calls.NewCoordinator(store, out, logger, callOpts...)
	chatSvc := chat.NewService(store, out, logger)
	router := chathub.NewRouter(detector, coord, chatSvc, logger)
	registry.OnDisconnect(coord.HandleDisconnect)

	go coord.Run(ctx)

	// 3. Telegram (необов'язково)
	if cfg.Telegram.Token != "" {
		l, err := localization.Default()
		if err != nil {
			logger.Fatal("load locales", zap.Error(err))
		}
		bot, err := telegram.NewBotService(cfg.Telegram.Token, telegram.Deps{
			Registry:  registry,
			Auth:      authn,
			Store:     store,
			Interests: detector,
			Calls:     coord,
			Localizer: l,
			Log:       logger,
		})
		if err != nil {
			logger.Fatal("telegram bot failed to start", zap.Error(err))
		}
		go bot.Run(ctx)
	}

	// 4. Налаштування Gin та роутингу
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	handler.NewHandler(handler.Deps{
		Auth:           authn,
		Registry:       registry,
		Dispatcher:     router,
		Bans:           store,
		Matches:        store,
		Interests:      detector,
		Calls:          coord,
		Chat:           chatSvc,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		AllowOrigins:   cfg.Server.AllowOrigins,
		Log:            logger,
	}).Register(r)

	server := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	registry.Shutdown()
}
