package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"strangerchat/backend/internal/api/handler"
	"strangerchat/backend/internal/chat"
	"strangerchat/backend/internal/chathub"
	"strangerchat/backend/internal/config"
	"strangerchat/backend/internal/localization"
	"strangerchat/backend/internal/logging"
	"strangerchat/backend/internal/matchmaking"
	"strangerchat/backend/internal/presence"
	"strangerchat/backend/internal/storage"
	"strangerchat/backend/internal/telegram"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDependencies(ctx context.Context, cfg *config.Config) (*storage.Service, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect PostgreSQL")
	}
	s := storage.NewStorageService(db)
	if err := s.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect Redis")
	}

	log.Info().Msg("database and redis connections established, migrations complete")
	return s, rdb
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.Log.Level, cfg.IsDevelopment())
	log.Info().Str("env", cfg.Env).Msg("starting strangerchat backend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, rdb := setupDependencies(ctx, cfg)
	kv := storage.NewRedisKV(rdb)

	rooms := chat.NewRoomService(s)
	messages := chat.NewMessageService(s, rooms)
	hub := chathub.NewHub()

	var transport chathub.Transport = hub
	if cfg.Relay.Enabled {
		relay := chathub.NewRelay(rdb, hub)
		if err := relay.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start relay")
		}
		transport = relay
	}
	chatHandler := chathub.NewHandler(presence.NewRegistry(kv, cfg.Presence.TTL), matchmaking.NewQueue(kv), rooms, messages, transport)

	botDone := make(chan struct{})
	if cfg.Telegram.Token != "" {
		localizer, err := localization.Default()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load translations")
		}
		bot, err := telegram.NewBotService(cfg.Telegram.Token, chatHandler, hub, localizer)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start telegram bot")
		}
		go func() {
			bot.Run(ctx)
			close(botDone)
		}()
	} else {
		close(botDone)
	}

	secret := cfg.JWT.Secret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn().Msg("jwt.secret not set, using a random secret for this run")
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if cfg.IsDevelopment() {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := handler.NewHandler(chatHandler, hub, secret)
	h.Checks["postgres"] = s.Ping
	h.Checks["redis"] = kv.Ping
	h.Register(r)

	server := &http.Server{
		Addr:           cfg.HTTP.Addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	<-botDone
	// server.Shutdown не закриває websocket-з'єднання; закриваємо їх самі,
	// поки redis ще доступний, щоб кожне вийшло з черги і завершило кімнати
	if err := hub.CloseAll(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("closing websocket clients failed")
	}
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("redis close failed")
	}
}
