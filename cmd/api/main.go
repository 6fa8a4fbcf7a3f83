package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"safetrade-chat/config"
	"safetrade-chat/internal/events"
	"safetrade-chat/internal/fraud"
	"safetrade-chat/internal/handler"
	"safetrade-chat/internal/redis"
	"safetrade-chat/internal/repository"
	"safetrade-chat/internal/server"
	"safetrade-chat/internal/services"
	"safetrade-chat/internal/websocket"
	"safetrade-chat/pkg/database"
	"safetrade-chat/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	redisClient, err := redis.Connect(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	userRepo := repository.NewUserRepository(pool)
	listingRepo := repository.NewListingRepository(pool)
	convRepo := repository.NewConversationRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)

	changePublisher := events.NewRedisPublisher(redisClient, events.NewHybridChannelResolver(), l.Named("publisher"))
	eventPublisher := services.NewEventPublisher(changePublisher, l.Named("events"))

	authService := services.NewAuthService(cfg)
	userService := services.NewUserService(userRepo, listingRepo).
		WithCache(redis.NewCacheStore(redisClient, redis.DefaultCacheConfig()), l.Logger)
	convService := services.NewConversationService(convRepo, messageRepo, userRepo, eventPublisher, l.Logger)
	messageService := services.NewMessageService(convService, messageRepo, userRepo,
		fraud.NewPatternGate(cfg.FraudBlockScore), eventPublisher, l.Logger)
	typingStore := redis.NewTypingStore(redisClient, changePublisher, 0, l.Named("typing"))
	typingService := services.NewTypingService(convService, userService, typingStore)

	limiter := redis.NewRateLimiter(redisClient, redis.RateLimitConfig{
		MessageLimit:  cfg.MessageRateLimit,
		MessageWindow: time.Minute,
	})

	hub := websocket.NewHub()
	bridge := websocket.NewRedisBridge(redis.NewSubscriber(redisClient), hub, l.Logger)
	go func() {
		if err := bridge.Run(ctx); err != nil {
			l.Logger.Error("realtime bridge stopped", zap.Error(err))
		}
	}()

	srv := server.New(cfg, l, pool)
	srv.SetupRoutes(&server.Handlers{
		Conversation: handler.NewConversationHandler(convService, typingService),
		Message:      handler.NewMessageHandler(messageService),
		User:         handler.NewUserHandler(userService),
		Realtime:     websocket.NewHandler(authService, hub, websocket.NewChannelAuthorizer(convRepo), l.Logger),
	}, authService, limiter)

	if err := srv.Start(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}
