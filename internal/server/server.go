package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"safetrade-chat/config"
	"safetrade-chat/internal/handler"
	"safetrade-chat/internal/middleware"
	"safetrade-chat/internal/services"
	"safetrade-chat/internal/transport/httpdto"
	"safetrade-chat/internal/websocket"
	"safetrade-chat/pkg/database"
	"safetrade-chat/pkg/logger"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
	pool       *pgxpool.Pool
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Conversation *handler.ConversationHandler
	Message      *handler.MessageHandler
	User         *handler.UserHandler
	Realtime     *websocket.Handler
}

func New(cfg *config.Config, l *logger.Logger, pool *pgxpool.Pool) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.AppPort),
			Handler: engine,
		},
		engine: engine,
		config: cfg,
		logger: l,
		pool:   pool,
	}
}

// Engine exposes the router, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, authService *services.AuthService, limiter middleware.MessageLimiter) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if s.pool == nil {
			c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse("database not configured", "UNHEALTHY"))
			return
		}
		if err := database.HealthCheck(c.Request.Context(), s.pool); err != nil {
			c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
			return
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	if handlers.Realtime != nil {
		s.engine.GET("/v1/realtime", handlers.Realtime.Connect)
	}

	v1 := s.engine.Group("/v1", middleware.AuthMiddleware(authService))
	{
		conversations := v1.Group("/conversations")
		conversations.GET("", handlers.Conversation.List)
		conversations.POST("", handlers.Conversation.Create)
		conversations.GET("/:id", handlers.Conversation.Get)
		conversations.GET("/:id/messages", handlers.Message.List)
		conversations.GET("/:id/activity", handlers.Conversation.Activity)
		conversations.POST("/:id/read", handlers.Conversation.MarkRead)
		conversations.GET("/:id/typing", handlers.Conversation.ListTyping)
		conversations.PUT("/:id/typing", handlers.Conversation.StartTyping)
		conversations.DELETE("/:id/typing", handlers.Conversation.StopTyping)

		sendChain := []gin.HandlerFunc{handlers.Message.Send}
		if limiter != nil {
			sendChain = append([]gin.HandlerFunc{middleware.MessageRateLimitMiddleware(limiter, s.logger.Named("ratelimit"))}, sendChain...)
		}
		v1.POST("/messages/send", sendChain...)
		if limiter != nil {
			v1.GET("/messages/rate-limit", middleware.MessageRateLimitStatus(limiter, s.logger.Named("ratelimit")))
		}

		v1.GET("/users/:id", handlers.User.GetProfile)
		v1.GET("/listings/:id", handlers.User.GetListing)
	}
}

func (s *Server) Start() error {
	go func() {
		if s.logger != nil {
			s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Errorf("Error in starting the server: %s", err)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	if s.logger != nil {
		s.logger.Infof("Server is running on :%s", s.config.AppPort)
	}

	<-quit

	if s.logger != nil {
		s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		if s.logger != nil {
			s.logger.Warnf("Error in the graceful shutdown of the server: %s", err)
		}
		return err
	}

	if s.logger != nil {
		s.logger.Infof("Server stopped gracefully")
	}

	return nil
}
