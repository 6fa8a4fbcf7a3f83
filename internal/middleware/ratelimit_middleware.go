package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"safetrade-chat/internal/redis"
	"safetrade-chat/internal/services"
	"safetrade-chat/internal/transport/httpdto"
)

// MessageLimiter bounds how fast a user may send.
type MessageLimiter interface {
	AllowMessage(ctx context.Context, userID string) (*redis.RateLimitResult, error)
	MessageStatus(ctx context.Context, userID string) (*redis.RateLimitResult, error)
}

// MessageRateLimitMiddleware applies the per-user message budget. It must run
// after AuthMiddleware. When the limiter itself fails the request is let
// through.
func MessageRateLimitMiddleware(limiter MessageLimiter, l *zap.Logger) gin.HandlerFunc {
	if l == nil {
		l = zap.NewNop()
	}
	return func(c *gin.Context) {
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		result, err := limiter.AllowMessage(c.Request.Context(), userID)
		if err != nil {
			l.Warn("rate limiter unavailable", zap.String("user_id", userID), zap.Error(err))
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewSendFailure("rate limit exceeded", "RATE_LIMITED"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// MessageRateLimitStatus reports the caller's remaining send budget without
// spending any of it.
func MessageRateLimitStatus(limiter MessageLimiter, l *zap.Logger) gin.HandlerFunc {
	if l == nil {
		l = zap.NewNop()
	}
	return func(c *gin.Context) {
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			return
		}

		result, err := limiter.MessageStatus(c.Request.Context(), userID)
		if err != nil {
			l.Warn("rate limit status unavailable", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse("rate limit status unavailable", "UNAVAILABLE"))
			return
		}

		setRateLimitHeaders(c, result)
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.RateLimitStatus{
			Allowed:        result.Allowed,
			Limit:          result.Limit,
			Remaining:      result.Remaining,
			ResetInSeconds: int(result.ResetIn.Seconds()),
		}))
	}
}

func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.Itoa(int(result.ResetIn.Seconds())))
}
