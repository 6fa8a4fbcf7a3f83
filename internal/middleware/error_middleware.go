package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"safetrade-chat/internal/transport/httpdto"
	"safetrade-chat/pkg/logger"
)

// ErrorHandler logs errors attached with c.Error and answers with a generic
// body when the handler has not written one.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		if l != nil {
			l.WithContext(c.Request.Context()).Error("request error",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err))
		}
		if !c.Writer.Written() {
			c.JSON(c.Writer.Status(), httpdto.NewErrorResponse("internal error", "INTERNAL_ERROR"))
		}
	}
}
