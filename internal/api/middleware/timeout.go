package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bassista/go_revenue/internal/logger"
	"github.com/gin-gonic/gin"
)

// RequestTimeout bounds the request context. Handlers pass that context down
// to every database call, so a slow tenant database surfaces as a timeout
// instead of a hung request. Nothing is killed: the handler must return.
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	if d <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}
		logger.WithComponent("http").Warnf("%s %s exceeded %v (request %s)", c.Request.Method, c.Request.URL.Path, d, RequestID(c))
		// a response already on the wire cannot be replaced
		if !c.Writer.Written() {
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{
				"error": "request timeout",
			})
		}
	}
}
