package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Origin, Content-Type, Accept, Authorization, " + RequestIDHeader
)

// CORSMiddleware returns a Gin middleware that handles CORS preflight and headers.
// allowedOrigins is a comma-separated list of allowed origins, or "*" for all.
// A wildcard never carries credentials; a matched origin is echoed back with
// credentials allowed and Vary: Origin.
func CORSMiddleware(allowedOrigins string) gin.HandlerFunc {
	wildcard := strings.TrimSpace(allowedOrigins) == "*"
	allowed := map[string]struct{}{}
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" && o != "*" {
			allowed[o] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		switch {
		case origin == "":
		case wildcard:
			c.Header("Access-Control-Allow-Origin", "*")
		default:
			if _, ok := allowed[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Vary", "Origin")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", corsAllowMethods)
			if requested := c.Request.Header.Get("Access-Control-Request-Headers"); requested != "" {
				c.Header("Access-Control-Allow-Headers", requested)
			} else {
				c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			}
			c.Header("Access-Control-Max-Age", "86400")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
