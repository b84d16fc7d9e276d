package middleware

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	honeybadger "github.com/honeybadger-io/honeybadger-go"
	"github.com/sirupsen/logrus"
)

// HoneybadgerMiddleware reports panics and error responses to Honeybadger
// when HONEYBADGER_API_KEY is set. Panics are re-raised for gin.Recovery.
// 404 is not reported: unknown tenants are an expected client condition.
func HoneybadgerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	apiKey := os.Getenv("HONEYBADGER_API_KEY")
	if apiKey == "" {
		log.Info("Honeybadger is not active. To enable error reporting, set the HONEYBADGER_API_KEY environment variable.")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	honeybadger.Configure(honeybadger.Configuration{
		APIKey: apiKey,
		Env:    os.Getenv("REVENUE_ENV"),
	})
	log.Info("Honeybadger error reporting is enabled.")

	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				honeybadger.Notify(fmt.Sprintf("Panic: %s %s", c.Request.Method, c.FullPath()),
					c.Request,
					honeybadger.Context{"stack": string(debug.Stack()), "request_id": RequestID(c)},
					honeybadger.Tags{"panic", "http"})
				log.Error("Recovered from panic, notified Honeybadger: ", rec)
				panic(rec)
			}
		}()

		c.Next()

		status := c.Writer.Status()
		if status < 400 || status == 404 {
			return
		}
		hbContext := honeybadger.Context{"request_id": RequestID(c), "tenant": c.Param("flet_path")}
		if len(c.Errors) > 0 {
			hbContext["errors"] = c.Errors.String()
		}
		if status >= 500 {
			honeybadger.Notify(fmt.Sprintf("Error: HTTP %d: %s %s", status, c.Request.Method, c.FullPath()), c.Request, hbContext, honeybadger.Tags{"5XX", "http"})
		} else {
			honeybadger.Notify(fmt.Sprintf("Warning: HTTP %d: %s %s", status, c.Request.Method, c.FullPath()), hbContext, honeybadger.Tags{"4XX", "http"})
		}
		log.Warnf("Honeybadger reported HTTP %d for %s %s", status, c.Request.Method, c.Request.URL.Path)
	}
}
