package route

import (
	"net/http"

	"github.com/bassista/go_revenue/internal/api/middleware"
	"github.com/bassista/go_revenue/internal/app"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes builds the engine with the global middleware chain and every
// public route. Recovery is outermost so Honeybadger can see panics first.
func SetupRoutes(appCtx *app.App, log *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.HoneybadgerMiddleware(log))
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.CORSMiddleware(appCtx.Config.Server.CORSAllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "UP",
		})
	})

	publicRouter := r.Group("")
	NewRevenueRouter(appCtx.Config.Server.RequestTimeout, publicRouter, appCtx.Service)

	return r
}
