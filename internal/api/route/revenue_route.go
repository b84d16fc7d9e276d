package route

import (
	"time"

	"github.com/bassista/go_revenue/internal/api/controller"
	"github.com/bassista/go_revenue/internal/api/middleware"
	"github.com/gin-gonic/gin"
)

func NewRevenueRouter(timeout time.Duration, group *gin.RouterGroup, svc controller.RevenueService) {
	group.Use(middleware.RequestTimeout(timeout))

	rc := controller.NewRevenueController(svc)

	group.POST("register", rc.Register)
	group.GET("cache/:flet_path", rc.Aggregate)
	group.GET("cache/:flet_path/:collaborator_id", rc.Collaborator)
	group.POST("cache/:flet_path/refresh", rc.Refresh)
	group.GET("debug_clients", rc.DebugClients)
}
