package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bassista/go_revenue/internal/logger"
	"github.com/bassista/go_revenue/internal/revenue"
	"github.com/containerd/errdefs"
	"github.com/gin-gonic/gin"
)

// RevenueService is what the HTTP layer needs from the refresh service.
type RevenueService interface {
	Register(ctx context.Context, tenantID string, cred json.RawMessage) error
	Collaborator(ctx context.Context, tenantID, collaboratorID string) (revenue.Summary, error)
	Aggregate(ctx context.Context, tenantID string) (revenue.Figures, error)
	ForceRefresh(ctx context.Context, tenantID string) (revenue.Figures, error)
	Tenants() []string
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	FletPath string          `json:"flet_path" binding:"required"`
	Cred     json.RawMessage `json:"cred" binding:"required"`
}

type RevenueController struct {
	service RevenueService
}

func NewRevenueController(service RevenueService) *RevenueController {
	return &RevenueController{service: service}
}

// Register opens the tenant database, runs the cold-start refresh and
// subscribes to the current month's transactions.
func (rc *RevenueController) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := rc.service.Register(c.Request.Context(), req.FletPath, req.Cred); err != nil {
		rc.fail(c, "register", req.FletPath, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": fmt.Sprintf("tenant %s registered", req.FletPath),
	})
}

// Aggregate returns the tenant totals from the cache without refreshing.
func (rc *RevenueController) Aggregate(c *gin.Context) {
	tenantID := c.Param("flet_path")
	figures, err := rc.service.Aggregate(c.Request.Context(), tenantID)
	if err != nil {
		rc.fail(c, "aggregate", tenantID, err)
		return
	}
	c.JSON(http.StatusOK, figures.Tuple())
}

// Collaborator returns one collaborator's figures, refreshing the tenant
// first when the cached summary is from an earlier day.
func (rc *RevenueController) Collaborator(c *gin.Context) {
	tenantID := c.Param("flet_path")
	summary, err := rc.service.Collaborator(c.Request.Context(), tenantID, c.Param("collaborator_id"))
	if err != nil {
		rc.fail(c, "collaborator", tenantID, err)
		return
	}
	c.JSON(http.StatusOK, summary.Tuple())
}

// Refresh recomputes the tenant cache and returns the new totals.
func (rc *RevenueController) Refresh(c *gin.Context) {
	tenantID := c.Param("flet_path")
	figures, err := rc.service.ForceRefresh(c.Request.Context(), tenantID)
	if err != nil {
		rc.fail(c, "refresh", tenantID, err)
		return
	}
	c.JSON(http.StatusOK, figures.Tuple())
}

// DebugClients lists the registered tenant ids.
func (rc *RevenueController) DebugClients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clientes": rc.service.Tenants()})
}

func (rc *RevenueController) fail(c *gin.Context, op, tenantID string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.WithTenant("revenue_controller", tenantID).WithField("op", op).Errorf("request failed: %v", err)
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusFor maps an error class to its HTTP status.
// Malformed credentials are server errors, like upstream failures.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errdefs.IsAlreadyExists(err):
		return http.StatusBadRequest
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
