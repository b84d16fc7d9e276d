package app

import (
	"context"
	"errors"
	"time"

	"github.com/bassista/go_revenue/internal/cache"
	"github.com/bassista/go_revenue/internal/config"
	"github.com/bassista/go_revenue/internal/logger"
	"github.com/bassista/go_revenue/internal/refresh"
	"github.com/bassista/go_revenue/internal/repository"
	"github.com/bassista/go_revenue/internal/scheduler"
	"github.com/bassista/go_revenue/internal/tenant"
)

// App is the application container (immutable dependencies + lifecycle context).
// It is not a request context; handlers should still use gin's request context.
type App struct {
	Config   *config.Config
	Cache    *cache.Store
	Registry *tenant.Registry
	Service  *refresh.Service

	BaseCtx context.Context
	Cancel  context.CancelFunc

	loc     *time.Location
	started []<-chan struct{}
}

// New wires the cache store, tenant registry and refresh service for the
// configured backend.
func New(cfg *config.Config, open repository.Opener) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if open == nil {
		return nil, errors.New("database opener is nil")
	}

	mode, err := cache.ParseLoadMode(cfg.Data.LoadMode)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Misc.Location()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	store := cache.NewStore(mode)
	registry := tenant.NewRegistry()
	svc := refresh.New(ctx, registry, store, open,
		refresh.WithLocation(loc),
		refresh.WithResubscribe(cfg.Data.ResubscribeOnRollover),
		refresh.WithEventBuffer(cfg.Data.EventBuffer),
	)

	return &App{
		Config:   cfg,
		Cache:    store,
		Registry: registry,
		Service:  svc,
		BaseCtx:  ctx,
		Cancel:   cancel,
		loc:      loc,
	}, nil
}

// StartWatchers starts the change dispatcher and, when enabled, the month
// rollover scheduler. Both stop with BaseCtx.
func (a *App) StartWatchers() {
	a.started = append(a.started, a.Service.Start())

	if a.Config.Data.ResubscribeOnRollover {
		s := scheduler.NewPollingScheduler(a.Service, a.Config.Data.RolloverPoll, a.loc)
		a.started = append(a.started, s.Start(a.BaseCtx))
	} else {
		logger.WithComponent("app").Info("month rollover resubscription disabled")
	}
}

// Shutdown stops the background loops, waits for in-flight refreshes up to
// the server shutdown timeout, then releases every tenant subscription and
// database handle.
func (a *App) Shutdown() {
	if a == nil || a.Cancel == nil {
		return
	}
	a.Cancel()

	timeout := a.Config.Server.ShutDownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
wait:
	for _, done := range a.started {
		select {
		case <-done:
		case <-deadline.C:
			logger.WithComponent("app").Warn("background workers did not stop in time")
			break wait
		}
	}
	a.started = nil

	a.Service.Close()
}
