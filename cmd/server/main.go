package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"syscall"

	route "github.com/bassista/go_revenue/internal/api/route"
	appctx "github.com/bassista/go_revenue/internal/app"
	"github.com/bassista/go_revenue/internal/config"
	"github.com/bassista/go_revenue/internal/logger"
	"github.com/bassista/go_revenue/internal/repository"
	"github.com/gin-gonic/gin"

	"github.com/enrichman/httpgrace"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithComponent("main").Fatalf("configuration error: %v", err)
	}

	if err := logger.Configure(logger.Options{
		Level:  cfg.Misc.LogLevel,
		Format: cfg.Misc.LogFormat,
		File:   cfg.Misc.LogFile,
	}); err != nil {
		logger.WithComponent("main").Warnf("invalid log level '%s', keeping '%s': %v", cfg.Misc.LogLevel, logger.Logger.GetLevel(), err)
	}
	logger.WithComponent("main").Infof("App will run on port: %d with %s backend", cfg.Server.Port, cfg.Data.Backend)

	open, err := repository.NewOpener(cfg.Data.Backend)
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init database opener: %v", err)
	}

	app, err := appctx.New(cfg, open)
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init app: %v", err)
	}
	defer app.Shutdown()

	app.StartWatchers()

	gin.SetMode(cfg.Misc.GinMode)
	gin.DefaultWriter = logger.Logger.Writer()
	gin.DefaultErrorWriter = logger.Logger.Writer()

	r := route.SetupRoutes(app, logger.Logger)
	srv := createGraceHttpServer(app.BaseCtx, "main-server", app.Config.Server, r)

	if err := srv.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithComponent("main").Error(err)
	}
}

func createGraceHttpServer(ctx context.Context, name string, serverConfig config.ServerConfig, r *gin.Engine) *httpgrace.Server {
	slogLogger := slog.New(slog.NewTextHandler(logger.Logger.Writer(), nil))

	srv := httpgrace.NewServer(r,
		httpgrace.WithTimeout(serverConfig.ShutDownTimeout),
		httpgrace.WithSignals(syscall.SIGTERM, syscall.SIGINT),
		httpgrace.WithLogger(slogLogger),
		httpgrace.WithBeforeShutdown(func() {
			logger.WithComponent("http").Infof("Shutting down %s server....", name)
		}),
		httpgrace.WithServerOptions(
			httpgrace.WithReadTimeout(serverConfig.ReadTimeout),
			httpgrace.WithWriteTimeout(serverConfig.WriteTimeout),
			httpgrace.WithIdleTimeout(serverConfig.IdleTimeout),
			func(srv *http.Server) {
				srv.BaseContext = func(_ net.Listener) context.Context {
					return ctx
				}
			},
			func(srv *http.Server) {
				srv.ErrorLog = log.New(logger.Logger.Writer(), fmt.Sprintf("[%s] ", name), log.LstdFlags)
			},
		),
	)
	return srv
}
