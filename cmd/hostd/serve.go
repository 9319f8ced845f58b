package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pluginhost/core/adapters/httpapi"
	"github.com/pluginhost/core/internal/config"
	"github.com/pluginhost/core/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "discover, validate, load, and supervise every configured plugin until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		h := buildHost(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result := h.discovery.Discover(ctx)
		for _, srcErr := range result.Errors {
			logger.Discovery().Warn().Str("source", srcErr.Source).Err(srcErr.Err).Msg("discovery source failed")
		}

		plugins := append(result.Plugins, h.builtinPlugins()...)
		if err := h.supervisor.StartAll(ctx, plugins); err != nil {
			logger.Supervisor().Error().Err(err).Msg("start_all failed")
			return err
		}
		h.builtinInitialConfig(ctx)

		if cfg.Discovery.WatchEnabled {
			go h.watchAndReconcile(ctx)
		}

		var srv *httpapi.Server
		if cfg.HTTP.Enabled {
			srv = httpapi.New(h.supervisor, h.promReg)
			go func() {
				if err := srv.ListenAndServe(cfg.HTTP.Addr); err != nil {
					logger.Supervisor().Warn().Err(err).Msg("http adapter stopped")
				}
			}()
		}

		<-ctx.Done()
		logger.Supervisor().Info().Msg("shutdown signal received, stopping all plugins")

		shutdownTimeout := cfg.Lifecycle.StageTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 30 * time.Second
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if srv != nil {
			_ = srv.Shutdown(stopCtx)
		}
		return h.supervisor.StopAll(stopCtx)
	},
}
