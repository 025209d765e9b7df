package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalhouse/ingest-cli/internal/api"
	"github.com/signalhouse/ingest-cli/internal/metrics"
	"github.com/signalhouse/ingest-cli/internal/sourcecfg"
	"github.com/signalhouse/ingest-cli/internal/tenant"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the discovery and pool APIs over HTTP. Requests carry their
project in the X-Project-Key header (or ?project_key= query parameter); Prometheus
metrics are exposed on /metrics.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Server.Port = port
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		server := api.NewServer(env.resolver, env.newPipeline(), env.pool, env.jobs,
			sourcecfg.NewResolver(env.sources))
		httpServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go reapStaleRuns(ctx, env)

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("http server listening", zap.Int("port", cfg.Server.Port))
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "serve")
			}
			return nil
		case <-ctx.Done():
		}

		zap.L().Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "serve: shutdown")
		}
		return nil
	},
}

// reapStaleRuns periodically marks runs stuck in the running state as failed,
// across every enabled project. Runs survive process crashes in that state,
// so the reaper is what eventually surfaces them.
func reapStaleRuns(ctx context.Context, env *env) {
	olderThan := time.Duration(cfg.Reaper.OlderThanMinutes) * time.Minute
	logger := zap.L().With(zap.String("phase", "reaper"))

	ticker := time.NewTicker(olderThan / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		projects, err := env.projects.List(ctx)
		if err != nil {
			logger.Warn("listing projects failed", zap.Error(err))
			continue
		}
		for _, p := range projects {
			if !p.Enabled {
				continue
			}
			project := p
			bctx := tenant.Bind(ctx, &project)
			reason := fmt.Sprintf("repaired by reaper: running longer than %s", olderThan)
			n, err := env.jobs.RepairStale(bctx, olderThan, reason)
			if err != nil {
				logger.Warn("repair failed", zap.String("project", p.Key), zap.Error(err))
				continue
			}
			if n > 0 {
				metrics.ObserveJobsRepaired(p.Key, n)
				logger.Info("repaired stale runs",
					zap.String("project", p.Key), zap.Int("repaired", n))
			}
		}
	}
}

func init() {
	serveCmd.Flags().Int("port", 0, "override the configured listen port")
	rootCmd.AddCommand(serveCmd)
}
