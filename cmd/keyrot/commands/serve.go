package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/omniusstudio/pms-keyrotation/internal/config"
	"github.com/omniusstudio/pms-keyrotation/internal/metrics"
	"github.com/omniusstudio/pms-keyrotation/internal/rotation"
)

// NewServeCommand creates the serve command, the long-running scheduler
// process.
func NewServeCommand(cfg *config.Config, stateDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rotation scheduler",
		Long: `Run the rotation scheduler loop until interrupted.

Every check interval the scheduler scans each tenant for due policies,
claims them through an advisory lock, rotates their bound keys, and
advances their schedules. State is persisted to the state directory after
every tick and on shutdown.`,
		Example: `  # Run with the default config file
  keyrot serve

  # Run against a staging config with debug logging
  keyrot serve --config staging.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cfg, stateDir)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt.notifier.Start(ctx)

			def := cfg.Definition
			if def.Metrics.Enabled {
				metrics.Init()
				go serveMetrics(ctx, cfg, def.Metrics.ListenAddress)
			}

			scheduler := rotation.NewScheduler(rotation.SchedulerOptions{
				Policies:          rt.state.Policies(),
				Registry:          rt.state.Registry(),
				Executor:          rt.executor,
				Locker:            rt.locker,
				Logger:            cfg.Logger,
				Enabled:           def.Scheduler.Enabled(),
				CheckInterval:     time.Duration(def.Scheduler.CheckIntervalMinutes) * time.Minute,
				MaxConcurrency:    def.Scheduler.MaxConcurrency,
				PendingStaleAfter: time.Duration(def.Scheduler.PendingStaleAfterMinutes) * time.Minute,
			})

			// Persist after every tick so a crash loses at most one interval
			// of audit history.
			go persistLoop(ctx, rt, time.Duration(def.Scheduler.CheckIntervalMinutes)*time.Minute)

			err = scheduler.Run(ctx)
			if saveErr := rt.state.Save(); saveErr != nil {
				cfg.Logger.Error("failed to persist state on shutdown: %v", saveErr)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	return cmd
}

func serveMetrics(ctx context.Context, cfg *config.Config, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	cfg.Logger.Info("metrics listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cfg.Logger.Error("metrics server failed: %v", err)
	}
}

func persistLoop(ctx context.Context, rt *runtime, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rt.state.Save(); err != nil {
				rt.cfg.Logger.Warn("state persist failed: %v", err)
			}
		}
	}
}
