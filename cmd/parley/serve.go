package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/parley/internal/cli"
	httpadapter "github.com/aretw0/parley/pkg/adapters/http"
	"github.com/aretw0/parley/pkg/sweeper"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts the engine behind the HTTP API described at /openapi.yaml, together
with the idle-session sweeper. With --watch, edits to the graphs directory are
picked up without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		stack, err := cli.BuildStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer stack.Close()

		sw, err := sweeper.New(stack.Engine, sweeper.WithSchedule(cfg.SweepSchedule), sweeper.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := sw.Start(ctx); err != nil {
			return err
		}
		defer sw.Stop()

		if watch {
			go func() {
				if err := stack.WatchGraphs(ctx); err != nil {
					logger.Error("graph watcher stopped", "err", err)
				}
			}()
		}

		handler, err := httpadapter.NewHandler(stack.Engine,
			httpadapter.WithLogger(logger),
			httpadapter.WithMetricsHandler(stack.Metrics.Handler()),
		)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("HTTP server listening", "address", srv.Addr, "graphs_dir", cfg.GraphsDir)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case <-ctx.Done():
			logger.Info("shutting down", "signal", ctx.Signal())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				return srv.Close()
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("watch", false, "Reload graphs when files in the graphs directory change")
}
