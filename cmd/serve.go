package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/hera/internal/handlers"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/queue"
	"github.com/imyashkale/hera/internal/router"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, provisioning workers and claim sweeper",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	ctx := context.Background()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	workerPool := queue.NewWorkerPool(a.queue, cfg.WorkerCount)
	workerPool.Start(a.deployments.Execute)
	logger.WithField("workers", cfg.WorkerCount).Info("Provisioning workers started")

	recovered, err := a.deployments.Recover(ctx)
	if err != nil {
		logger.WithField("error", err.Error()).Error("Failed to recover unfinished deployments")
	} else if recovered > 0 {
		logger.WithField("count", recovered).Info("Unfinished deployments re-enqueued")
	}

	if err := a.sweeper.Start(); err != nil {
		workerPool.Stop()
		return err
	}

	if !strings.EqualFold(cfg.GetLogLevel(), "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.Setup(cfg.JWTSecret, cfg.CORSOrigins, router.Handlers{
		Health:      handlers.NewHealthHandler(a.queue),
		Deployments: handlers.NewDeploymentHandler(a.deployments),
		Domains:     handlers.NewDomainHandler(a.registry, a.deployments),
		Artifacts:   handlers.NewArtifactHandler(a.configs),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.GetPort(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on :%s", cfg.GetPort())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutting down server gracefully...")
	case err := <-serverErr:
		if err != nil {
			logger.WithField("error", err.Error()).Error("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Warn("HTTP server did not shut down cleanly")
	}

	a.sweeper.Stop()
	logger.Info("Claim sweeper stopped")

	// Runs still in flight are cancelled and picked up by Recover on the next start
	a.queue.Close()
	workerPool.Stop()
	logger.Info("All workers stopped")
	return nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQLite schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("path")
		if path == "" {
			path = cfg.SQLitePath
		}

		db, err := openSQLite(path)
		if err != nil {
			return err
		}
		defer db.Close()

		version, err := schemaVersion(db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is at schema version %d\n", path, version)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-verify pending domain claims and expire lapsed ones, once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		a, err := newApp(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.sweeper.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checked=%d verified=%d expired=%d reconciled=%d errors=%d\n",
			report.Checked, report.Verified, report.Expired, report.Reconciled, report.Errors)
		return nil
	},
}

func init() {
	migrateCmd.Flags().String("path", "", "SQLite database path (defaults to SQLITE_PATH)")
	sweepCmd.Flags().Duration("timeout", 5*time.Minute, "Give up after this long")
}
