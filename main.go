package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment-service/internal/config"
	"fulfillment-service/internal/db"
	"fulfillment-service/internal/kafka"
	"fulfillment-service/internal/logging"
	"fulfillment-service/internal/metrics"
	"fulfillment-service/internal/reconcile"
	"fulfillment-service/internal/server"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "fulfillment-service",
		Short:        "Order fulfillment backend and payment reconciliation sweep",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), sweepCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger) {
	cfg := config.MustLoadConfig(config.GetString("CONFIG_PATH", "."))
	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics, logger)
	return cfg, logger
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := loadConfig()
			if err := db.RunMigrations(db.GetConnStr(cfg.Database)); err != nil {
				return err
			}
			logger.Info("Migrations applied")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger := loadConfig()
			app, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			report, ran, err := app.scheduler.RunOnce(ctx)
			if !ran && err == nil {
				logger.InfoContext(ctx, "Another sweep holds the lock, nothing to do")
				return nil
			}
			if report != nil {
				if encErr := writeReport(cmd.OutOrStdout(), report); encErr != nil {
					logger.ErrorContext(ctx, "Failed to write sweep report", "error", encErr)
					if err == nil {
						err = encErr
					}
				}
			}
			return err
		},
	}
}

func writeReport(w io.Writer, report *reconcile.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(report), "writing sweep report")
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve webhooks and the reconcile API, run the scheduled sweep and the notification pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger := loadConfig()
			if err := db.RunMigrations(db.GetConnStr(cfg.Database)); err != nil {
				return err
			}

			app, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			writer := kafka.NewWriter(cfg.Kafka)
			defer writer.Close()
			reader := kafka.NewReader(cfg.Kafka)
			defer reader.Close()

			producer := app.newProducer(writer)
			consumer := app.newConsumer()

			producer.Start(ctx)
			app.scheduler.Start(ctx)

			readerDone := make(chan struct{})
			go func() {
				defer close(readerDone)
				kafka.ReadNotifications(ctx, reader, consumer, logger)
			}()

			handler := server.NewHandler(app.sweeper, app.scheduler, app.fulfillment, app.orders, cfg.Gateway.KeySecret, logger)
			srv := &http.Server{
				Addr:              ":" + cfg.Server.Port,
				Handler:           server.NewRouter(handler),
				ReadHeaderTimeout: 10 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("HTTP server listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					logger.Error("HTTP server failed", "error", err)
					stop()
				}
			}

			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP shutdown failed", "error", err)
			}
			<-readerDone
			consumer.Wait()
			return nil
		},
	}
}
