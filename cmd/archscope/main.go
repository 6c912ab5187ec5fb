package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/archscope/archscope/internal/api"
	"github.com/archscope/archscope/internal/config"
	"github.com/archscope/archscope/internal/discovery"
	"github.com/archscope/archscope/internal/drift"
	"github.com/archscope/archscope/internal/metrics"
	"github.com/archscope/archscope/internal/models"
	"github.com/archscope/archscope/internal/store"
	"github.com/archscope/archscope/internal/topology"
	"github.com/archscope/archscope/internal/trace"
	"github.com/archscope/archscope/internal/utils"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "archscope",
		Short: "Correlation-trace aggregation and architecture drift detection",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	root.AddCommand(serveCmd(), compareCmd(), trendCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the log collector and drift API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		return err
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting archscope", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		return err
	}

	eventStore, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		logger.Error("failed to open event store", slog.Any("error", err))
		return err
	}
	defer eventStore.Close()

	engine, err := drift.NewEngine(drift.Options{
		BaselinePath: cfg.Drift.BaselinePath,
		HistoryDir:   cfg.Drift.HistoryDir,
		Weights:      cfg.Drift.Weights,
		Thresholds:   cfg.Drift.Thresholds,
		RemovalFloor: cfg.Drift.RemovalFloor,
	}, logger)
	if err != nil {
		logger.Error("failed to initialise drift engine", slog.Any("error", err))
		return err
	}

	handlers := api.NewHandlers(
		logger,
		eventStore,
		trace.NewReconstructor(eventStore),
		discovery.NewTraceDiscoverer(eventStore, logger),
		engine,
	)

	server, err := api.NewServer(cfg.Server, handlers)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("archscope stopped")
	return nil
}

func compareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <baseline.json> <current.json>",
		Short: "Compare two topology snapshots and report drift",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

			baseline, err := loadSnapshotFile(args[0])
			if err != nil {
				return err
			}
			current, err := loadSnapshotFile(args[1])
			if err != nil {
				return err
			}

			engine, err := drift.NewEngine(drift.Options{
				BaselinePath: cfg.Drift.BaselinePath,
				HistoryDir:   cfg.Drift.HistoryDir,
				Weights:      cfg.Drift.Weights,
				Thresholds:   cfg.Drift.Thresholds,
				RemovalFloor: cfg.Drift.RemovalFloor,
			}, logger)
			if err != nil {
				return err
			}

			report := engine.Compute(baseline, current)
			fmt.Fprint(cmd.OutOrStdout(), drift.FormatReport(report))

			// Non-zero exit for CI integration on significant drift.
			if report.Severity == models.SeverityHigh || report.Severity == models.SeverityCritical {
				return fmt.Errorf("drift severity %s (score %d)", report.Severity, report.Score)
			}
			return nil
		},
	}
}

func trendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trend",
		Short: "Print the drift trend over the recorded history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

			engine, err := drift.NewEngine(drift.Options{
				BaselinePath: cfg.Drift.BaselinePath,
				HistoryDir:   cfg.Drift.HistoryDir,
				Weights:      cfg.Drift.Weights,
				Thresholds:   cfg.Drift.Thresholds,
				RemovalFloor: cfg.Drift.RemovalFloor,
			}, logger)
			if err != nil {
				return err
			}

			trendReport, err := engine.Trend()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(trendReport)
		},
	}
}

func loadSnapshotFile(path string) (*topology.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snapshot topology.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return &snapshot, nil
}
