package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sentilens/sentilens/internal/config"
	"github.com/sentilens/sentilens/internal/core/store"
	errwrap "github.com/sentilens/sentilens/internal/errors"
	"github.com/sentilens/sentilens/internal/metrics"
	"github.com/sentilens/sentilens/internal/observability"
	"github.com/sentilens/sentilens/internal/output"
	"github.com/sentilens/sentilens/internal/server"
	"github.com/sentilens/sentilens/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct {
	enabled bool
}

func (t telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if !t.enabled {
		return nil
	}
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server exposing the analysis API.

Routes:
  POST   /v1/analyze            classify one text
  POST   /v1/batch              classify a JSON list of texts
  POST   /v1/batch/csv          classify a CSV upload, respond with CSV
  POST   /v1/jobs               start an asynchronous batch
  GET    /v1/jobs/{id}          job progress and partial results
  GET    /v1/jobs/{id}/export   job results as CSV
  DELETE /v1/jobs/{id}          cancel a job

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown (running jobs are cancelled)
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config file re-read`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadedConfig()
		if err != nil {
			return err
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, config.AppName)

		if err := cfg.Validate(); err != nil {
			observability.ServerLogger.Error("Invalid configuration", zap.Error(err))
			return err
		}

		metricsPort := cfg.Metrics.Port
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, metricsPort, config.AppName); err != nil {
				observability.ServerLogger.Error("Failed to initialize metrics",
					zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
			metrics.SetServerStartTime(time.Now().Unix())
		}

		client, err := buildClient(cfg)
		if err != nil {
			return err
		}
		orch, err := buildOrchestrator(cfg, client)
		if err != nil {
			return err
		}

		jobsCtx, cancelJobs := context.WithCancel(context.Background())
		defer cancelJobs()

		jobs := store.NewJobRegistry(cfg.Server.MaxJobs)
		textColumn := cfg.Batch.TextColumn
		if textColumn == "" {
			textColumn = output.DefaultTextColumn
		}
		api := &handlers.AnalysisAPI{
			Classifier:  orch.Classifier,
			Concurrency: orch.Concurrency,
			BatchSize:   orch.BatchSize,
			OnCancel:    orch.OnCancel,
			TextColumn:  textColumn,
			Jobs:        jobs,
			BaseContext: jobsCtx,
		}

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
			zap.Int("metrics_port", metricsPort),
			zap.String("endpoint", cfg.Inference.Endpoint),
			zap.Int("concurrency", orch.Concurrency),
			zap.Int("max_jobs", cfg.Server.MaxJobs))

		// Initialize health manager
		handlers.InitHealthManager(versionInfo.Version)
		handlers.SetAppName(config.AppName)
		if cfg.Health.Enabled {
			hm := handlers.GetHealthManager()
			hm.RegisterChecker("telemetry", telemetryHealthChecker{enabled: cfg.Metrics.Enabled})
			hm.RegisterChecker("inference", handlers.InferenceChecker{Client: client})
			hm.RegisterChecker("jobs", handlers.JobsChecker{Jobs: jobs})
		}

		srv := server.New(server.Options{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			MaxBodyBytes: cfg.Server.MaxBodyBytes,
		}, api)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		// Handler 2: Shutdown HTTP server and cancel jobs (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}
			cancelJobs()

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					observability.ServerLogger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				observability.ServerLogger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.Wrap(ctx, errwrap.CodeConfigInvalid, err, "config reload failed")
			}

			// Running components keep their settings; a restart applies them.
			observability.ServerLogger.Info("Configuration file re-read; restart to apply changes",
				zap.String("file", viper.ConfigFileUsed()))
			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
