package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/appmon/internal/config"
	"github.com/goodtune/appmon/internal/control"
	"github.com/goodtune/appmon/internal/metrics"
	"github.com/goodtune/appmon/internal/notify"
	"github.com/goodtune/appmon/internal/procwatch"
	"github.com/goodtune/appmon/internal/storage"
	"github.com/goodtune/appmon/internal/storage/bolt"
	"github.com/goodtune/appmon/internal/storage/file"
	"github.com/goodtune/appmon/internal/storage/redis"
	"github.com/goodtune/appmon/internal/systemd"
	"github.com/goodtune/appmon/internal/tracker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the AppMon daemon",
	Long:  `Start the AppMon daemon: poll for the monitored process, track its daily usage, and serve the control socket and metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Str("process", cfg.Monitor.ProcessName).
		Msg("Starting AppMon")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// History backend
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	clock := tracker.RealClock{}
	now := clock.Now()

	// Today's state from the data file
	adapter := file.NewAdapter(cfg.Storage.DataDir)
	record, err := adapter.Load(now)
	if err != nil {
		logger.Warn().Err(err).Str("path", adapter.Path()).Msg("Failed to load usage data, starting empty")
	}

	pruneHistory(store.History(), cfg.Storage.RetentionDays, now, logger)

	messenger, err := notify.NewLogindMessenger(logger)
	if err != nil {
		return fmt.Errorf("failed to connect to logind: %w", err)
	}
	dispatcher := notify.NewDispatcher(messenger, cfg.Notify.SessionID, logger)
	mailer := notify.NewMailer(cfg.Notify.Email, logger)

	engine := tracker.New(trackerConfig(cfg), procwatch.NewSystemLister(), dispatcher, store.History(), clock, record, logger)
	engine.SetDebug(cfg.Monitor.Debug)

	// Control socket
	controlServer := control.NewServer(cfg.Control.SocketPath, engine, dispatcher, mailer, logger)
	if sdListeners.Control != nil {
		controlServer.SetListener(sdListeners.Control)
	}
	if err := controlServer.Start(); err != nil {
		return fmt.Errorf("failed to start control server: %w", err)
	}

	// Metrics endpoint
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		logger.Info().Str("addr", metricsAddr).Msg("Metrics server started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(done)
	}()

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	logger.Info().Msg("AppMon startup complete")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop the poll loop before flushing so the final save sees a quiescent
	// state.
	cancel()
	<-done

	if err := controlServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping control server")
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	finalRecord, lastPoll := engine.Snapshot()
	if err := adapter.Save(finalRecord, lastPoll, clock.Now()); err != nil {
		logger.Error().Err(err).Str("path", adapter.Path()).Msg("Failed to save usage data")
	}

	logger.Info().Msg("AppMon stopped")
	return nil
}

func trackerConfig(cfg *config.Config) tracker.Config {
	return tracker.Config{
		ProcessName:    cfg.Monitor.ProcessName,
		Keyword:        cfg.Monitor.Keyword,
		Message:        cfg.Notify.Message,
		WeekdayMinutes: cfg.Quota.WeekdayMinutes,
		WeekendMinutes: cfg.Quota.WeekendMinutes,
		Interval:       time.Duration(cfg.Monitor.IntervalSeconds) * time.Second,
		NotifyTimeout:  time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
	}
}

// pruneHistory drops archived days older than the retention window.
// Best-effort: a failure only logs.
func pruneHistory(history storage.HistoryStore, retentionDays int, now time.Time, logger zerolog.Logger) {
	if retentionDays <= 0 {
		return
	}

	cutoff := now.AddDate(0, 0, -retentionDays).Format(storage.DateFormat)
	ctx, cancelPrune := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelPrune()

	deleted, err := history.DeleteBefore(ctx, cutoff)
	if err != nil {
		logger.Warn().Err(err).Str("cutoff", cutoff).Msg("Failed to prune history")
		return
	}
	if deleted > 0 {
		logger.Info().Int("deleted", deleted).Str("cutoff", cutoff).Msg("Pruned archived days")
	}
}

func openStorage(cfg config.Storage) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (supported: 'bolt', 'redis')", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.Logging) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
