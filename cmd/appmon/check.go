package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/appmon/internal/config"
	"github.com/goodtune/appmon/internal/procwatch"
	"github.com/goodtune/appmon/internal/storage/file"
	"github.com/goodtune/appmon/internal/tracker"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run two poll cycles interactively",
	Long: `Run the usage engine for two synchronous poll cycles against the real
process list, print the resulting usage report, and wait for Enter before
exiting. Useful as a manual smoke test of the configuration.`,
	Example: `  appmon --config config.yaml check`,
	RunE:    runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// consoleNotifier prints warnings to the terminal instead of a session.
type consoleNotifier struct{}

func (consoleNotifier) Show(title, message string, _ time.Duration) {
	color.Red("%s: %s", title, message)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	if cfg.Monitor.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	clock := tracker.RealClock{}
	adapter := file.NewAdapter(cfg.Storage.DataDir)
	record, err := adapter.Load(clock.Now())
	if err != nil {
		color.Yellow("usage data unreadable, starting empty: %v", err)
	}

	engine := tracker.New(trackerConfig(cfg), procwatch.NewSystemLister(), consoleNotifier{}, nil, clock, record, logger)
	engine.SetDebug(cfg.Monitor.Debug)

	bold := color.New(color.Bold)
	bold.Printf("Watching process %q", cfg.Monitor.ProcessName)
	if cfg.Monitor.Keyword != "" {
		bold.Printf(" (keyword %q)", cfg.Monitor.Keyword)
	}
	fmt.Println()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		engine.Poll(ctx)
	}

	fmt.Print(engine.Report())

	color.Cyan("Press Enter to stop...")
	bufio.NewReader(os.Stdin).ReadString('\n')

	finalRecord, lastPoll := engine.Snapshot()
	if err := adapter.Save(finalRecord, lastPoll, clock.Now()); err != nil {
		return fmt.Errorf("failed to save usage data: %w", err)
	}

	color.Green("State saved to %s", adapter.Path())
	return nil
}
