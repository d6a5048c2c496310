package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/appmon/internal/config"
	"github.com/goodtune/appmon/internal/control"
	"github.com/spf13/cobra"
)

var ctlSocketPath string

var ctlCmd = &cobra.Command{
	Use:   "ctl CODE",
	Short: "Send a command code to the running daemon",
	Long: `Send a numeric command code to the daemon's control socket and print
the reply. Send code 100 for the list of commands.`,
	Example: `  appmon ctl 100   # help
  appmon ctl 200   # today's usage report
  appmon ctl 15    # add 25 bonus minutes`,
	Args: cobra.ExactArgs(1),
	RunE: runCtl,
}

func init() {
	ctlCmd.Flags().StringVar(&ctlSocketPath, "socket", "", "Control socket path (default from config)")
	rootCmd.AddCommand(ctlCmd)
}

func runCtl(cmd *cobra.Command, args []string) error {
	code, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("command code must be a number, got %q", args[0])
	}

	path := ctlSocketPath
	if path == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		path = cfg.Control.SocketPath
	}

	reply, err := control.Send(path, code, 5*time.Second)
	if err != nil {
		return err
	}

	if len(reply) >= 6 && reply[:6] == "error:" {
		color.Red("%s", reply)
		return nil
	}
	fmt.Print(reply)
	return nil
}
