package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const (
	servicePath = "/etc/systemd/system/appmon.service"
	socketPath  = "/etc/systemd/system/appmon.socket"
)

const serviceUnit = `[Unit]
Description=AppMon daily usage limiter
After=network.target

[Service]
Type=notify
ExecStart=%s server --config %s
Restart=on-failure
RestartSec=5
RuntimeDirectory=appmon
StateDirectory=appmon

[Install]
WantedBy=multi-user.target
`

const socketUnit = `[Unit]
Description=AppMon control socket

[Socket]
ListenStream=/run/appmon/control.sock
FileDescriptorName=control
SocketMode=0660

[Install]
WantedBy=sockets.target
`

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install systemd units for the daemon",
	Long:  `Write appmon.service and appmon.socket to /etc/systemd/system. Requires root.`,
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the installed systemd units",
	RunE:  runUninstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve own binary path: %w", err)
	}

	unit := fmt.Sprintf(serviceUnit, binary, configPath)
	if err := os.WriteFile(servicePath, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", servicePath, err)
	}
	color.Green("Wrote %s", servicePath)

	if err := os.WriteFile(socketPath, []byte(socketUnit), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", socketPath, err)
	}
	color.Green("Wrote %s", socketPath)

	fmt.Println("Run: systemctl daemon-reload && systemctl enable --now appmon.service")
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	for _, path := range []string{servicePath, socketPath} {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				color.Yellow("%s not present", path)
				continue
			}
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		color.Green("Removed %s", path)
	}

	fmt.Println("Run: systemctl daemon-reload")
	return nil
}
