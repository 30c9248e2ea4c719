// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"
	"time"

	"github.com/Thermoquad/rctstat/pkg/rct"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// flagConfig receives the raw persistent flag values. Only flags the
	// user actually set are laid over the config file.
	flagConfig = DefaultConfig()
	configPath string

	// cfg is the resolved configuration used by every command
	cfg    Config
	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "rctstat",
	Short: "RCT Power inverter telemetry reader",
	Long: `rctstat - A CLI tool for reading telemetry values from RCT Power inverters.

Reads single float objects (battery state of charge, power flows, ...) using
the inverter's framed request/response protocol, and provides commands for
polling, link quality probing and passive frame logging.

Connection modes:
  TCP:       --host 192.168.0.10 [--tcp-port 8899]
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Settings can also be placed in a TOML file passed with --config. Flags given
on the command line override the file.

For WebSocket authentication, the password is read from the RCT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()

	// TCP connection flags
	flags.StringVarP(&flagConfig.Host, "host", "H", "", "Inverter host name or address")
	flags.IntVar(&flagConfig.TCPPort, "tcp-port", rct.DefaultPort, "Inverter TCP port")

	// Serial connection flags
	flags.StringVarP(&flagConfig.SerialPort, "port", "p", "", "Serial port device")
	flags.IntVarP(&flagConfig.Baud, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringVarP(&flagConfig.URL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.StringVar(&flagConfig.Username, "username", "", "Username for HTTP Basic auth")
	flags.BoolVar(&flagConfig.NoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Protocol flags
	flags.DurationVar(&flagConfig.Timeout, "timeout", 2*time.Second, "Timeout for a single read")
	flags.DurationVar(&flagConfig.Tick, "tick", 5*time.Millisecond, "Interval between protocol driver ticks")

	flags.StringVar(&flagConfig.LogLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error)")
	flags.StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
}

// setup resolves the configuration and logger before any command runs
func setup(cmd *cobra.Command, args []string) error {
	resolved, err := resolveConfig(configPath, flagConfig, cmd.Flags().Changed)
	if err != nil {
		return err
	}

	l, err := newLogger(resolved.LogLevel, os.Stderr)
	if err != nil {
		return err
	}

	cfg = resolved
	logger = l
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
