// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/Thermoquad/benchtop/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Logging and metrics flags
	logLevel    string
	logFormat   string
	metricsAddr string

	// cfg is the loaded configuration with flag overrides applied
	cfg *config.Config
	log = logrus.StandardLogger()
)

var rootCmd = &cobra.Command{
	Use:   "benchtop",
	Short: "GPIB bench instrument controller",
	Long: `Benchtop - drive an HP 3457A multimeter and an HP 3586 selective level meter
through a Prologix-compatible GPIB controller.

Every bus exchange goes through one transaction engine per instrument, so
commands, status escalation and service request handling never interleave
on the bus.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Instruments, archive sinks and defaults live in benchtop.toml under the user
config directory (created on first run). Flags override the file.

For WebSocket authentication, the password is read from the BENCHTOP_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default <user config dir>/benchtop/benchtop.toml)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// setup loads the configuration, applies flag overrides and configures
// logging and metrics
func setup(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return fmt.Errorf("locate config: %w", err)
		}
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg = loaded

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Bus.Port = portName
		cfg.Bus.URL = ""
	}
	if flags.Changed("baud") {
		cfg.Bus.Baud = baudRate
	}
	if flags.Changed("url") {
		cfg.Bus.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Bus.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Bus.NoSSLVerify = wsNoSSLVerify
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if metricsAddr != "" {
		cfg.Metrics.Listen = metricsAddr
	}

	if err := configureLogging(cfg.Log); err != nil {
		return err
	}
	log.WithField("config", path).Debug("configuration loaded")

	if cfg.Metrics.Listen != "" {
		serveMetrics(cfg.Metrics.Listen)
	}
	return nil
}

func configureLogging(c config.Log) error {
	log.SetOutput(os.Stderr)
	if c.Level != "" {
		level, err := logrus.ParseLevel(c.Level)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		log.SetLevel(level)
	}
	switch c.Format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q (use text or json)", c.Format)
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
}
