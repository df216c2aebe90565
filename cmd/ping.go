// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/benchtop/pkg/gpib"
	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the link to the GPIB controller",
	Long: `Ask the GPIB controller for its firmware version and measure the round trip.

The controller answers ++ver itself without touching the bus, so this checks
the serial or WebSocket link and the controller configuration only.

This is useful for verifying:
  - Serial port or WebSocket connection is established
  - HTTP Basic authentication works
  - Controller accepts the benchtop configuration
  - Replies are terminated the way benchtop expects

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

// openController opens the configured connection and configures the
// controller on it
func openController() (Connection, *gpib.Controller, string, error) {
	conn, connInfo, err := OpenConnection(cfg.Bus)
	if err != nil {
		return nil, nil, "", err
	}
	ctl, err := gpib.NewController(conn,
		gpib.WithEOTChar(byte(cfg.Bus.EOTChar)),
		gpib.WithReadTimeoutMs(cfg.Bus.ReadTimeoutMs),
		gpib.WithLogger(log))
	if err != nil {
		conn.Close()
		return nil, nil, "", err
	}
	return conn, ctl, connInfo, nil
}

func runPing(cmd *cobra.Command, args []string) error {
	conn, ctl, connInfo, err := openController()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Benchtop - Controller Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(pingTimeout)*time.Second)
		startTime := time.Now()
		version, err := ctl.Version(ctx)
		cancel()

		switch {
		case err == nil:
			rtt := time.Since(startTime)
			fmt.Printf("PONG from %q, rtt=%v\n", version, rtt.Round(time.Millisecond))
			successCount++
		case ctx.Err() != nil:
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		default:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
