// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/benchtop/pkg/config"
	"github.com/Thermoquad/benchtop/pkg/gpib"
	"github.com/Thermoquad/benchtop/pkg/instrument"
	"github.com/spf13/cobra"
)

var (
	probeTimeout int
)

var probeCmd = &cobra.Command{
	Use:   "probe [instrument ...]",
	Short: "Check that configured instruments answer on the bus",
	Long: `Serial poll each instrument and print its decoded status byte.

Without arguments every configured instrument is probed. A serial poll does
not change instrument state, so probing is safe while a measurement is set
up on the front panel.

Exit codes:
  0 - Every instrument answered before timeout
  1 - One or more instruments did not answer
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds per instrument")
}

func runProbe(cmd *cobra.Command, args []string) error {
	targets := cfg.Instruments
	if len(args) > 0 {
		targets = nil
		for _, name := range args {
			inst, ok := cfg.Find(name)
			if !ok {
				return fmt.Errorf("no instrument named %q", name)
			}
			targets = append(targets, inst)
		}
	}

	conn, ctl, connInfo, err := openController()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Benchtop - Instrument Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", probeTimeout)

	missing := 0
	for _, inst := range targets {
		if !probeOne(ctl, inst) {
			missing++
		}
	}

	if missing > 0 {
		fmt.Fprintf(os.Stderr, "\n%d of %d instruments did not answer\n", missing, len(targets))
		os.Exit(1)
	}
	return nil
}

func probeOne(ctl *gpib.Controller, inst config.Instrument) bool {
	fmt.Printf("%s (%s @ %d): ", inst.Name, inst.Model, inst.Address)
	dev, err := ctl.Device(inst.Address)
	if err != nil {
		fmt.Printf("INVALID: %v\n", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(probeTimeout)*time.Second)
	defer cancel()
	raw, err := dev.SerialPoll(ctx)
	if err != nil {
		fmt.Printf("NO ANSWER: %v\n", err)
		return false
	}
	fmt.Printf("OK, status %s\n", instrument.DecodeStatus(raw))
	return true
}
