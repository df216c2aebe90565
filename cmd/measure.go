// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
)

var (
	measureCount      int
	measureShowStatus bool
)

var measureCmd = &cobra.Command{
	Use:   "measure <instrument> [command ...]",
	Short: "Configure an instrument and print its readings",
	Long: `Initialize an instrument, run the given commands in order and print every
reading the instrument reports until --count readings arrived or Ctrl+C.

Each command is one line of the command grammar, for example:

  benchtop measure dmm "FUNC DCV" "RANGE 30" "NDIG 6" "TRIG AUTO"

Readings are collected when the instrument requests service, so its service
request mask must include the ready bit. Readings are archived to every sink
configured in benchtop.toml.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMeasure,
}

func init() {
	rootCmd.AddCommand(measureCmd)
	measureCmd.Flags().IntVarP(&measureCount, "count", "n", 0, "Stop after this many readings (0 runs until interrupted)")
	measureCmd.Flags().BoolVar(&measureShowStatus, "status", false, "Also print status changes")
}

func runMeasure(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	name := args[0]
	readings := make(chan event, 64)
	emit := func(ev event) {
		if ev.instrument != name && ev.kind != eventConnection {
			return
		}
		switch ev.kind {
		case eventReading:
			select {
			case readings <- ev:
			default:
			}
		case eventStatus:
			if measureShowStatus {
				fmt.Printf("[%s] status %s\n", ev.time.Format("15:04:05.000"), ev.text)
			}
		case eventConnection:
			fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.time.Format("15:04:05.000"), ev.text)
		}
	}

	s, err := openSession(ctx, emit)
	if err != nil {
		return err
	}
	defer s.Close()

	st, ok := s.station(name)
	if !ok {
		return fmt.Errorf("no instrument named %q", name)
	}

	fmt.Printf("Benchtop - Measure\n")
	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Printf("Instrument: %s (%s @ %d)\n", st.Name(), st.Model(), st.Address())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	s.start(ctx, true)

	for _, line := range args[1:] {
		res, err := st.Exec(ctx, line)
		if err != nil {
			return fmt.Errorf("%s: %w", line, err)
		}
		if res.Value != nil {
			fmt.Printf("%s -> %v\n", strings.TrimSpace(line), res.Value)
		}
	}
	fmt.Printf("Settings: %s\n\n", st.Settings())

	seen := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\n%d readings\n", seen)
			return nil
		case ev := <-readings:
			seen++
			fmt.Printf("[%s] %s %s\n", ev.time.Format("15:04:05.000"), ev.instrument, ev.text)
			if measureCount > 0 && seen >= measureCount {
				return nil
			}
		}
	}
}
