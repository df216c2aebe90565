// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
	noWatch       bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch every configured instrument",
	Long: `Monitor every instrument on the bus.

The monitor initializes each configured instrument, watches the bus for
service requests and shows:
  - Current settings of each instrument
  - Status flags with decoded error registers
  - Recent readings
  - Transaction statistics (rate, errors, dropped notifications)
  - Event log, including connection loss and reconnection

In the terminal UI, Tab switches between the instrument list and the command
line. Commands typed on the command line go to the selected instrument.

Use --tui=false for a plain text log with periodic statistics summaries.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all events (not just errors and readings)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	monitorCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch the bus for service requests")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if statsInterval < 1 {
		return fmt.Errorf("stats-interval must be at least 1 second")
	}
	if useTUI {
		return runTUIMode()
	}
	return runTextMode()
}

// eventBatcher collects session events and hands them to the TUI at a fixed
// rate. Events are dropped when the buffer is full.
type eventBatcher struct {
	events chan event
	done   chan struct{}
}

func newEventBatcher() *eventBatcher {
	return &eventBatcher{
		events: make(chan event, 256),
		done:   make(chan struct{}),
	}
}

func (b *eventBatcher) emit(ev event) {
	select {
	case b.events <- ev:
	default:
	}
}

// run sends batched events to p until stop is called
func (b *eventBatcher) run(p *tea.Program) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			var batch eventBatchMsg
		drainLoop:
			for {
				select {
				case ev := <-b.events:
					batch.events = append(batch.events, ev)
				default:
					break drainLoop
				}
			}
			if len(batch.events) > 0 {
				p.Send(batch)
			}
		}
	}
}

func (b *eventBatcher) stop() {
	close(b.done)
}

// runTUIMode runs the monitor in TUI mode
func runTUIMode() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// logrus output would tear the alternate screen
	out := log.Out
	log.SetOutput(io.Discard)
	defer log.SetOutput(out)

	batcher := newEventBatcher()
	s, err := openSession(ctx, batcher.emit)
	if err != nil {
		return err
	}
	defer s.Close()

	m := initialMonitorModel(s)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())

	go batcher.run(p)
	defer batcher.stop()

	// Initialization talks to the bus, so run it behind the UI
	go s.start(ctx, !noWatch)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runTextMode prints events as they arrive and a statistics summary every
// stats-interval seconds
func runTextMode() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	events := make(chan event, 256)
	s, err := openSession(ctx, func(ev event) {
		select {
		case events <- ev:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Benchtop - Monitor\n")
	fmt.Printf("Connection: %s\n", s.connInfo)
	for _, st := range s.stations {
		fmt.Printf("Instrument: %s (%s @ %d)\n", st.Name(), st.Model(), st.Address())
	}
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All events\n")
	} else {
		fmt.Printf("Mode: Errors and readings\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	s.start(ctx, !noWatch)

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			printStatistics(s)
			return nil

		case ev := <-events:
			printEvent(s, ev)

		case <-statsTicker.C:
			fmt.Println()
			printStatistics(s)
			fmt.Println()
		}
	}
}

// printEvent prints one session event, highlighting errors
func printEvent(s *session, ev event) {
	timestamp := ev.time.Format("15:04:05.000")
	switch ev.kind {
	case eventReading:
		if ev.isError {
			fmt.Printf("[%s] %s \033[1;31mREADING:\033[0m %s\n", timestamp, ev.instrument, ev.text)
		} else {
			fmt.Printf("[%s] %s \033[1;32mREADING:\033[0m %s\n", timestamp, ev.instrument, ev.text)
		}

	case eventStatus:
		if !ev.isError && !showAll {
			return
		}
		if !ev.isError {
			fmt.Printf("[%s] %s STATUS: %s\n", timestamp, ev.instrument, ev.text)
			return
		}
		fmt.Printf("[%s] %s \033[1;33mSTATUS:\033[0m %s\n", timestamp, ev.instrument, ev.text)
		if st, ok := s.station(ev.instrument); ok {
			for i, d := range st.DescribeStatus(ev.status) {
				fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, d)
			}
		}

	case eventSettings:
		if showAll {
			fmt.Printf("[%s] %s SETTINGS: %s\n", timestamp, ev.instrument, ev.text)
		}

	case eventConnection:
		prefix := ""
		if ev.instrument != "" {
			prefix = ev.instrument + " "
		}
		if ev.isError {
			fmt.Printf("[%s] %s\033[1;31mERROR:\033[0m %s\n", timestamp, prefix, ev.text)
		} else {
			fmt.Printf("[%s] %s%s\n", timestamp, prefix, ev.text)
		}
	}
}

func printStatistics(s *session) {
	for _, st := range s.stations {
		stats := st.Statistics()
		stats.CalculateRates()
		fmt.Printf("[%s]\n", st.Name())
		fmt.Print(stats.String())
	}
}
