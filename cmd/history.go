// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/Thermoquad/benchtop/pkg/archive"
	"github.com/Thermoquad/benchtop/pkg/instrument"
	"github.com/spf13/cobra"
)

var (
	historyCapture string
	historySQLite  string
	historyLimit   int
	historySummary bool
)

var historyCmd = &cobra.Command{
	Use:   "history [instrument ...]",
	Short: "Display archived readings in human-readable format",
	Long: `Print readings archived by measure or monitor.

Readings are read from a CBOR capture file (--capture) or from the SQLite
archive (--sqlite). Without either flag the archive named in benchtop.toml is
used, preferring SQLite. The SQLite archive needs at least one instrument
name; a capture file lists every instrument unless names are given.

Each reading is shown with its timestamp, value, settings and the status byte
that was current when it was taken. Use --summary for per-instrument counts
and value ranges only.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyCapture, "capture", "", "CBOR capture file to read")
	historyCmd.Flags().StringVar(&historySQLite, "sqlite", "", "SQLite archive to read")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Most recent readings per instrument (SQLite only)")
	historyCmd.Flags().BoolVar(&historySummary, "summary", false, "Only print the per-instrument summary")
}

func runHistory(cmd *cobra.Command, args []string) error {
	capturePath, sqlitePath := historyCapture, historySQLite
	if capturePath == "" && sqlitePath == "" {
		sqlitePath = cfg.Archive.SQLite
		if sqlitePath == "" {
			capturePath = cfg.Archive.Capture
		}
	}

	var (
		records []archive.Record
		source  string
		err     error
	)
	switch {
	case sqlitePath != "":
		source = sqlitePath
		records, err = historyFromSQLite(cmd.Context(), sqlitePath, args)
	case capturePath != "":
		source = capturePath
		records, err = historyFromCapture(capturePath, args)
	default:
		return fmt.Errorf("no archive configured; use --capture or --sqlite")
	}
	if err != nil {
		return err
	}

	fmt.Printf("Benchtop - Reading History\n")
	fmt.Printf("Source: %s\n", source)
	fmt.Printf("Records: %d\n\n", len(records))

	if !historySummary {
		for _, rec := range records {
			fmt.Print(formatRecord(rec))
		}
		fmt.Println()
	}
	fmt.Print(summarizeRecords(records))
	return nil
}

func historyFromSQLite(ctx context.Context, path string, names []string) ([]archive.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(names) == 0 {
		for _, inst := range cfg.Instruments {
			names = append(names, inst.Name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("name an instrument to read from %s", path)
	}

	db, err := archive.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var out []archive.Record
	for _, name := range names {
		recs, err := db.Recent(ctx, name, historyLimit)
		if err != nil {
			return nil, err
		}
		// Recent is newest first
		for i := len(recs) - 1; i >= 0; i-- {
			out = append(out, recs[i])
		}
	}
	return out, nil
}

func historyFromCapture(path string, names []string) ([]archive.Record, error) {
	records, err := archive.ReadCapture(path)
	if err != nil {
		// keep what decoded before a truncated tail
		if len(records) == 0 {
			return nil, err
		}
		log.WithError(err).Warn("capture ends with a damaged record")
	}
	if len(names) == 0 {
		return records, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	out := records[:0]
	for _, rec := range records {
		if wanted[rec.Instrument] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// formatRecord renders one archived reading on a single line
func formatRecord(rec archive.Record) string {
	value := strconv.FormatFloat(rec.Value, 'G', rec.Digits, 64) + " " + rec.Unit
	if rec.Overflow {
		value += " OVLD"
	}
	if rec.Error {
		value += " ERR"
		if rec.Message != "" {
			value += " (" + rec.Message + ")"
		}
	}
	return fmt.Sprintf("[%s] %-8s %-24s status %s  %s\n",
		rec.Time.Format("2006-01-02 15:04:05.000"),
		rec.Instrument,
		value,
		instrument.DecodeStatus(rec.Status),
		rec.Settings)
}

type recordSummary struct {
	count    int
	errors   int
	overflow int
	min, max float64
	sum      float64
	unit     string
}

// summarizeRecords returns per-instrument counts and value ranges
func summarizeRecords(records []archive.Record) string {
	byName := make(map[string]*recordSummary)
	for _, rec := range records {
		s, ok := byName[rec.Instrument]
		if !ok {
			s = &recordSummary{min: math.Inf(1), max: math.Inf(-1)}
			byName[rec.Instrument] = s
		}
		s.count++
		if rec.Error {
			s.errors++
		}
		if rec.Overflow {
			s.overflow++
			continue
		}
		s.unit = rec.Unit
		s.sum += rec.Value
		s.min = math.Min(s.min, rec.Value)
		s.max = math.Max(s.max, rec.Value)
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	out := "=== Summary ===\n"
	if len(names) == 0 {
		return out + "No readings\n"
	}
	for _, n := range names {
		s := byName[n]
		out += fmt.Sprintf("%s: %d readings, %d errors, %d overloads\n", n, s.count, s.errors, s.overflow)
		if valid := s.count - s.overflow; valid > 0 {
			out += fmt.Sprintf("  min %g %s, max %g %s, mean %g %s\n",
				s.min, s.unit, s.max, s.unit, s.sum/float64(valid), s.unit)
		}
	}
	return out
}
