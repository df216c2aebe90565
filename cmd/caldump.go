// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/Thermoquad/benchtop/pkg/config"
	"github.com/Thermoquad/benchtop/pkg/hp3457"
	"github.com/sigurn/crc16"
	"github.com/spf13/cobra"
)

var (
	calDumpOut    string
	calDumpExpect string
)

var calDumpCmd = &cobra.Command{
	Use:   "caldump [instrument]",
	Short: "Read the calibration constants of an HP3457A",
	Long: `Read the calibration constant region of an HP3457A one word at a time and
print it as a hex dump with its CRC-16/ARC checksum.

Each word is read twice over consecutive addresses and the overlapping byte
must agree, so a dump that completes is self-consistent. Without an argument
the first configured hp3457 instrument is used.

Use --out to save the raw region, and --expect to compare the checksum with
one recorded earlier (exit code 1 on mismatch).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCalDump,
}

func init() {
	rootCmd.AddCommand(calDumpCmd)
	calDumpCmd.Flags().StringVarP(&calDumpOut, "out", "o", "", "Write the raw region to this file")
	calDumpCmd.Flags().StringVar(&calDumpExpect, "expect", "", "Expected CRC-16/ARC as 4 hex digits")
}

// calibrationChecksum returns the CRC-16/ARC of a calibration region
func calibrationChecksum(data []byte) uint16 {
	table := crc16.MakeTable(crc16.CRC16_ARC)
	return crc16.Checksum(data, table)
}

func runCalDump(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	} else {
		for _, inst := range cfg.Instruments {
			if inst.Model == config.ModelHP3457 {
				name = inst.Name
				break
			}
		}
		if name == "" {
			return fmt.Errorf("no %s instrument configured", config.ModelHP3457)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := openSession(ctx, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	st, ok := s.station(name)
	if !ok {
		return fmt.Errorf("no instrument named %q", name)
	}
	if st.Model() != hp3457.Model {
		return fmt.Errorf("instrument %q is a %s, calibration dump needs an %s", name, st.Model(), hp3457.Model)
	}

	fmt.Printf("Benchtop - Calibration Dump\n")
	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Printf("Instrument: %s @ %d\n", st.Name(), st.Address())
	fmt.Printf("Region: %d bytes from address %d\n\n", hp3457.CalibrationRegion.Length, hp3457.CalibrationRegion.Base)

	res, err := st.Exec(ctx, hp3457.OpCalDump)
	if err != nil {
		return fmt.Errorf("calibration dump failed: %w", err)
	}
	data, ok := res.Value.([]byte)
	if !ok {
		return fmt.Errorf("calibration dump returned %T", res.Value)
	}

	fmt.Print(hex.Dump(data))
	sum := calibrationChecksum(data)
	fmt.Printf("\nCRC-16/ARC: %04X\n", sum)

	if calDumpOut != "" {
		if err := os.WriteFile(calDumpOut, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", calDumpOut, err)
		}
		fmt.Printf("Saved to %s\n", calDumpOut)
	}

	if calDumpExpect != "" {
		want := strings.ToUpper(strings.TrimPrefix(strings.ToLower(calDumpExpect), "0x"))
		got := fmt.Sprintf("%04X", sum)
		if got != want {
			fmt.Fprintf(os.Stderr, "CHECKSUM MISMATCH: got %s, want %s\n", got, want)
			os.Exit(1)
		}
		fmt.Printf("Checksum matches\n")
	}
	return nil
}
