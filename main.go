// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Benchtop - GPIB Bench Instrument Controller
//
// A CLI tool for configuring and reading an HP3457A multimeter and an HP3586
// selective level meter through a Prologix-style GPIB controller.

package main

import (
	"os"

	"github.com/Thermoquad/benchtop/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
