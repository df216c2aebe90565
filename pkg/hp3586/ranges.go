// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hp3586

import "github.com/Thermoquad/benchtop/pkg/instrument"

// attenuator steps; a range is the attenuation in dB, not a full-scale value
var attenuator = []instrument.Range{
	{Max: 0, Unit: "dB"},
	{Max: 10, Unit: "dB"},
	{Max: 20, Unit: "dB"},
	{Max: 30, Unit: "dB"},
	{Max: 40, Unit: "dB"},
}

// Ranges is the input attenuator table of every function
var Ranges = instrument.RangeTable{
	SLVL:  attenuator,
	WLVL:  attenuator,
	NOISE: attenuator,
	FCNT:  attenuator,
}

// Tuning limits in Hz
const (
	MinFrequency = 50.0
	MaxFrequency = 32.5e6
)

// Bandwidths are the IF filter choices in Hz
var Bandwidths = []string{"20", "400", "3100"}

// Terminations are the input impedance choices in ohms
var Terminations = []string{"50", "75", "135", "600"}
