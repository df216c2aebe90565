// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hp3457

import "github.com/Thermoquad/benchtop/pkg/instrument"

var voltRanges = []instrument.Range{
	{Max: 0.03, Unit: "V"},
	{Max: 0.3, Unit: "V"},
	{Max: 3, Unit: "V"},
	{Max: 30, Unit: "V"},
	{Max: 300, Unit: "V"},
}

var ohmRanges = []instrument.Range{
	{Max: 30, Unit: "OHM"},
	{Max: 300, Unit: "OHM"},
	{Max: 3e3, Unit: "OHM"},
	{Max: 30e3, Unit: "OHM"},
	{Max: 300e3, Unit: "OHM"},
	{Max: 3e6, Unit: "OHM"},
	{Max: 30e6, Unit: "OHM"},
	{Max: 3e9, Unit: "OHM"},
}

// Ranges is the range table of the HP 3457A. FREQ and PER range the input
// voltage, not the reading.
var Ranges = instrument.RangeTable{
	DCV:   voltRanges,
	ACV:   voltRanges,
	ACDCV: voltRanges,
	OHM:   ohmRanges,
	OHMF:  ohmRanges,
	DCI: {
		{Max: 300e-6, Unit: "A"},
		{Max: 3e-3, Unit: "A"},
		{Max: 30e-3, Unit: "A"},
		{Max: 300e-3, Unit: "A"},
		{Max: 1, Unit: "A"},
	},
	ACI: {
		{Max: 30e-3, Unit: "A"},
		{Max: 300e-3, Unit: "A"},
		{Max: 1, Unit: "A"},
	},
	ACDCI: {
		{Max: 30e-3, Unit: "A"},
		{Max: 300e-3, Unit: "A"},
		{Max: 1, Unit: "A"},
	},
	FREQ: voltRanges,
	PER:  voltRanges,
}
