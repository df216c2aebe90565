// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hp3457 is the command vocabulary of the HP 3457A multimeter
package hp3457

import (
	"github.com/Thermoquad/benchtop/pkg/instrument"
)

// Model is the identification string the meter answers to ID?
const Model = "HP3457A"

// textWidth is the ASCII reading field, e.g. "+1.23456789E+00"
const textWidth = 15

// maxStored is the deepest reading memory the meter can report
const maxStored = 16383

// Profile returns the engine profile of the meter
func Profile() instrument.Profile[Settings] {
	return instrument.Profile[Settings]{
		Model: Model,
		Table: Table,
		Status: instrument.StatusProtocol{
			ErrorQuery: "ERR?;",
			AuxQuery:   "AUXERR?;",
			IsHardware: IsHardware,
		},
		ResetOpcode: OpReset,
		CountQuery:  "MCOUNT?;",
		ScaleQuery:  "ISCALE?;",
		TextWidth:   textWidth,
		MaxStored:   maxStored,
	}
}

// New creates an engine for a meter on bus
func New(bus instrument.Bus, observer instrument.Observer[Settings], opts ...instrument.Option) *instrument.Engine[Settings] {
	return instrument.NewEngine[Settings](bus, Profile(), observer, opts...)
}
