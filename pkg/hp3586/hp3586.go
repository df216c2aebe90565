// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hp3586 is the command vocabulary of the HP 3586 selective level meter
package hp3586

import (
	"github.com/Thermoquad/benchtop/pkg/instrument"
)

// Model is the identification string of the level meter
const Model = "HP3586"

// Profile returns the engine profile of the level meter. The meter has no
// auxiliary error register.
func Profile() instrument.Profile[Settings] {
	return instrument.Profile[Settings]{
		Model:       Model,
		Table:       Table,
		Status:      instrument.StatusProtocol{ErrorQuery: "ERR?;"},
		ResetOpcode: OpReset,
		CountQuery:  "MCOUNT?;",
		ScaleQuery:  "ISCALE?;",
		TextWidth:   12,
		MaxStored:   1000,
	}
}

// New creates an engine for a level meter on bus
func New(bus instrument.Bus, observer instrument.Observer[Settings], opts ...instrument.Option) *instrument.Engine[Settings] {
	return instrument.NewEngine[Settings](bus, Profile(), observer, opts...)
}
