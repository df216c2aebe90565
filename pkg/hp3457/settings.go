// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hp3457

import (
	"fmt"

	"github.com/Thermoquad/benchtop/pkg/instrument"
)

// Measurement functions
const (
	DCV   instrument.Function = "DCV"
	ACV   instrument.Function = "ACV"
	ACDCV instrument.Function = "ACDCV"
	OHM   instrument.Function = "OHM"
	OHMF  instrument.Function = "OHMF"
	DCI   instrument.Function = "DCI"
	ACI   instrument.Function = "ACI"
	ACDCI instrument.Function = "ACDCI"
	FREQ  instrument.Function = "FREQ"
	PER   instrument.Function = "PER"
)

// Functions lists every measurement function in front panel order
var Functions = []instrument.Function{DCV, ACV, ACDCV, OHM, OHMF, DCI, ACI, ACDCI, FREQ, PER}

var units = map[instrument.Function]string{
	DCV:   "V",
	ACV:   "V",
	ACDCV: "V",
	OHM:   "OHM",
	OHMF:  "OHM",
	DCI:   "A",
	ACI:   "A",
	ACDCI: "A",
	FREQ:  "Hz",
	PER:   "s",
}

// Settings is an immutable snapshot of the multimeter configuration
type Settings struct {
	function  instrument.Function
	rangeMax  float64
	autoRange bool
	digits    int
	nplc      float64
	trigger   instrument.TriggerMode
	memory    instrument.MemoryMode
	format    instrument.OutputFormat
	scale     float64
	calNumber int
	autoZero  bool
	fixedZ    bool
	beep      bool
	readings  int
}

// Defaults returns the state the meter is in after RESET
func Defaults() Settings {
	return Settings{
		function:  DCV,
		rangeMax:  300,
		autoRange: true,
		digits:    5,
		nplc:      10,
		trigger:   instrument.TriggerAuto,
		memory:    instrument.MemoryOff,
		format:    instrument.FormatText,
		scale:     1,
		autoZero:  true,
		beep:      true,
		readings:  1,
	}
}

// Preset returns the state after PRESET, the remote-friendly variant of RESET
// that holds readings for a bus trigger.
func Preset() Settings {
	return Defaults().
		WithTrigger(instrument.TriggerSynchronous).
		WithDigits(6).
		WithNPLC(1)
}

func (s Settings) Function() instrument.Function   { return s.function }
func (s Settings) Unit() string                    { return units[s.function] }
func (s Settings) Digits() int                     { return s.digits }
func (s Settings) AutoRange() bool                 { return s.autoRange }
func (s Settings) Format() instrument.OutputFormat { return s.format }
func (s Settings) Trigger() instrument.TriggerMode { return s.trigger }
func (s Settings) Memory() instrument.MemoryMode   { return s.memory }
func (s Settings) Scale() float64                  { return s.scale }

// Range returns the full-scale maximum of the active range
func (s Settings) Range() float64 { return s.rangeMax }

// NPLC returns the integration time in power line cycles
func (s Settings) NPLC() float64 { return s.nplc }

// CalNumber returns the calibration counter read back from the meter
func (s Settings) CalNumber() int { return s.calNumber }

// AutoZero reports whether autozero is on
func (s Settings) AutoZero() bool { return s.autoZero }

// FixedZ reports whether the 10 MOhm fixed input impedance is selected
func (s Settings) FixedZ() bool { return s.fixedZ }

// Beep reports whether the beeper is enabled
func (s Settings) Beep() bool { return s.beep }

// Readings returns the number of readings per trigger
func (s Settings) Readings() int { return s.readings }

// WithFunction selects a measurement function. The meter switches to autorange
// on every function change.
func (s Settings) WithFunction(fn instrument.Function) Settings {
	s.function = fn
	s.autoRange = true
	if top, ok := Ranges.Largest(fn); ok {
		s.rangeMax = top.Max
	}
	return s
}

// WithRange fixes the range and leaves autorange
func (s Settings) WithRange(max float64) Settings {
	s.rangeMax = max
	s.autoRange = false
	return s
}

// WithReportedRange records the range the meter reports without changing the
// autorange state
func (s Settings) WithReportedRange(max float64) Settings {
	s.rangeMax = max
	return s
}

func (s Settings) WithAutoRange(on bool) Settings {
	s.autoRange = on
	return s
}

func (s Settings) WithDigits(n int) Settings {
	s.digits = n
	return s
}

func (s Settings) WithNPLC(v float64) Settings {
	s.nplc = v
	return s
}

func (s Settings) WithTrigger(t instrument.TriggerMode) Settings {
	s.trigger = t
	return s
}

func (s Settings) WithMemory(m instrument.MemoryMode) Settings {
	s.memory = m
	return s
}

func (s Settings) WithFormat(f instrument.OutputFormat) Settings {
	s.format = f
	return s
}

func (s Settings) WithScale(v float64) Settings {
	s.scale = v
	return s
}

func (s Settings) WithCalNumber(n int) Settings {
	s.calNumber = n
	return s
}

func (s Settings) WithAutoZero(on bool) Settings {
	s.autoZero = on
	return s
}

func (s Settings) WithFixedZ(on bool) Settings {
	s.fixedZ = on
	return s
}

func (s Settings) WithBeep(on bool) Settings {
	s.beep = on
	return s
}

func (s Settings) WithReadings(n int) Settings {
	s.readings = n
	return s
}

func (s Settings) String() string {
	rng := fmt.Sprintf("%g %s", s.rangeMax, s.Unit())
	if s.autoRange {
		rng = "AUTO"
	}
	return fmt.Sprintf("%s %s NDIG %d NPLC %g TRIG %s MEM %s %s",
		s.function, rng, s.digits, s.nplc, s.trigger, s.memory, s.format)
}
