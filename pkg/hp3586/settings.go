// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hp3586

import (
	"fmt"

	"github.com/Thermoquad/benchtop/pkg/instrument"
)

// Measurement functions
const (
	SLVL  instrument.Function = "SLVL"  // selective level
	WLVL  instrument.Function = "WLVL"  // wideband level
	NOISE instrument.Function = "NOISE" // noise density in the selected bandwidth
	FCNT  instrument.Function = "FCNT"  // frequency count of the tuned signal
)

// Functions lists every measurement function
var Functions = []instrument.Function{SLVL, WLVL, NOISE, FCNT}

var units = map[instrument.Function]string{
	SLVL:  "dBm",
	WLVL:  "dBm",
	NOISE: "dBm/Hz",
	FCNT:  "Hz",
}

// Settings is an immutable snapshot of the level meter configuration
type Settings struct {
	function    instrument.Function
	frequency   float64
	bandwidth   int
	termination int
	attenuation float64
	autoRange   bool
	average     bool
	digits      int
	trigger     instrument.TriggerMode
	memory      instrument.MemoryMode
	format      instrument.OutputFormat
	scale       float64
	calNumber   int
}

// Defaults returns the state after RESET
func Defaults() Settings {
	return Settings{
		function:    SLVL,
		frequency:   1e3,
		bandwidth:   3100,
		termination: 600,
		attenuation: 40,
		autoRange:   true,
		digits:      4,
		trigger:     instrument.TriggerAuto,
		memory:      instrument.MemoryOff,
		format:      instrument.FormatText,
		scale:       1,
	}
}

func (s Settings) Function() instrument.Function   { return s.function }
func (s Settings) Unit() string                    { return units[s.function] }
func (s Settings) Digits() int                     { return s.digits }
func (s Settings) AutoRange() bool                 { return s.autoRange }
func (s Settings) Format() instrument.OutputFormat { return s.format }
func (s Settings) Trigger() instrument.TriggerMode { return s.trigger }
func (s Settings) Memory() instrument.MemoryMode   { return s.memory }
func (s Settings) Scale() float64                  { return s.scale }

// Frequency returns the tuned frequency in Hz
func (s Settings) Frequency() float64 { return s.frequency }

// Bandwidth returns the IF bandwidth in Hz
func (s Settings) Bandwidth() int { return s.bandwidth }

// Termination returns the input impedance in ohms
func (s Settings) Termination() int { return s.termination }

// Attenuation returns the input attenuator setting in dB
func (s Settings) Attenuation() float64 { return s.attenuation }

// Average reports whether reading averaging is on
func (s Settings) Average() bool { return s.average }

// CalNumber returns the calibration counter
func (s Settings) CalNumber() int { return s.calNumber }

// WithFunction selects a measurement function and returns to autorange
func (s Settings) WithFunction(fn instrument.Function) Settings {
	s.function = fn
	s.autoRange = true
	return s
}

func (s Settings) WithFrequency(hz float64) Settings {
	s.frequency = hz
	return s
}

func (s Settings) WithBandwidth(hz int) Settings {
	s.bandwidth = hz
	return s
}

func (s Settings) WithTermination(ohms int) Settings {
	s.termination = ohms
	return s
}

// WithAttenuation fixes the attenuator and leaves autorange
func (s Settings) WithAttenuation(db float64) Settings {
	s.attenuation = db
	s.autoRange = false
	return s
}

func (s Settings) WithAutoRange(on bool) Settings {
	s.autoRange = on
	return s
}

func (s Settings) WithAverage(on bool) Settings {
	s.average = on
	return s
}

func (s Settings) WithDigits(n int) Settings {
	s.digits = n
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

func (s Settings) String() string {
	atten := fmt.Sprintf("%g dB", s.attenuation)
	if s.autoRange {
		atten = "AUTO"
	}
	return fmt.Sprintf("%s %g Hz BW %d TERM %d ATTN %s TRIG %s MEM %s %s",
		s.function, s.frequency, s.bandwidth, s.termination, atten, s.trigger, s.memory, s.format)
}
