// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package instrument implements the bus-serialized transaction engine used to
// drive GPIB bench instruments.
//
// An Engine owns the single bus token. Every write, read, serial poll and device
// clear goes through engine methods, whether the exchange comes from
// initialization, an explicit Command or a service request. Commands are looked up
// in an instrument-specific Table, rendered to mnemonic wire text, executed in
// order and folded back into an immutable settings snapshot.
package instrument

import "time"

// Default engine limits
const (
	DefaultTimeout    = 5 * time.Second
	DefaultQueueDepth = 32
	DefaultMaxStored  = 16383 // readings a profile without MaxStored may report
)

// Function names a measurement mode (DCV, ACI, SLVL, ...). The value is the
// instrument mnemonic.
type Function string

// OutputFormat selects how the instrument encodes readings on the bus
type OutputFormat int

// Output format values
const (
	FormatText OutputFormat = iota
	FormatShortInt
	FormatLongInt
	FormatShortReal
)

var formatNames = map[OutputFormat]string{
	FormatText:      "ASCII",
	FormatShortInt:  "SINT",
	FormatLongInt:   "DINT",
	FormatShortReal: "SREAL",
}

func (f OutputFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "UNKNOWN"
}

// Width returns the fixed byte width of binary formats, 0 for text
func (f OutputFormat) Width() int {
	switch f {
	case FormatShortInt:
		return 2
	case FormatLongInt, FormatShortReal:
		return 4
	default:
		return 0
	}
}

// Scaled reports whether raw values must be multiplied by the integer scale factor
func (f OutputFormat) Scaled() bool {
	return f == FormatShortInt || f == FormatLongInt
}

// ParseOutputFormat maps a mnemonic back to its OutputFormat
func ParseOutputFormat(s string) (OutputFormat, bool) {
	for f, name := range formatNames {
		if name == s {
			return f, true
		}
	}
	return 0, false
}

// TriggerMode is the trigger/sample configuration of an instrument
type TriggerMode int

// Trigger mode values
const (
	TriggerAuto TriggerMode = iota
	TriggerExternal
	TriggerSingle
	TriggerHold
	TriggerSynchronous
	TriggerTimer
)

var triggerNames = map[TriggerMode]string{
	TriggerAuto:        "AUTO",
	TriggerExternal:    "EXT",
	TriggerSingle:      "SGL",
	TriggerHold:        "HOLD",
	TriggerSynchronous: "SYN",
	TriggerTimer:       "TIMER",
}

func (t TriggerMode) String() string {
	if name, ok := triggerNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseTriggerMode maps a mnemonic back to its TriggerMode
func ParseTriggerMode(s string) (TriggerMode, bool) {
	for t, name := range triggerNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// MemoryMode is the reading-memory mode of an instrument
type MemoryMode int

// Reading memory values
const (
	MemoryOff MemoryMode = iota
	MemoryFIFO
	MemoryLIFO
	MemoryContinuous
)

var memoryNames = map[MemoryMode]string{
	MemoryOff:        "OFF",
	MemoryFIFO:       "FIFO",
	MemoryLIFO:       "LIFO",
	MemoryContinuous: "CONT",
}

func (m MemoryMode) String() string {
	if name, ok := memoryNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

// Buffered reports whether readings accumulate in instrument memory
func (m MemoryMode) Buffered() bool {
	return m != MemoryOff
}

// ParseMemoryMode maps a mnemonic back to its MemoryMode
func ParseMemoryMode(s string) (MemoryMode, bool) {
	for m, name := range memoryNames {
		if name == s {
			return m, true
		}
	}
	return 0, false
}

// Settings is the constraint satisfied by every instrument snapshot type.
//
// Implementations are comparable value types whose fields are only reachable
// through accessors, so a published snapshot can never change underneath a
// reader. The engine compares snapshots with == to decide whether a status
// refresh is due.
type Settings interface {
	comparable

	Function() Function
	Unit() string
	Digits() int
	AutoRange() bool
	Format() OutputFormat
	Trigger() TriggerMode
	Memory() MemoryMode
	Scale() float64
	String() string
}
