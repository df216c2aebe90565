// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Thermoquad/benchtop/pkg/instrument/instrumenttest"
	"github.com/sirupsen/logrus"
)

// ============================================================
// Test instrument
// ============================================================

type meterSettings struct {
	function Function
	rangeMax float64
	auto     bool
	digits   int
	format   OutputFormat
	trigger  TriggerMode
	memory   MemoryMode
	scale    float64
}

func meterDefaults() meterSettings {
	return meterSettings{function: "DCV", rangeMax: 300, auto: true, digits: 6, scale: 1}
}

func (s meterSettings) Function() Function   { return s.function }
func (s meterSettings) Digits() int          { return s.digits }
func (s meterSettings) AutoRange() bool      { return s.auto }
func (s meterSettings) Format() OutputFormat { return s.format }
func (s meterSettings) Trigger() TriggerMode { return s.trigger }
func (s meterSettings) Memory() MemoryMode   { return s.memory }
func (s meterSettings) Scale() float64       { return s.scale }

func (s meterSettings) Unit() string {
	if strings.HasSuffix(string(s.function), "I") {
		return "A"
	}
	return "V"
}

func (s meterSettings) String() string {
	return fmt.Sprintf("%s %g %s", s.function, s.rangeMax, s.format)
}

var meterTable = NewTable("TEST",
	Handler[meterSettings]{
		Opcode: "RESET",
		Render: func(meterSettings, Args) []Step { return []Step{Write("RESET;")} },
		Derive: func(meterSettings, Args, interface{}) meterSettings { return meterDefaults() },
	},
	Handler[meterSettings]{
		Opcode:        "FUNC",
		NeedsSettings: true,
		Params:        []Param{{Name: "function", Kind: ParamEnum, Required: true, Choices: []string{"DCV", "ACV", "ACI"}}},
		Render: func(_ meterSettings, a Args) []Step {
			fn, _ := a.String("function")
			return []Step{Write(fn + ";")}
		},
		Derive: func(cur meterSettings, a Args, _ interface{}) meterSettings {
			fn, _ := a.String("function")
			cur.function = Function(fn)
			cur.auto = true
			return cur
		},
	},
	Handler[meterSettings]{
		Opcode:        "RANGE",
		NeedsSettings: true,
		Params:        []Param{{Name: "max", Kind: ParamFloat, Required: true, Min: 0.03, Max: 300}},
		Render: func(_ meterSettings, a Args) []Step {
			v, _ := a.Float("max")
			return []Step{Write("RANGE " + FormatValue(v) + ";"), Query("RANGE?;")}
		},
		Parse: ParseFloatReply,
		Derive: func(cur meterSettings, _ Args, v interface{}) meterSettings {
			cur.rangeMax = v.(float64)
			cur.auto = false
			return cur
		},
	},
	Handler[meterSettings]{
		Opcode:        "TRIG",
		NeedsSettings: true,
		Params:        []Param{{Name: "mode", Kind: ParamEnum, Required: true, Choices: []string{"AUTO", "HOLD", "SGL"}}},
		Render: func(_ meterSettings, a Args) []Step {
			m, _ := a.String("mode")
			return []Step{Write("TRIG " + m + ";")}
		},
		Derive: func(cur meterSettings, a Args, _ interface{}) meterSettings {
			m, _ := a.String("mode")
			cur.trigger, _ = ParseTriggerMode(m)
			return cur
		},
	},
	Handler[meterSettings]{
		Opcode:        "MEM",
		NeedsSettings: true,
		Params:        []Param{{Name: "mode", Kind: ParamEnum, Required: true, Choices: []string{"OFF", "FIFO", "LIFO", "CONT"}}},
		Render: func(_ meterSettings, a Args) []Step {
			m, _ := a.String("mode")
			return []Step{Write("MEM " + m + ";")}
		},
		Derive: func(cur meterSettings, a Args, _ interface{}) meterSettings {
			m, _ := a.String("mode")
			cur.memory, _ = ParseMemoryMode(m)
			return cur
		},
	},
	Handler[meterSettings]{
		Opcode:        "OFORMAT",
		NeedsSettings: true,
		Params:        []Param{{Name: "format", Kind: ParamEnum, Required: true, Choices: []string{"ASCII", "SINT", "DINT", "SREAL"}}},
		Render: func(_ meterSettings, a Args) []Step {
			f, _ := a.String("format")
			return []Step{Write("OFORMAT " + f + ";")}
		},
		Derive: func(cur meterSettings, a Args, _ interface{}) meterSettings {
			f, _ := a.String("format")
			cur.format, _ = ParseOutputFormat(f)
			return cur
		},
	},
	Handler[meterSettings]{
		Opcode: "ID",
		Render: func(meterSettings, Args) []Step { return []Step{Query("ID?;")} },
		Parse:  ParseTextReply,
	},
	Handler[meterSettings]{
		Opcode:        "AUTOCAL",
		NeedsSettings: true,
		Check: func(cur meterSettings, _ Args) error {
			if cur.trigger == TriggerHold {
				return errors.New("cannot calibrate while held")
			}
			return nil
		},
		Render: func(meterSettings, Args) []Step { return []Step{Write("ACAL;")} },
	},
)

var meterProfile = Profile[meterSettings]{
	Model: "TEST",
	Table: meterTable,
	Status: StatusProtocol{
		ErrorQuery: "ERR?;",
		AuxQuery:   "AUXERR?;",
		IsHardware: func(code uint16) bool { return code&1 != 0 },
	},
	ResetOpcode: "RESET",
	CountQuery:  "MCOUNT?;",
	ScaleQuery:  "ISCALE?;",
	TextWidth:   15,
}

// ============================================================
// Observer
// ============================================================

type recorder struct {
	mu       sync.Mutex
	settings []meterSettings
	statuses []Status
	readings []Reading[meterSettings]
}

func (r *recorder) OnSettingsChanged(s meterSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = append(r.settings, s)
}

func (r *recorder) OnStatusChanged(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *recorder) OnReading(rd Reading[meterSettings]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, rd)
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestEngine(t *testing.T, bus Bus) (*Engine[meterSettings], *recorder) {
	t.Helper()
	rec := &recorder{}
	e := NewEngine[meterSettings](bus, meterProfile, rec, WithName(t.Name()), WithLogger(quietLogger()))
	return e, rec
}

// establish runs RESET and clears the call log
func establish(t *testing.T, e *Engine[meterSettings], bus *instrumenttest.Bus) {
	t.Helper()
	if _, err := e.Submit(context.Background(), NewCommand("RESET", nil)); err != nil {
		t.Fatalf("RESET failed: %v", err)
	}
	bus.ResetCalls()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
