// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hp3457

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/benchtop/pkg/instrument"
)

// Opcodes
const (
	OpReset   = "RESET"
	OpPreset  = "PRESET"
	OpFunc    = "FUNC"
	OpRange   = "RANGE"
	OpARange  = "ARANGE"
	OpNDig    = "NDIG"
	OpNPLC    = "NPLC"
	OpTrig    = "TRIG"
	OpMem     = "MEM"
	OpOFormat = "OFORMAT"
	OpAZero   = "AZERO"
	OpFixedZ  = "FIXEDZ"
	OpBeep    = "BEEP"
	OpNRdgs   = "NRDGS"
	OpID      = "ID"
	OpCalNum  = "CALNUM"
	OpIScale  = "ISCALE"
	OpRangeQ  = "RANGEQ"
	OpMCount  = "MCOUNT"
	OpErr     = "ERR"
	OpAuxErr  = "AUXERR"
	OpDisp    = "DISP"
	OpCalDump = "CALDUMP"
)

// CalibrationRegion is the undocumented calibration constant block, one byte
// per address starting at 64.
var CalibrationRegion = instrument.MemoryRegion{Base: 64, Length: 448, Peek: "PEEK %d;"}

// displayWidth is the number of characters on the front panel display
const displayWidth = 12

var functionNames = func() []string {
	names := make([]string, len(Functions))
	for i, fn := range Functions {
		names[i] = string(fn)
	}
	return names
}()

type handler = instrument.Handler[Settings]

// Table is the HP 3457A command table
var Table = instrument.NewTable[Settings]("HP3457A",
	handler{
		Opcode:  OpReset,
		Summary: "power-on state",
		Render:  writeOnly("RESET;"),
		Derive:  func(Settings, instrument.Args, interface{}) Settings { return Defaults() },
	},
	handler{
		Opcode:  OpPreset,
		Summary: "remote-friendly reset, trigger SYN",
		Render:  writeOnly("PRESET;"),
		Derive:  func(Settings, instrument.Args, interface{}) Settings { return Preset() },
	},
	handler{
		Opcode:        OpFunc,
		Summary:       "select measurement function, optionally with a fixed range",
		NeedsSettings: true,
		Params: []instrument.Param{
			{Name: "function", Kind: instrument.ParamEnum, Required: true, Choices: functionNames},
			{Name: "range", Kind: instrument.ParamFloat},
		},
		Check: func(_ Settings, a instrument.Args) error {
			fn, _ := a.String("function")
			if v, ok := a.Float("range"); ok {
				return checkRange(OpFunc, "range", instrument.Function(fn), v)
			}
			return nil
		},
		Render: func(_ Settings, a instrument.Args) []instrument.Step {
			fn, _ := a.String("function")
			if v, ok := a.Float("range"); ok {
				return []instrument.Step{instrument.Write(fmt.Sprintf("%s %s;", fn, instrument.FormatValue(v)))}
			}
			return []instrument.Step{instrument.Write(fn + ";")}
		},
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			fn, _ := a.String("function")
			next := cur.WithFunction(instrument.Function(fn))
			if v, ok := a.Float("range"); ok {
				r, _, _ := Ranges.Select(next.function, v)
				next = next.WithRange(r.Max)
			}
			return next
		},
	},
	handler{
		Opcode:        OpRange,
		Summary:       "fix the range for the present function",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "max", Kind: instrument.ParamFloat, Required: true}},
		Check: func(cur Settings, a instrument.Args) error {
			v, _ := a.Float("max")
			return checkRange(OpRange, "max", cur.function, v)
		},
		Render: func(cur Settings, a instrument.Args) []instrument.Step {
			v, _ := a.Float("max")
			steps := []instrument.Step{
				instrument.Write(fmt.Sprintf("RANGE %s;", instrument.FormatValue(v))),
				instrument.Query("RANGE?;"),
			}
			if cur.format.Scaled() {
				steps = append(steps, instrument.Query("ISCALE?;"))
			}
			return steps
		},
		Parse: parseConfirmation,
		Derive: func(cur Settings, _ instrument.Args, v interface{}) Settings {
			c := v.(confirmation)
			next := cur.WithRange(c.value)
			if c.scaled {
				next = next.WithScale(c.scale)
			}
			return next
		},
	},
	handler{
		Opcode:        OpARange,
		Summary:       "autorange on or off",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "on", Kind: instrument.ParamBool, Required: true}},
		Render:        boolCommand("ARANGE", "on"),
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			on, _ := a.Bool("on")
			return cur.WithAutoRange(on)
		},
	},
	handler{
		Opcode:        OpNDig,
		Summary:       "display digits",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "digits", Kind: instrument.ParamInt, Required: true, Min: 3, Max: 7}},
		Render: func(_ Settings, a instrument.Args) []instrument.Step {
			n, _ := a.Int("digits")
			return []instrument.Step{instrument.Write("NDIG " + strconv.Itoa(n) + ";")}
		},
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			n, _ := a.Int("digits")
			return cur.WithDigits(n)
		},
	},
	handler{
		Opcode:        OpNPLC,
		Summary:       "integration time in power line cycles",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "cycles", Kind: instrument.ParamFloat, Required: true, Min: 0.0005, Max: 100}},
		Render: func(_ Settings, a instrument.Args) []instrument.Step {
			v, _ := a.Float("cycles")
			return []instrument.Step{
				instrument.Write("NPLC " + instrument.FormatValue(v) + ";"),
				instrument.Query("NPLC?;"),
			}
		},
		Parse: instrument.ParseFloatReply,
		Derive: func(cur Settings, _ instrument.Args, v interface{}) Settings {
			return cur.WithNPLC(v.(float64))
		},
	},
	handler{
		Opcode:        OpTrig,
		Summary:       "trigger mode",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "mode", Kind: instrument.ParamEnum, Required: true, Choices: []string{"AUTO", "EXT", "SGL", "HOLD", "SYN"}}},
		Render:        enumCommand("TRIG", "mode"),
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			m, _ := a.String("mode")
			t, _ := instrument.ParseTriggerMode(m)
			return cur.WithTrigger(t)
		},
	},
	handler{
		Opcode:        OpMem,
		Summary:       "reading memory mode",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "mode", Kind: instrument.ParamEnum, Required: true, Choices: []string{"OFF", "FIFO", "LIFO", "CONT"}}},
		Render:        enumCommand("MEM", "mode"),
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			m, _ := a.String("mode")
			mem, _ := instrument.ParseMemoryMode(m)
			return cur.WithMemory(mem)
		},
	},
	handler{
		Opcode:        OpOFormat,
		Summary:       "output format for readings",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "format", Kind: instrument.ParamEnum, Required: true, Choices: []string{"ASCII", "SINT", "DINT", "SREAL"}}},
		Render: func(_ Settings, a instrument.Args) []instrument.Step {
			f, _ := a.String("format")
			steps := []instrument.Step{instrument.Write("OFORMAT " + f + ";")}
			if format, _ := instrument.ParseOutputFormat(f); format.Scaled() {
				steps = append(steps, instrument.Query("ISCALE?;"))
			}
			return steps
		},
		Parse: func(replies [][]byte) (interface{}, error) {
			if len(replies) == 0 {
				return nil, nil
			}
			return instrument.ParseFloatReply(replies)
		},
		Derive: func(cur Settings, a instrument.Args, v interface{}) Settings {
			f, _ := a.String("format")
			format, _ := instrument.ParseOutputFormat(f)
			next := cur.WithFormat(format)
			if scale, ok := v.(float64); ok {
				next = next.WithScale(scale)
			}
			return next
		},
	},
	handler{
		Opcode:        OpAZero,
		Summary:       "autozero",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "on", Kind: instrument.ParamBool, Required: true}},
		Render:        boolCommand("AZERO", "on"),
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			on, _ := a.Bool("on")
			return cur.WithAutoZero(on)
		},
	},
	handler{
		Opcode:        OpFixedZ,
		Summary:       "fixed 10 MOhm input impedance",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "on", Kind: instrument.ParamBool, Required: true}},
		Render:        boolCommand("FIXEDZ", "on"),
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			on, _ := a.Bool("on")
			return cur.WithFixedZ(on)
		},
	},
	handler{
		Opcode:        OpBeep,
		Summary:       "beeper",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "on", Kind: instrument.ParamBool, Required: true}},
		Render:        boolCommand("BEEP", "on"),
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			on, _ := a.Bool("on")
			return cur.WithBeep(on)
		},
	},
	handler{
		Opcode:        OpNRdgs,
		Summary:       "readings per trigger",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "count", Kind: instrument.ParamInt, Required: true, Min: 1, Max: maxStored}},
		Render: func(_ Settings, a instrument.Args) []instrument.Step {
			n, _ := a.Int("count")
			return []instrument.Step{instrument.Write("NRDGS " + strconv.Itoa(n) + ";")}
		},
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			n, _ := a.Int("count")
			return cur.WithReadings(n)
		},
	},
	handler{
		Opcode:  OpID,
		Summary: "model identification",
		Render:  queryOnly("ID?;"),
		Parse:   instrument.ParseTextReply,
	},
	handler{
		Opcode:        OpCalNum,
		Summary:       "calibration counter",
		NeedsSettings: true,
		Render:        queryOnly("CALNUM?;"),
		Parse:         instrument.ParseIntReply,
		Derive: func(cur Settings, _ instrument.Args, v interface{}) Settings {
			return cur.WithCalNumber(v.(int))
		},
	},
	handler{
		Opcode:        OpIScale,
		Summary:       "integer format scale factor",
		NeedsSettings: true,
		Render:        queryOnly("ISCALE?;"),
		Parse:         instrument.ParseFloatReply,
		Derive: func(cur Settings, _ instrument.Args, v interface{}) Settings {
			return cur.WithScale(v.(float64))
		},
	},
	handler{
		Opcode:        OpRangeQ,
		Summary:       "read back the present range",
		NeedsSettings: true,
		Render:        queryOnly("RANGE?;"),
		Parse:         instrument.ParseFloatReply,
		Derive: func(cur Settings, _ instrument.Args, v interface{}) Settings {
			return cur.WithReportedRange(v.(float64))
		},
	},
	handler{
		Opcode:  OpMCount,
		Summary: "readings stored in memory",
		Render:  queryOnly("MCOUNT?;"),
		Parse:   instrument.ParseIntReply,
	},
	handler{
		Opcode:  OpErr,
		Summary: "read and clear the error register",
		Render:  queryOnly("ERR?;"),
		Parse:   instrument.ParseIntReply,
	},
	handler{
		Opcode:  OpAuxErr,
		Summary: "read and clear the auxiliary error register",
		Render:  queryOnly("AUXERR?;"),
		Parse:   instrument.ParseIntReply,
	},
	handler{
		Opcode:  OpDisp,
		Summary: "show a message on the display, empty restores normal display",
		Params:  []instrument.Param{{Name: "text", Kind: instrument.ParamString}},
		Check: func(_ Settings, a instrument.Args) error {
			text, _ := a.String("text")
			if len(text) > displayWidth || strings.ContainsAny(text, "\";") {
				return &instrument.ValidationError{
					Opcode:  OpDisp,
					Param:   "text",
					Value:   text,
					Message: fmt.Sprintf("at most %d characters without quotes or semicolons", displayWidth),
				}
			}
			return nil
		},
		Render: func(_ Settings, a instrument.Args) []instrument.Step {
			text, _ := a.String("text")
			if text == "" {
				return []instrument.Step{instrument.Write("DISP ON;")}
			}
			return []instrument.Step{instrument.Write(fmt.Sprintf("DISP MSG,\"%s\";", strings.ToUpper(text)))}
		},
	},
	handler{
		Opcode:  OpCalDump,
		Summary: "read the calibration constant region",
		Render: func(Settings, instrument.Args) []instrument.Step {
			return CalibrationRegion.Steps()
		},
		Parse: func(replies [][]byte) (interface{}, error) {
			return CalibrationRegion.Decode(replies)
		},
	},
)

// checkRange rejects a range the function cannot select. opcode and param name
// the argument that carried v.
func checkRange(opcode, param string, fn instrument.Function, v float64) error {
	if _, _, ok := Ranges.Select(fn, v); !ok {
		top, _ := Ranges.Largest(fn)
		return &instrument.ValidationError{
			Opcode:  opcode,
			Param:   param,
			Value:   v,
			Message: fmt.Sprintf("%s has no range for %g (largest %s)", fn, v, top),
		}
	}
	return nil
}

// confirmation is a value read back after a setting, plus the scale factor
// when the output format is an integer one
type confirmation struct {
	value  float64
	scale  float64
	scaled bool
}

func parseConfirmation(replies [][]byte) (interface{}, error) {
	if len(replies) == 0 || len(replies) > 2 {
		return nil, instrument.NewProtocolError("confirmation", nil, nil, "expected 1 or 2 replies, got %d", len(replies))
	}
	v, err := instrument.ParseFloatReply(replies[:1])
	if err != nil {
		return nil, err
	}
	c := confirmation{value: v.(float64)}
	if len(replies) == 2 {
		s, err := instrument.ParseFloatReply(replies[1:])
		if err != nil {
			return nil, err
		}
		c.scale, c.scaled = s.(float64), true
	}
	return c, nil
}

func writeOnly(wire string) func(Settings, instrument.Args) []instrument.Step {
	return func(Settings, instrument.Args) []instrument.Step {
		return []instrument.Step{instrument.Write(wire)}
	}
}

func queryOnly(wire string) func(Settings, instrument.Args) []instrument.Step {
	return func(Settings, instrument.Args) []instrument.Step {
		return []instrument.Step{instrument.Query(wire)}
	}
}

func boolCommand(mnemonic, param string) func(Settings, instrument.Args) []instrument.Step {
	return func(_ Settings, a instrument.Args) []instrument.Step {
		on, _ := a.Bool(param)
		return []instrument.Step{instrument.Write(mnemonic + " " + instrument.OnOff(on) + ";")}
	}
}

func enumCommand(mnemonic, param string) func(Settings, instrument.Args) []instrument.Step {
	return func(_ Settings, a instrument.Args) []instrument.Step {
		v, _ := a.String(param)
		return []instrument.Step{instrument.Write(mnemonic + " " + v + ";")}
	}
}
