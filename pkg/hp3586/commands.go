// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hp3586

import (
	"fmt"
	"strconv"

	"github.com/Thermoquad/benchtop/pkg/instrument"
)

// Opcodes
const (
	OpReset   = "RESET"
	OpFunc    = "FUNC"
	OpFreq    = "FREQ"
	OpBW      = "BW"
	OpTerm    = "TERM"
	OpRange   = "RANGE"
	OpARange  = "ARANGE"
	OpAvg     = "AVG"
	OpNDig    = "NDIG"
	OpTrig    = "TRIG"
	OpMem     = "MEM"
	OpOFormat = "OFORMAT"
	OpID      = "ID"
	OpCalNum  = "CALNUM"
	OpIScale  = "ISCALE"
	OpMCount  = "MCOUNT"
	OpErr     = "ERR"
)

var functionNames = func() []string {
	names := make([]string, len(Functions))
	for i, fn := range Functions {
		names[i] = string(fn)
	}
	return names
}()

type handler = instrument.Handler[Settings]

// Table is the HP 3586 command table
var Table = instrument.NewTable[Settings]("HP3586",
	handler{
		Opcode:  OpReset,
		Summary: "power-on state",
		Render:  write("RESET;"),
		Derive:  func(Settings, instrument.Args, interface{}) Settings { return Defaults() },
	},
	handler{
		Opcode:        OpFunc,
		Summary:       "select measurement function",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "function", Kind: instrument.ParamEnum, Required: true, Choices: functionNames}},
		Render: func(_ Settings, a instrument.Args) []instrument.Step {
			fn, _ := a.String("function")
			return []instrument.Step{instrument.Write(fn + ";")}
		},
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			fn, _ := a.String("function")
			return cur.WithFunction(instrument.Function(fn))
		},
	},
	handler{
		Opcode:        OpFreq,
		Summary:       "tune frequency in Hz",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "hz", Kind: instrument.ParamFloat, Required: true, Min: MinFrequency, Max: MaxFrequency}},
		Render: func(_ Settings, a instrument.Args) []instrument.Step {
			v, _ := a.Float("hz")
			return []instrument.Step{
				instrument.Write("FREQ " + instrument.FormatValue(v) + ";"),
				instrument.Query("FREQ?;"),
			}
		},
		Parse: instrument.ParseFloatReply,
		Derive: func(cur Settings, _ instrument.Args, v interface{}) Settings {
			return cur.WithFrequency(v.(float64))
		},
	},
	handler{
		Opcode:        OpBW,
		Summary:       "IF bandwidth in Hz",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "hz", Kind: instrument.ParamInt, Required: true}},
		Check:         oneOf(OpBW, "hz", Bandwidths),
		Render:        intCommand("BW", "hz"),
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			n, _ := a.Int("hz")
			return cur.WithBandwidth(n)
		},
	},
	handler{
		Opcode:        OpTerm,
		Summary:       "input termination in ohms",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "ohms", Kind: instrument.ParamInt, Required: true}},
		Check:         oneOf(OpTerm, "ohms", Terminations),
		Render:        intCommand("TERM", "ohms"),
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			n, _ := a.Int("ohms")
			return cur.WithTermination(n)
		},
	},
	handler{
		Opcode:        OpRange,
		Summary:       "fix the input attenuator in dB",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "db", Kind: instrument.ParamFloat, Required: true, Min: 0, Max: 40}},
		Render: func(cur Settings, a instrument.Args) []instrument.Step {
			v, _ := a.Float("db")
			r, _, _ := Ranges.Select(cur.function, v)
			return []instrument.Step{
				instrument.Write("RANGE " + instrument.FormatValue(r.Max) + ";"),
				instrument.Query("RANGE?;"),
			}
		},
		Parse: instrument.ParseFloatReply,
		Derive: func(cur Settings, _ instrument.Args, v interface{}) Settings {
			return cur.WithAttenuation(v.(float64))
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
		Opcode:        OpAvg,
		Summary:       "reading averaging",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "on", Kind: instrument.ParamBool, Required: true}},
		Render:        boolCommand("AVG", "on"),
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			on, _ := a.Bool("on")
			return cur.WithAverage(on)
		},
	},
	handler{
		Opcode:        OpNDig,
		Summary:       "display digits",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "digits", Kind: instrument.ParamInt, Required: true, Min: 3, Max: 5}},
		Render:        intCommand("NDIG", "digits"),
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			n, _ := a.Int("digits")
			return cur.WithDigits(n)
		},
	},
	handler{
		Opcode:        OpTrig,
		Summary:       "trigger mode",
		NeedsSettings: true,
		Params:        []instrument.Param{{Name: "mode", Kind: instrument.ParamEnum, Required: true, Choices: []string{"AUTO", "EXT", "SGL", "HOLD", "TIMER"}}},
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
		Params:        []instrument.Param{{Name: "mode", Kind: instrument.ParamEnum, Required: true, Choices: []string{"OFF", "FIFO", "LIFO"}}},
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
		Params:        []instrument.Param{{Name: "format", Kind: instrument.ParamEnum, Required: true, Choices: []string{"ASCII", "SINT", "SREAL"}}},
		Render:        enumCommand("OFORMAT", "format"),
		Derive: func(cur Settings, a instrument.Args, _ interface{}) Settings {
			f, _ := a.String("format")
			format, _ := instrument.ParseOutputFormat(f)
			return cur.WithFormat(format)
		},
	},
	handler{
		Opcode:  OpID,
		Summary: "model identification",
		Render:  query("ID?;"),
		Parse:   instrument.ParseTextReply,
	},
	handler{
		Opcode:        OpCalNum,
		Summary:       "calibration counter",
		NeedsSettings: true,
		Render:        query("CALNUM?;"),
		Parse:         instrument.ParseIntReply,
		Derive: func(cur Settings, _ instrument.Args, v interface{}) Settings {
			return cur.WithCalNumber(v.(int))
		},
	},
	handler{
		Opcode:        OpIScale,
		Summary:       "integer format scale factor",
		NeedsSettings: true,
		Render:        query("ISCALE?;"),
		Parse:         instrument.ParseFloatReply,
		Derive: func(cur Settings, _ instrument.Args, v interface{}) Settings {
			return cur.WithScale(v.(float64))
		},
	},
	handler{
		Opcode:  OpMCount,
		Summary: "readings stored in memory",
		Render:  query("MCOUNT?;"),
		Parse:   instrument.ParseIntReply,
	},
	handler{
		Opcode:  OpErr,
		Summary: "read and clear the error code",
		Render:  query("ERR?;"),
		Parse:   instrument.ParseIntReply,
	},
)

func oneOf(opcode, param string, choices []string) func(Settings, instrument.Args) error {
	return func(_ Settings, a instrument.Args) error {
		n, _ := a.Int(param)
		for _, c := range choices {
			if c == strconv.Itoa(n) {
				return nil
			}
		}
		return &instrument.ValidationError{
			Opcode:  opcode,
			Param:   param,
			Value:   n,
			Message: fmt.Sprintf("must be one of %v", choices),
		}
	}
}

func write(wire string) func(Settings, instrument.Args) []instrument.Step {
	return func(Settings, instrument.Args) []instrument.Step {
		return []instrument.Step{instrument.Write(wire)}
	}
}

func query(wire string) func(Settings, instrument.Args) []instrument.Step {
	return func(Settings, instrument.Args) []instrument.Step {
		return []instrument.Step{instrument.Query(wire)}
	}
}

func intCommand(mnemonic, param string) func(Settings, instrument.Args) []instrument.Step {
	return func(_ Settings, a instrument.Args) []instrument.Step {
		n, _ := a.Int(param)
		return []instrument.Step{instrument.Write(mnemonic + " " + strconv.Itoa(n) + ";")}
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
