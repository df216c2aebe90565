// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Args carries named command parameters. Values are normalized by the table
// before a handler sees them: float64 for ParamFloat, int for ParamInt, bool
// for ParamBool and upper-case string for ParamEnum.
type Args map[string]interface{}

// Float returns a float parameter
func (a Args) Float(name string) (float64, bool) {
	v, ok := a[name].(float64)
	return v, ok
}

// Int returns an integer parameter
func (a Args) Int(name string) (int, bool) {
	v, ok := a[name].(int)
	return v, ok
}

// Bool returns a boolean parameter
func (a Args) Bool(name string) (bool, bool) {
	v, ok := a[name].(bool)
	return v, ok
}

// String returns a string or enum parameter
func (a Args) String(name string) (string, bool) {
	v, ok := a[name].(string)
	return v, ok
}

// Command is one request for a protocol-level operation
type Command struct {
	Opcode  string
	Args    Args
	Async   bool          // return once queued instead of waiting for the result
	Timeout time.Duration // 0 uses the engine default
}

// NewCommand creates a synchronous command
func NewCommand(opcode string, args Args) Command {
	return Command{Opcode: opcode, Args: args}
}

// NewAsyncCommand creates a fire-and-forget command
func NewAsyncCommand(opcode string, args Args) Command {
	return Command{Opcode: opcode, Args: args, Async: true}
}

// Result is what a synchronous command hands back to its caller
type Result struct {
	Replies [][]byte    // raw replies of every read step, in order
	Value   interface{} // parsed confirmation value, if the opcode has one
}

// ParamKind is the type of a command parameter
type ParamKind int

// Parameter kinds
const (
	ParamFloat ParamKind = iota
	ParamInt
	ParamBool
	ParamEnum
	ParamString
)

// Param describes one command parameter and how to validate it
type Param struct {
	Name     string
	Kind     ParamKind
	Required bool
	Min      float64 // numeric bounds, ignored when both are zero
	Max      float64
	Choices  []string // ParamEnum members
}

func (p Param) bounded() bool {
	return p.Min != 0 || p.Max != 0
}

// normalize converts v to the canonical type of p and checks its bounds
func (p Param) normalize(opcode string, v interface{}) (interface{}, error) {
	switch p.Kind {
	case ParamFloat:
		f, ok := toFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, newValidationError(opcode, p.Name, v, "not a number")
		}
		if p.bounded() && (f < p.Min || f > p.Max) {
			return nil, newValidationError(opcode, p.Name, v, "must be between %g and %g", p.Min, p.Max)
		}
		return f, nil

	case ParamInt:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, newValidationError(opcode, p.Name, v, "not an integer")
		}
		if p.bounded() && (f < p.Min || f > p.Max) {
			return nil, newValidationError(opcode, p.Name, v, "must be between %g and %g", p.Min, p.Max)
		}
		return int(f), nil

	case ParamBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToUpper(b) {
			case "ON", "1", "TRUE":
				return true, nil
			case "OFF", "0", "FALSE":
				return false, nil
			}
		}
		return nil, newValidationError(opcode, p.Name, v, "must be ON or OFF")

	case ParamEnum:
		s, ok := v.(string)
		if !ok {
			if st, isStringer := v.(fmt.Stringer); isStringer {
				s, ok = st.String(), true
			}
		}
		if !ok {
			return nil, newValidationError(opcode, p.Name, v, "not a mnemonic")
		}
		s = strings.ToUpper(s)
		for _, c := range p.Choices {
			if c == s {
				return s, nil
			}
		}
		return nil, newValidationError(opcode, p.Name, v, "must be one of %s", strings.Join(p.Choices, ", "))

	case ParamString:
		s, ok := v.(string)
		if !ok {
			return nil, newValidationError(opcode, p.Name, v, "not a string")
		}
		return s, nil

	default:
		return nil, newValidationError(opcode, p.Name, v, "unsupported parameter kind %d", p.Kind)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint16:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FormatValue renders a numeric argument the way the instruments expect it
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'G', -1, 64)
}

// OnOff renders a boolean argument as ON or OFF
func OnOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
