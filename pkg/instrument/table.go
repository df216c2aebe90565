// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"sort"
	"strconv"
	"strings"
)

// Step is one bus operation of a rendered command
type Step struct {
	Wire string
	Read bool // read one EOI-terminated reply after writing
}

// Write creates a write-only step
func Write(wire string) Step {
	return Step{Wire: wire}
}

// Query creates a write-then-read step
func Query(wire string) Step {
	return Step{Wire: wire, Read: true}
}

// Handler is the table entry for one opcode.
//
// Render, Parse and Derive are pure. Check runs before the bus is touched and
// may inspect the current snapshot; it is only called with a real snapshot when
// NeedsSettings is set. Derive receives the zero snapshot when none has been
// published, which only reset-style opcodes accept.
type Handler[S Settings] struct {
	Opcode        string
	Summary       string
	Params        []Param
	NeedsSettings bool

	Check  func(cur S, args Args) error
	Render func(cur S, args Args) []Step
	Parse  func(replies [][]byte) (interface{}, error)
	Derive func(cur S, args Args, value interface{}) S
}

// Table maps opcodes to handlers for one instrument model
type Table[S Settings] struct {
	Model    string
	handlers map[string]Handler[S]
}

// NewTable creates a command table. Opcodes are matched case-insensitively.
func NewTable[S Settings](model string, handlers ...Handler[S]) *Table[S] {
	t := &Table[S]{
		Model:    model,
		handlers: make(map[string]Handler[S], len(handlers)),
	}
	for _, h := range handlers {
		t.handlers[strings.ToUpper(h.Opcode)] = h
	}
	return t
}

// Lookup returns the handler for opcode
func (t *Table[S]) Lookup(opcode string) (Handler[S], bool) {
	h, ok := t.handlers[strings.ToUpper(opcode)]
	return h, ok
}

// Opcodes returns the sorted opcode list
func (t *Table[S]) Opcodes() []string {
	ops := make([]string, 0, len(t.handlers))
	for op := range t.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Validate resolves the handler of cmd and normalizes its arguments. It never
// touches the bus.
func (t *Table[S]) Validate(cmd Command) (Handler[S], Args, error) {
	if cmd.Opcode == "" {
		return Handler[S]{}, nil, &ValidationError{Opcode: "(empty)", Message: "missing opcode"}
	}
	h, ok := t.Lookup(cmd.Opcode)
	if !ok {
		return Handler[S]{}, nil, &ValidationError{Opcode: cmd.Opcode, Message: ErrUnknownOpcode.Error(), Cause: ErrUnknownOpcode}
	}

	known := make(map[string]Param, len(h.Params))
	for _, p := range h.Params {
		known[p.Name] = p
	}
	for name, v := range cmd.Args {
		if _, ok := known[name]; !ok {
			return h, nil, newValidationError(h.Opcode, name, v, "unknown parameter")
		}
	}

	args := make(Args, len(cmd.Args))
	for _, p := range h.Params {
		v, present := cmd.Args[p.Name]
		if !present {
			if p.Required {
				return h, nil, newValidationError(h.Opcode, p.Name, nil, "required parameter missing")
			}
			continue
		}
		nv, err := p.normalize(h.Opcode, v)
		if err != nil {
			return h, nil, err
		}
		args[p.Name] = nv
	}
	return h, args, nil
}

// ParseFloatReply parses the single reply of a query as a decimal number
func ParseFloatReply(replies [][]byte) (interface{}, error) {
	reply, err := singleReply(replies)
	if err != nil {
		return nil, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(reply)), 64)
	if err != nil {
		return nil, NewProtocolError("query", reply, err, "unparseable numeral")
	}
	return v, nil
}

// ParseIntReply parses the single reply of a query as a decimal integer
func ParseIntReply(replies [][]byte) (interface{}, error) {
	reply, err := singleReply(replies)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(reply))
	v, err := strconv.Atoi(text)
	if err != nil {
		// some instruments answer integer queries in exponent form
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil || f != float64(int(f)) {
			return nil, NewProtocolError("query", reply, err, "unparseable integer")
		}
		v = int(f)
	}
	return v, nil
}

// ParseTextReply returns the single reply of a query as trimmed text
func ParseTextReply(replies [][]byte) (interface{}, error) {
	reply, err := singleReply(replies)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(string(reply)), nil
}

func singleReply(replies [][]byte) ([]byte, error) {
	if len(replies) != 1 {
		return nil, NewProtocolError("query", nil, nil, "expected 1 reply, got %d", len(replies))
	}
	return replies[0], nil
}
