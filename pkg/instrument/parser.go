// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"strings"
)

// ParseLine parses a command line typed by a user.
//
// Grammar: OPCODE [value | name=value ...] [&]
//
// Positional values bind to the handler parameters in table order. A trailing
// '&' submits the command asynchronously. A trailing ';' is accepted so wire
// mnemonics can be pasted as-is. Values stay strings; Validate converts them.
func (t *Table[S]) ParseLine(line string) (Command, error) {
	text := strings.TrimSpace(line)
	text = strings.TrimSuffix(text, ";")

	async := false
	if strings.HasSuffix(text, "&") {
		async = true
		text = strings.TrimSpace(strings.TrimSuffix(text, "&"))
	}

	fields := strings.Fields(strings.ReplaceAll(text, ",", " "))
	if len(fields) == 0 {
		return Command{}, &ValidationError{Opcode: "(empty)", Message: "missing opcode"}
	}

	h, ok := t.Lookup(fields[0])
	if !ok {
		return Command{}, &ValidationError{Opcode: fields[0], Message: ErrUnknownOpcode.Error(), Cause: ErrUnknownOpcode}
	}

	args := Args{}
	next := 0
	for _, f := range fields[1:] {
		if name, value, named := strings.Cut(f, "="); named {
			args[strings.ToLower(name)] = value
			continue
		}
		// skip parameters already given by name
		for next < len(h.Params) {
			if _, taken := args[h.Params[next].Name]; !taken {
				break
			}
			next++
		}
		if next >= len(h.Params) {
			return Command{}, newValidationError(h.Opcode, "", nil, "too many values")
		}
		args[h.Params[next].Name] = f
		next++
	}

	return Command{Opcode: h.Opcode, Args: args, Async: async}, nil
}
