// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{"bare opcode", "reset", Command{Opcode: "RESET", Args: Args{}}},
		{"positional", "func aci", Command{Opcode: "FUNC", Args: Args{"function": "aci"}}},
		{"named", "RANGE max=30", Command{Opcode: "RANGE", Args: Args{"max": "30"}}},
		{"wire form", "RANGE 30;", Command{Opcode: "RANGE", Args: Args{"max": "30"}}},
		{"async", "TRIG HOLD &", Command{Opcode: "TRIG", Args: Args{"mode": "HOLD"}, Async: true}},
		{"comma separated", "MEM,FIFO", Command{Opcode: "MEM", Args: Args{"mode": "FIFO"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := meterTable.ParseLine(tt.line)
			if err != nil {
				t.Fatalf("ParseLine(%q) error = %v", tt.line, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseLine_Errors(t *testing.T) {
	if _, err := meterTable.ParseLine("   "); err == nil {
		t.Error("ParseLine(blank) succeeded, want error")
	}
	if _, err := meterTable.ParseLine("FROB 1"); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("ParseLine(FROB) error = %v, want ErrUnknownOpcode", err)
	}
	if _, err := meterTable.ParseLine("FUNC DCV ACV"); err == nil {
		t.Error("ParseLine with extra value succeeded, want error")
	}
}

func TestParseLine_ValidatesThroughTable(t *testing.T) {
	cmd, err := meterTable.ParseLine("RANGE 3")
	if err != nil {
		t.Fatalf("ParseLine() error = %v", err)
	}
	_, args, err := meterTable.Validate(cmd)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if v, ok := args.Float("max"); !ok || v != 3 {
		t.Errorf("args.Float(max) = %v, %v, want 3, true", v, ok)
	}
}
