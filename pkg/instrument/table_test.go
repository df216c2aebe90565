// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"testing"
)

func TestParam_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		param   Param
		value   interface{}
		want    interface{}
		wantErr bool
	}{
		{"float from int", Param{Name: "v", Kind: ParamFloat}, 3, 3.0, false},
		{"float from string", Param{Name: "v", Kind: ParamFloat}, "1e-3", 0.001, false},
		{"float below min", Param{Name: "v", Kind: ParamFloat, Min: 1, Max: 10}, 0.5, nil, true},
		{"int from float", Param{Name: "n", Kind: ParamInt}, 4.0, 4, false},
		{"int fractional", Param{Name: "n", Kind: ParamInt}, 4.5, nil, true},
		{"int from string", Param{Name: "n", Kind: ParamInt, Min: 3, Max: 7}, "6", 6, false},
		{"bool on", Param{Name: "b", Kind: ParamBool}, "on", true, false},
		{"bool literal", Param{Name: "b", Kind: ParamBool}, false, false, false},
		{"bool junk", Param{Name: "b", Kind: ParamBool}, "maybe", nil, true},
		{"enum upper-cased", Param{Name: "e", Kind: ParamEnum, Choices: []string{"AUTO", "HOLD"}}, "hold", "HOLD", false},
		{"enum stringer", Param{Name: "e", Kind: ParamEnum, Choices: []string{"AUTO", "HOLD"}}, TriggerHold, "HOLD", false},
		{"enum missing", Param{Name: "e", Kind: ParamEnum, Choices: []string{"AUTO"}}, "SGL", nil, true},
		{"string", Param{Name: "s", Kind: ParamString}, "HELLO", "HELLO", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.param.normalize("OP", tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("normalize() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestTable_Opcodes(t *testing.T) {
	ops := meterTable.Opcodes()
	want := []string{"AUTOCAL", "FUNC", "ID", "MEM", "OFORMAT", "RANGE", "RESET", "TRIG"}
	if !equalStrings(ops, want) {
		t.Errorf("Opcodes() = %v, want %v", ops, want)
	}
	if _, ok := meterTable.Lookup("range"); !ok {
		t.Error("Lookup(range) failed, want case-insensitive match")
	}
}

func TestParseIntReply(t *testing.T) {
	tests := []struct {
		reply   string
		want    int
		wantErr bool
	}{
		{"3", 3, false},
		{" 12\r\n", 12, false},
		{"+3.00000E+00", 3, false},
		{"2.5", 0, true},
		{"x", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseIntReply([][]byte{[]byte(tt.reply)})
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseIntReply(%q) error = %v, wantErr %v", tt.reply, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseIntReply(%q) = %v, want %v", tt.reply, got, tt.want)
		}
	}
}

func TestRangeTable_Select(t *testing.T) {
	table := RangeTable{
		"DCV": {{0.03, "V"}, {0.3, "V"}, {3, "V"}, {30, "V"}, {300, "V"}},
	}
	tests := []struct {
		value   float64
		wantMax float64
		wantIdx int
		wantOK  bool
	}{
		{0.001, 0.03, 0, true},
		{0.03, 0.03, 0, true},
		{-2.5, 3, 2, true},
		{300, 300, 4, true},
		{301, 0, -1, false},
	}
	for _, tt := range tests {
		r, idx, ok := table.Select("DCV", tt.value)
		if ok != tt.wantOK || idx != tt.wantIdx || r.Max != tt.wantMax {
			t.Errorf("Select(%v) = %v, %d, %v, want %v, %d, %v", tt.value, r, idx, ok, tt.wantMax, tt.wantIdx, tt.wantOK)
		}
	}
	if _, _, ok := table.Select("OHM", 1); ok {
		t.Error("Select on unknown function succeeded")
	}
	if top, _ := table.Largest("DCV"); top.Max != 300 {
		t.Errorf("Largest() = %v, want 300", top)
	}
	if !Exceeds(3, -3.5) || Exceeds(3, 3) {
		t.Error("Exceeds() misclassified")
	}
}

func TestDispatcher_PreservesOrder(t *testing.T) {
	d := newDispatcher()
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		d.post(func() { got = append(got, i) })
	}
	d.close()

	if len(got) != 100 {
		t.Fatalf("delivered %d events, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("event %d = %d, want in-order delivery", i, v)
		}
	}
	d.post(func() { t.Error("event delivered after close") })
}
