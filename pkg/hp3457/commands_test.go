// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hp3457

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/Thermoquad/benchtop/pkg/instrument"
	"github.com/Thermoquad/benchtop/pkg/instrument/instrumenttest"
	"github.com/sirupsen/logrus"
)

type recorder struct {
	mu       sync.Mutex
	settings []Settings
	statuses []instrument.Status
	readings []instrument.Reading[Settings]
}

func (r *recorder) OnSettingsChanged(s Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = append(r.settings, s)
}

func (r *recorder) OnStatusChanged(st instrument.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *recorder) OnReading(rd instrument.Reading[Settings]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, rd)
}

func newMeter(t *testing.T, bus instrument.Bus) (*instrument.Engine[Settings], *recorder) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	rec := &recorder{}
	return New(bus, rec, instrument.WithName(t.Name()), instrument.WithLogger(log)), rec
}

func submit(t *testing.T, e *instrument.Engine[Settings], opcode string, args instrument.Args) instrument.Result {
	t.Helper()
	res, err := e.Submit(context.Background(), instrument.NewCommand(opcode, args))
	if err != nil {
		t.Fatalf("%s failed: %v", opcode, err)
	}
	return res
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

func TestTable_Render(t *testing.T) {
	tests := []struct {
		opcode string
		args   instrument.Args
		want   []string
	}{
		{OpReset, nil, []string{"RESET;"}},
		{OpPreset, nil, []string{"PRESET;"}},
		{OpFunc, instrument.Args{"function": "dcv"}, []string{"DCV;"}},
		{OpFunc, instrument.Args{"function": "OHM", "range": 3000}, []string{"OHM 3000;"}},
		{OpRange, instrument.Args{"max": 30}, []string{"RANGE 30;", "RANGE?;"}},
		{OpARange, instrument.Args{"on": "off"}, []string{"ARANGE OFF;"}},
		{OpNDig, instrument.Args{"digits": 6}, []string{"NDIG 6;"}},
		{OpNPLC, instrument.Args{"cycles": 0.1}, []string{"NPLC 0.1;", "NPLC?;"}},
		{OpTrig, instrument.Args{"mode": "hold"}, []string{"TRIG HOLD;"}},
		{OpMem, instrument.Args{"mode": "FIFO"}, []string{"MEM FIFO;"}},
		{OpOFormat, instrument.Args{"format": "SREAL"}, []string{"OFORMAT SREAL;"}},
		{OpOFormat, instrument.Args{"format": "DINT"}, []string{"OFORMAT DINT;", "ISCALE?;"}},
		{OpAZero, instrument.Args{"on": true}, []string{"AZERO ON;"}},
		{OpNRdgs, instrument.Args{"count": 10}, []string{"NRDGS 10;"}},
		{OpID, nil, []string{"ID?;"}},
		{OpCalNum, nil, []string{"CALNUM?;"}},
		{OpRangeQ, nil, []string{"RANGE?;"}},
		{OpDisp, instrument.Args{"text": "hello"}, []string{"DISP MSG,\"HELLO\";"}},
		{OpDisp, nil, []string{"DISP ON;"}},
	}

	for _, tt := range tests {
		t.Run(tt.opcode, func(t *testing.T) {
			h, args, err := Table.Validate(instrument.NewCommand(tt.opcode, tt.args))
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			var got []string
			for _, s := range h.Render(Defaults(), args) {
				got = append(got, s.Wire)
			}
			if !equalStrings(got, tt.want) {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTable_RejectsBadArguments(t *testing.T) {
	tests := []struct {
		name      string
		opcode    string
		args      instrument.Args
		wantParam string
	}{
		{"range beyond largest", OpRange, instrument.Args{"max": 1000}, "max"},
		{"function range beyond largest", OpFunc, instrument.Args{"function": "ACI", "range": 2}, "range"},
		{"digits", OpNDig, instrument.Args{"digits": 9}, "digits"},
		{"nplc", OpNPLC, instrument.Args{"cycles": 1000}, "cycles"},
		{"trigger", OpTrig, instrument.Args{"mode": "TIMER"}, "mode"},
		{"display too long", OpDisp, instrument.Args{"text": "THIRTEEN CHAR"}, "text"},
		{"display quote", OpDisp, instrument.Args{"text": "A\"B"}, "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := instrumenttest.NewBus()
			e, _ := newMeter(t, bus)
			defer e.Close()
			submit(t, e, OpReset, nil)
			bus.ResetCalls()

			_, err := e.Submit(context.Background(), instrument.NewCommand(tt.opcode, tt.args))
			var ve *instrument.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Submit() error = %v, want *ValidationError", err)
			}
			if ve.Opcode != tt.opcode {
				t.Errorf("ValidationError.Opcode = %q, want %q", ve.Opcode, tt.opcode)
			}
			if tt.wantParam != "" && ve.Param != tt.wantParam {
				t.Errorf("ValidationError.Param = %q, want %q", ve.Param, tt.wantParam)
			}
			if calls := bus.Calls(); len(calls) != 0 {
				t.Errorf("bus calls = %v, want none", calls)
			}
		})
	}
}

// Scenario A: selecting a function before any snapshot exists
func TestScenario_FunctionBeforeReset(t *testing.T) {
	bus := instrumenttest.NewBus()
	e, _ := newMeter(t, bus)
	defer e.Close()

	_, err := e.Submit(context.Background(), instrument.NewCommand(OpFunc, instrument.Args{"function": "DCV"}))
	if !errors.Is(err, instrument.ErrNoSettings) {
		t.Errorf("Submit() error = %v, want ErrNoSettings", err)
	}
	if calls := bus.Calls(); len(calls) != 0 {
		t.Errorf("bus calls = %v, want none", calls)
	}
}

// Scenario B: selecting AC current on an established meter
func TestScenario_SelectACCurrent(t *testing.T) {
	bus := instrumenttest.NewBus()
	e, rec := newMeter(t, bus)
	submit(t, e, OpReset, nil)
	submit(t, e, OpRange, confirmRange(bus, "3"))
	bus.ResetCalls()

	submit(t, e, OpFunc, instrument.Args{"function": "ACI"})
	e.Close()

	if got, want := bus.Calls(), []string{"W:ACI;", instrumenttest.CallPoll}; !equalStrings(got, want) {
		t.Errorf("bus calls = %v, want %v", got, want)
	}
	s, _ := e.Settings()
	if s.Function() != ACI || !s.AutoRange() {
		t.Errorf("Settings() = %v, want ACI with autorange", s)
	}
	last := rec.settings[len(rec.settings)-1]
	if last != s {
		t.Errorf("published %v, want %v", last, s)
	}
}

// confirmRange scripts the RANGE? confirmation and returns the RANGE arguments
func confirmRange(bus *instrumenttest.Bus, confirmed string) instrument.Args {
	bus.Reply("RANGE?;", confirmed)
	return instrument.Args{"max": confirmed}
}

// Scenario C: a service request while the trigger is held
func TestScenario_NotificationWhileHeld(t *testing.T) {
	bus := instrumenttest.NewBus()
	e, rec := newMeter(t, bus)
	submit(t, e, OpReset, nil)
	submit(t, e, OpTrig, instrument.Args{"mode": "HOLD"})
	bus.ResetCalls()
	bus.SetPoll(instrument.StatusServiceRequest | instrument.StatusReady | instrument.StatusError)
	bus.Reply("ERR?;", "4")

	if err := e.HandleNotification(context.Background()); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	e.Close()

	want := []string{instrumenttest.CallPoll, "W:ERR?;", instrumenttest.CallRead}
	if got := bus.Calls(); !equalStrings(got, want) {
		t.Errorf("bus calls = %v, want %v", got, want)
	}
	st := rec.statuses[len(rec.statuses)-1]
	if st.Tier != instrument.TierError || st.ErrorCode != ErrTriggerTooFast {
		t.Errorf("status = %v, want tier 1 trigger too fast", st)
	}
	if len(rec.readings) != 0 {
		t.Errorf("readings = %d, want 0", len(rec.readings))
	}
}

// Scenario D: three buffered readings in FIFO memory
func TestScenario_HarvestFIFO(t *testing.T) {
	bus := instrumenttest.NewBus()
	e, rec := newMeter(t, bus)
	submit(t, e, OpReset, nil)
	submit(t, e, OpMem, instrument.Args{"mode": "FIFO"})
	submit(t, e, OpOFormat, instrument.Args{"format": "SREAL"})
	bus.ResetCalls()

	values := []float64{1.5, -0.25, 12.125}
	for _, v := range values {
		raw, err := instrument.EncodeReading(v, instrument.FormatShortReal, 0, 0)
		if err != nil {
			t.Fatalf("EncodeReading() error = %v", err)
		}
		bus.QueueData(raw)
	}
	bus.Reply("MCOUNT?;", "3")
	bus.SetPoll(instrument.StatusServiceRequest | instrument.StatusReady)

	if err := e.HandleNotification(context.Background()); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	e.Close()

	if len(rec.readings) != 3 {
		t.Fatalf("readings = %d, want 3", len(rec.readings))
	}
	for i, r := range rec.readings {
		if r.Value != values[i] {
			t.Errorf("reading[%d] = %v, want %v", i, r.Value, values[i])
		}
		if r.Settings.Format() != instrument.FormatShortReal || r.Unit != "V" {
			t.Errorf("reading[%d] tagged %v %q, want SREAL V", i, r.Settings.Format(), r.Unit)
		}
	}
}

func TestCalDump(t *testing.T) {
	bus := instrumenttest.NewBus()
	want := make([]byte, CalibrationRegion.Length)
	for i := range want {
		want[i] = byte(i ^ 0xA5)
		word := int16(uint16(want[i])<<8 | 0x3C)
		bus.Reply("PEEK "+strconv.Itoa(CalibrationRegion.Base+i)+";", strconv.Itoa(int(word)))
	}
	e, _ := newMeter(t, bus)
	defer e.Close()

	res := submit(t, e, OpCalDump, nil)
	got, ok := res.Value.([]byte)
	if !ok || !bytes.Equal(got, want) {
		t.Errorf("CALDUMP value = %x, want %x", res.Value, want)
	}
	if n := len(bus.Writes()); n != 448 {
		t.Errorf("writes = %d, want 448", n)
	}
	if w := bus.Writes()[0]; w != "PEEK 64;" {
		t.Errorf("first write = %q, want PEEK 64;", w)
	}
}

func TestCalDump_MismatchAborts(t *testing.T) {
	bus := instrumenttest.NewBus()
	for i := 0; i < CalibrationRegion.Length; i++ {
		low := 0x3C
		if i == 100 {
			low = 0x3D
		}
		bus.Reply("PEEK "+strconv.Itoa(CalibrationRegion.Base+i)+";", strconv.Itoa(low))
	}
	e, _ := newMeter(t, bus)
	defer e.Close()

	res, err := e.Submit(context.Background(), instrument.NewCommand(OpCalDump, nil))
	if !instrument.IsProtocolError(err) {
		t.Errorf("CALDUMP error = %v, want ProtocolError", err)
	}
	if res.Value != nil {
		t.Errorf("CALDUMP value = %v, want none", res.Value)
	}
}

func TestRange_ScaledFormatRefreshesScale(t *testing.T) {
	bus := instrumenttest.NewBus()
	e, _ := newMeter(t, bus)
	defer e.Close()
	submit(t, e, OpReset, nil)
	bus.Reply("ISCALE?;", "1.0E-05", "1.0E-06")
	submit(t, e, OpOFormat, instrument.Args{"format": "DINT"})
	bus.Reply("RANGE?;", "3.0E-01")

	submit(t, e, OpRange, instrument.Args{"max": 0.3})

	s, _ := e.Settings()
	if s.Range() != 0.3 || s.AutoRange() || s.Scale() != 1e-6 {
		t.Errorf("Settings() = range %v auto %v scale %v, want 0.3 false 1e-06", s.Range(), s.AutoRange(), s.Scale())
	}
}
