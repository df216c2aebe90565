// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hp3586

import (
	"context"
	"errors"
	"testing"

	"github.com/Thermoquad/benchtop/pkg/instrument"
	"github.com/Thermoquad/benchtop/pkg/instrument/instrumenttest"
	"github.com/sirupsen/logrus"
)

func newMeter(t *testing.T, bus instrument.Bus, obs instrument.Observer[Settings]) *instrument.Engine[Settings] {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(bus, obs, instrument.WithName(t.Name()), instrument.WithLogger(log))
}

func TestTable_Render(t *testing.T) {
	tests := []struct {
		name   string
		opcode string
		args   instrument.Args
		want   []string
	}{
		{"reset", OpReset, nil, []string{"RESET;"}},
		{"function", OpFunc, instrument.Args{"function": "wlvl"}, []string{"WLVL;"}},
		{"frequency", OpFreq, instrument.Args{"hz": 1.024e6}, []string{"FREQ 1.024E+06;", "FREQ?;"}},
		{"bandwidth", OpBW, instrument.Args{"hz": 400}, []string{"BW 400;"}},
		{"termination", OpTerm, instrument.Args{"ohms": "75"}, []string{"TERM 75;"}},
		{"attenuator rounds up", OpRange, instrument.Args{"db": 15}, []string{"RANGE 20;", "RANGE?;"}},
		{"averaging", OpAvg, instrument.Args{"on": "ON"}, []string{"AVG ON;"}},
		{"trigger", OpTrig, instrument.Args{"mode": "timer"}, []string{"TRIG TIMER;"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, args, err := Table.Validate(instrument.NewCommand(tt.opcode, tt.args))
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			var got []string
			for _, s := range h.Render(Defaults(), args) {
				got = append(got, s.Wire)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Render() = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Render()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTable_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		opcode string
		args   instrument.Args
	}{
		{"bandwidth not a filter", OpBW, instrument.Args{"hz": 1000}},
		{"termination", OpTerm, instrument.Args{"ohms": 100}},
		{"frequency below band", OpFreq, instrument.Args{"hz": 10}},
		{"attenuator", OpRange, instrument.Args{"db": 50}},
		{"continuous memory", OpMem, instrument.Args{"mode": "CONT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := instrumenttest.NewBus()
			e := newMeter(t, bus, nil)
			defer e.Close()
			if _, err := e.Submit(context.Background(), instrument.NewCommand(OpReset, nil)); err != nil {
				t.Fatalf("RESET failed: %v", err)
			}
			bus.ResetCalls()

			_, err := e.Submit(context.Background(), instrument.NewCommand(tt.opcode, tt.args))
			var ve *instrument.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("Submit() error = %v, want *ValidationError", err)
			}
			if calls := bus.Calls(); len(calls) != 0 {
				t.Errorf("bus calls = %v, want none", calls)
			}
		})
	}
}

func TestFrequency_ConfirmedValue(t *testing.T) {
	bus := instrumenttest.NewBus().Reply("FREQ?;", "+1.00000E+05")
	e := newMeter(t, bus, nil)
	defer e.Close()
	if _, err := e.Submit(context.Background(), instrument.NewCommand(OpReset, nil)); err != nil {
		t.Fatalf("RESET failed: %v", err)
	}

	if _, err := e.Submit(context.Background(), instrument.NewCommand(OpFreq, instrument.Args{"hz": 99999.7})); err != nil {
		t.Fatalf("FREQ failed: %v", err)
	}
	s, _ := e.Settings()
	if s.Frequency() != 1e5 {
		t.Errorf("Frequency() = %v, want 100000 as confirmed", s.Frequency())
	}
}

func TestNotification_NoAuxiliaryRegister(t *testing.T) {
	var readings []instrument.Reading[Settings]
	var statuses []instrument.Status
	obs := instrument.ObserverFuncs[Settings]{
		Status:  func(st instrument.Status) { statuses = append(statuses, st) },
		Reading: func(r instrument.Reading[Settings]) { readings = append(readings, r) },
	}

	raw, err := instrument.EncodeReading(-23.5, instrument.FormatText, 0, 12)
	if err != nil {
		t.Fatalf("EncodeReading() error = %v", err)
	}
	bus := instrumenttest.NewBus().Reply("ERR?;", "1").QueueData(raw)
	e := newMeter(t, bus, obs)
	if _, err := e.Submit(context.Background(), instrument.NewCommand(OpReset, nil)); err != nil {
		t.Fatalf("RESET failed: %v", err)
	}
	bus.ResetCalls()
	bus.SetPoll(instrument.StatusReady | instrument.StatusError)

	if err := e.HandleNotification(context.Background()); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	e.Close()

	want := []string{instrumenttest.CallPoll, "W:ERR?;", instrumenttest.CallRead, instrumenttest.CallRead}
	got := bus.Calls()
	if len(got) != len(want) {
		t.Fatalf("bus calls = %v, want %v", got, want)
	}
	st := statuses[len(statuses)-1]
	if st.Tier != instrument.TierError || DescribeError(st.ErrorCode) != "frequency out of range" {
		t.Errorf("status = %v, want tier 1 frequency out of range", st)
	}
	if len(readings) != 1 || readings[0].Value != -23.5 || readings[0].Unit != "dBm" {
		t.Errorf("readings = %+v, want one -23.5 dBm reading", readings)
	}
}

func TestSettings_Derivations(t *testing.T) {
	base := Defaults()
	fixed := base.WithAttenuation(20)
	if base.Attenuation() != 40 || !base.AutoRange() {
		t.Errorf("base changed: %v", base)
	}
	if fixed.AutoRange() || fixed.Attenuation() != 20 {
		t.Errorf("fixed = %v, want 20 dB without autorange", fixed)
	}
	if back := fixed.WithFunction(NOISE); !back.AutoRange() || back.Unit() != "dBm/Hz" {
		t.Errorf("WithFunction(NOISE) = %v", back)
	}
}
