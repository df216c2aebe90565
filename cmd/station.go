// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/Thermoquad/benchtop/pkg/archive"
	"github.com/Thermoquad/benchtop/pkg/config"
	"github.com/Thermoquad/benchtop/pkg/hp3457"
	"github.com/Thermoquad/benchtop/pkg/hp3586"
	"github.com/Thermoquad/benchtop/pkg/instrument"
)

// station is one configured instrument behind its engine, with the settings
// type erased so commands can handle every model alike
type station interface {
	Name() string
	Model() string
	Address() int
	Initialize(ctx context.Context) error
	Exec(ctx context.Context, line string) (instrument.Result, error)
	Submit(ctx context.Context, cmd instrument.Command) (instrument.Result, error)
	Opcodes() []string
	Help(opcode string) (string, bool)
	Settings() string
	Status() (instrument.Status, bool)
	DescribeStatus(st instrument.Status) []string
	Statistics() instrument.Statistics
	ResetStatistics()
	Poll(ctx context.Context) error
	Run(ctx context.Context) error
	Close()
}

type engineStation[S instrument.Settings] struct {
	inst     config.Instrument
	engine   *instrument.Engine[S]
	describe func(instrument.Status) []string
}

func (s *engineStation[S]) Name() string  { return s.inst.Name }
func (s *engineStation[S]) Model() string { return s.engine.Profile().Model }
func (s *engineStation[S]) Address() int  { return s.inst.Address }

func (s *engineStation[S]) Initialize(ctx context.Context) error {
	return s.engine.Initialize(ctx)
}

func (s *engineStation[S]) Exec(ctx context.Context, line string) (instrument.Result, error) {
	cmd, err := s.engine.Profile().Table.ParseLine(line)
	if err != nil {
		return instrument.Result{}, err
	}
	return s.engine.Submit(ctx, cmd)
}

func (s *engineStation[S]) Submit(ctx context.Context, cmd instrument.Command) (instrument.Result, error) {
	return s.engine.Submit(ctx, cmd)
}

func (s *engineStation[S]) Opcodes() []string {
	return s.engine.Profile().Table.Opcodes()
}

func (s *engineStation[S]) Help(opcode string) (string, bool) {
	h, ok := s.engine.Profile().Table.Lookup(opcode)
	if !ok {
		return "", false
	}
	var b strings.Builder
	b.WriteString(h.Opcode)
	for _, p := range h.Params {
		name := p.Name
		if len(p.Choices) > 0 {
			name += "=" + strings.Join(p.Choices, "|")
		}
		if p.Required {
			fmt.Fprintf(&b, " <%s>", name)
		} else {
			fmt.Fprintf(&b, " [%s]", name)
		}
	}
	if h.Summary != "" {
		b.WriteString("  ")
		b.WriteString(h.Summary)
	}
	return b.String(), true
}

func (s *engineStation[S]) Settings() string {
	cur, ok := s.engine.Settings()
	if !ok {
		return ""
	}
	return cur.String()
}

func (s *engineStation[S]) Status() (instrument.Status, bool) {
	return s.engine.Status()
}

func (s *engineStation[S]) DescribeStatus(st instrument.Status) []string {
	if s.describe == nil {
		return nil
	}
	return s.describe(st)
}

func (s *engineStation[S]) Statistics() instrument.Statistics { return s.engine.Statistics() }
func (s *engineStation[S]) ResetStatistics()                  { s.engine.ResetStatistics() }
func (s *engineStation[S]) Poll(ctx context.Context) error    { return s.engine.Poll(ctx) }
func (s *engineStation[S]) Run(ctx context.Context) error     { return s.engine.Run(ctx) }
func (s *engineStation[S]) Close()                            { s.engine.Close() }

// newStation builds the engine for inst with an observer that archives
// readings to sink and forwards every event to emit
func newStation(inst config.Instrument, bus instrument.Bus, token *instrument.Token, sink archive.Sink, emit func(event)) (station, error) {
	switch inst.Model {
	case config.ModelHP3457:
		st := &engineStation[hp3457.Settings]{inst: inst, describe: describe3457}
		st.engine = hp3457.New(bus, observerFor[hp3457.Settings](inst.Name, hp3457.Model, sink, emit), engineOptions(inst, token)...)
		return st, nil
	case config.ModelHP3586:
		st := &engineStation[hp3586.Settings]{inst: inst, describe: describe3586}
		st.engine = hp3586.New(bus, observerFor[hp3586.Settings](inst.Name, hp3586.Model, sink, emit), engineOptions(inst, token)...)
		return st, nil
	default:
		return nil, fmt.Errorf("instrument %q: unknown model %q", inst.Name, inst.Model)
	}
}

func engineOptions(inst config.Instrument, token *instrument.Token) []instrument.Option {
	return []instrument.Option{
		instrument.WithName(inst.Name),
		instrument.WithLogger(log),
		instrument.WithTimeout(inst.Timeout()),
		instrument.WithQueueDepth(inst.QueueDepth),
		instrument.WithToken(token),
	}
}

func observerFor[S instrument.Settings](name, model string, sink archive.Sink, emit func(event)) instrument.Observer[S] {
	forward := instrument.ObserverFuncs[S]{
		Settings: func(s S) {
			emit(event{kind: eventSettings, instrument: name, text: s.String()})
		},
		Status: func(st instrument.Status) {
			emit(event{kind: eventStatus, instrument: name, status: st, text: st.String(), isError: st.Error})
		},
		Reading: func(r instrument.Reading[S]) {
			emit(event{kind: eventReading, instrument: name, text: r.String(), value: r.Value, unit: r.Unit, isError: r.Error})
		},
	}
	if sink == nil {
		return forward
	}
	return archive.Observers[S]{archive.NewRecorder[S](name, model, sink, log), forward}
}

func describe3457(st instrument.Status) []string {
	var out []string
	if st.Tier >= instrument.TierError {
		out = append(out, hp3457.DescribeError(st.ErrorCode)...)
	}
	if st.Tier >= instrument.TierAux {
		out = append(out, hp3457.DescribeAuxError(st.AuxCode)...)
	}
	return out
}

func describe3586(st instrument.Status) []string {
	if st.Tier < instrument.TierError {
		return nil
	}
	return []string{hp3586.DescribeError(st.ErrorCode)}
}
