// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package archive stores and forwards decoded instrument readings. A Sink is
// fed from an engine observer; sinks exist for SQLite, CBOR capture files and
// Redis.
package archive

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/benchtop/pkg/instrument"
	"github.com/sirupsen/logrus"
)

// Record is a reading flattened for storage. Settings carries the snapshot's
// String form so records of different instrument models share one shape.
type Record struct {
	Instrument string    `cbor:"1,keyasint" json:"instrument"`
	Model      string    `cbor:"2,keyasint" json:"model"`
	Time       time.Time `cbor:"3,keyasint" json:"time"`
	Value      float64   `cbor:"4,keyasint" json:"value"`
	Unit       string    `cbor:"5,keyasint" json:"unit"`
	Digits     int       `cbor:"6,keyasint" json:"digits"`
	Overflow   bool      `cbor:"7,keyasint,omitempty" json:"overflow,omitempty"`
	Error      bool      `cbor:"8,keyasint,omitempty" json:"error,omitempty"`
	Message    string    `cbor:"9,keyasint,omitempty" json:"message,omitempty"`
	Settings   string    `cbor:"10,keyasint" json:"settings"`
	Status     byte      `cbor:"11,keyasint" json:"status"`
}

// FromReading flattens a reading. status is the last status published before
// the reading.
func FromReading[S instrument.Settings](name, model string, r instrument.Reading[S], status instrument.Status) Record {
	return Record{
		Instrument: name,
		Model:      model,
		Time:       r.Time,
		Value:      r.Value,
		Unit:       r.Unit,
		Digits:     r.Digits,
		Overflow:   r.Overflow,
		Error:      r.Error,
		Message:    r.Message,
		Settings:   r.Settings.String(),
		Status:     status.Raw,
	}
}

// Sink consumes records. Write is called from the engine's dispatcher
// goroutine and may block it, never the bus.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Fanout writes every record to each sink. A failing sink is logged and does
// not stop the others.
type Fanout struct {
	sinks []Sink
	log   logrus.FieldLogger
}

// NewFanout creates a fan-out over sinks
func NewFanout(log logrus.FieldLogger, sinks ...Sink) *Fanout {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Fanout{sinks: sinks, log: log}
}

// Len returns the number of sinks
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Write implements Sink
func (f *Fanout) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Write(ctx, rec); err != nil {
			f.log.WithField("instrument", rec.Instrument).WithError(err).Warn("archive write failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Recorder is an instrument.Observer that turns readings into records
type Recorder[S instrument.Settings] struct {
	name  string
	model string
	sink  Sink
	log   logrus.FieldLogger

	mu     sync.Mutex
	status instrument.Status
}

// NewRecorder creates an observer writing to sink
func NewRecorder[S instrument.Settings](name, model string, sink Sink, log logrus.FieldLogger) *Recorder[S] {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder[S]{name: name, model: model, sink: sink, log: log}
}

func (r *Recorder[S]) OnSettingsChanged(S) {}

func (r *Recorder[S]) OnStatusChanged(st instrument.Status) {
	r.mu.Lock()
	r.status = st
	r.mu.Unlock()
}

func (r *Recorder[S]) OnReading(reading instrument.Reading[S]) {
	r.mu.Lock()
	st := r.status
	r.mu.Unlock()

	rec := FromReading(r.name, r.model, reading, st)
	if err := r.sink.Write(context.Background(), rec); err != nil {
		r.log.WithField("instrument", r.name).WithError(err).Debug("reading not archived")
	}
}

// Observers combines several observers into one, called in order
type Observers[S instrument.Settings] []instrument.Observer[S]

func (o Observers[S]) OnSettingsChanged(s S) {
	for _, obs := range o {
		obs.OnSettingsChanged(s)
	}
}

func (o Observers[S]) OnStatusChanged(st instrument.Status) {
	for _, obs := range o {
		obs.OnStatusChanged(st)
	}
}

func (o Observers[S]) OnReading(r instrument.Reading[S]) {
	for _, obs := range o {
		obs.OnReading(r)
	}
}
