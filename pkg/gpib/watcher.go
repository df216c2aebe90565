// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gpib

import (
	"context"
	"errors"
	"time"

	"github.com/Thermoquad/benchtop/pkg/instrument"
	"github.com/sirupsen/logrus"
)

// Poller is an engine that checks for and services a pending service request
type Poller interface {
	Poll(ctx context.Context) error
}

type watched struct {
	name   string
	poller Poller
}

// Watcher polls the SRQ line of every registered instrument on a fixed
// interval. A busy bus skips the instrument until the next tick.
type Watcher struct {
	interval time.Duration
	log      logrus.FieldLogger
	targets  []watched
}

// NewWatcher creates a watcher
func NewWatcher(interval time.Duration, log logrus.FieldLogger) *Watcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Watcher{interval: interval, log: log}
}

// Add registers an instrument. Not safe to call once Run has started.
func (w *Watcher) Add(name string, p Poller) {
	w.targets = append(w.targets, watched{name: name, poller: p})
}

// Run polls until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if w.pollAll(ctx) == 0 {
				return nil
			}
		}
	}
}

// pollAll polls each target once and returns how many are still open
func (w *Watcher) pollAll(ctx context.Context) int {
	open := 0
	for _, t := range w.targets {
		err := t.poller.Poll(ctx)
		switch {
		case err == nil:
			open++
		case errors.Is(err, instrument.ErrBusBusy):
			open++
		case errors.Is(err, instrument.ErrClosed):
		case ctx.Err() != nil:
			return open
		default:
			open++
			w.log.WithField("instrument", t.name).WithError(err).Warn("service request poll failed")
		}
	}
	return open
}
