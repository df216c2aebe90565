// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import "sync"

// dispatcher delivers events on its own goroutine in the order they were
// posted. post never blocks, so the bus is never held hostage by an observer.
type dispatcher struct {
	mu      sync.Mutex
	pending []func()
	closed  bool

	wake    chan struct{}
	stopped chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) post(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	defer close(d.stopped)
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		closed := d.closed
		d.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.wake
	}
}

// close delivers everything already posted, then stops the goroutine
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.stopped
}
