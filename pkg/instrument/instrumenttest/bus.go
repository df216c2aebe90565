// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package instrumenttest provides a scripted bus for engine tests
package instrumenttest

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Call log entries. Writes are logged as "W:" followed by the wire text.
const (
	CallRead  = "R"
	CallPoll  = "P"
	CallClear = "C"
	CallSRQ   = "S"
)

// Bus answers queries from a script and records every call. A read that
// follows a write with no scripted reply is served from the data queue, which
// models readings waiting in the instrument output buffer.
type Bus struct {
	mu       sync.Mutex
	calls    []string
	replies  map[string][][]byte
	data     [][]byte
	poll     []byte
	srq      bool
	failOn   map[string]error
	block    chan struct{}
	last     string
	inFlight int
	overlap  bool
}

// NewBus creates an empty scripted bus
func NewBus() *Bus {
	return &Bus{
		replies: map[string][][]byte{},
		failOn:  map[string]error{},
	}
}

// Reply queues replies for reads following a write of wire
func (b *Bus) Reply(wire string, replies ...string) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range replies {
		b.replies[wire] = append(b.replies[wire], []byte(r))
	}
	return b
}

// QueueData queues raw replies served when no scripted reply matches
func (b *Bus) QueueData(data ...[]byte) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, data...)
	return b
}

// SetPoll replaces the serial poll script. Bytes are returned in order and the
// last one repeats.
func (b *Bus) SetPoll(raw ...byte) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.poll = append([]byte(nil), raw...)
	return b
}

// SetSRQ sets the state of the SRQ line
func (b *Bus) SetSRQ(asserted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.srq = asserted
}

// FailOn makes a write of wire fail with err. The names CallRead and CallPoll
// fail every read or poll. A nil err clears the failure.
func (b *Bus) FailOn(wire string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failOn, wire)
		return
	}
	b.failOn[wire] = err
}

// Block makes reads wait until ch is closed or the context ends
func (b *Bus) Block(ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.block = ch
}

// Calls returns the call log
func (b *Bus) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Writes returns the wire text of every write, in order
func (b *Bus) Writes() []string {
	var w []string
	for _, c := range b.Calls() {
		if strings.HasPrefix(c, "W:") {
			w = append(w, strings.TrimPrefix(c, "W:"))
		}
	}
	return w
}

// ResetCalls clears the call log
func (b *Bus) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// Overlapped reports whether two calls were ever in progress at once
func (b *Bus) Overlapped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overlap
}

func (b *Bus) enter(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inFlight++
	if b.inFlight > 1 {
		b.overlap = true
	}
	b.calls = append(b.calls, call)
}

func (b *Bus) leave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inFlight--
}

// Write implements instrument.Bus
func (b *Bus) Write(ctx context.Context, data []byte) error {
	wire := string(data)
	b.enter("W:" + wire)
	defer b.leave()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = wire
	return b.failOn[wire]
}

// ReadUntilEOI implements instrument.Bus
func (b *Bus) ReadUntilEOI(ctx context.Context) ([]byte, error) {
	b.enter(CallRead)
	defer b.leave()

	b.mu.Lock()
	block := b.block
	b.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, fmt.Errorf("read: %w", ctx.Err())
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failOn[CallRead]; err != nil {
		return nil, err
	}
	if q := b.replies[b.last]; len(q) > 0 {
		b.replies[b.last] = q[1:]
		return q[0], nil
	}
	if len(b.data) > 0 {
		d := b.data[0]
		b.data = b.data[1:]
		return d, nil
	}
	return nil, fmt.Errorf("no reply scripted after %q", b.last)
}

// Clear implements instrument.Bus
func (b *Bus) Clear(ctx context.Context) error {
	b.enter(CallClear)
	defer b.leave()
	return nil
}

// SerialPoll implements instrument.Bus
func (b *Bus) SerialPoll(ctx context.Context) (byte, error) {
	b.enter(CallPoll)
	defer b.leave()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failOn[CallPoll]; err != nil {
		return 0, err
	}
	if len(b.poll) == 0 {
		return 0, nil
	}
	raw := b.poll[0]
	if len(b.poll) > 1 {
		b.poll = b.poll[1:]
	}
	return raw, nil
}

// SRQBus is a Bus that also reports the SRQ line
type SRQBus struct {
	*Bus
}

// ServiceRequested implements instrument.ServiceRequester
func (b SRQBus) ServiceRequested(ctx context.Context) (bool, error) {
	b.enter(CallSRQ)
	defer b.leave()

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.srq, nil
}
