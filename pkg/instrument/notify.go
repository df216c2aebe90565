// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"context"
	"errors"
	"fmt"
)

// HandleNotification services a service request. It never waits for the bus:
// when a transaction already holds the token the notification is dropped with
// ErrBusBusy and the condition is picked up by the next request or status read.
func (e *Engine[S]) HandleNotification(ctx context.Context) error {
	if e.isClosed() {
		return ErrClosed
	}
	if !e.tryAcquire() {
		e.counters.notification(OutcomeDropped)
		e.log.Debug("bus busy, notification dropped")
		return ErrBusBusy
	}
	return e.handleHeld(ctx, false)
}

// Poll checks the SRQ line, when the bus can report it, and handles a pending
// notification within the same token hold. The line is shared by every device
// on the bus, so an asserted line is only acted on when this instrument's own
// status byte has the service request bit set. Buses without an SRQ line are
// treated as always requesting service. A busy bus skips the check without
// counting a dropped notification; the line stays asserted for the next poll.
func (e *Engine[S]) Poll(ctx context.Context) error {
	if e.isClosed() {
		return ErrClosed
	}
	if !e.tryAcquire() {
		return ErrBusBusy
	}

	if sr, ok := e.bus.(ServiceRequester); ok {
		pctx, cancel := context.WithTimeout(ctx, e.timeout)
		asserted, err := sr.ServiceRequested(pctx)
		cancel()
		if err != nil {
			e.release()
			return e.transportError(pctx, "srq", "", err)
		}
		if !asserted {
			e.release()
			return nil
		}
		return e.handleHeld(ctx, true)
	}
	return e.handleHeld(ctx, false)
}

// handleHeld runs the notification state machine. The caller holds the token;
// it is released before returning. With requested set, a status byte without
// the service request bit ends the notification after publishing the status.
func (e *Engine[S]) handleHeld(ctx context.Context, requested bool) error {
	defer e.release()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	st, err := e.pollStatus(ctx)
	if err != nil {
		e.counters.notification(OutcomeFailed)
		e.log.WithError(err).Error("status escalation failed")
		return err
	}
	e.publishStatus(st)

	if requested && !st.ServiceRequest {
		e.counters.notification(OutcomeNotRequested)
		return nil
	}
	if !st.Ready {
		e.counters.notification(OutcomeNotReady)
		return nil
	}

	cur, ok := e.Settings()
	if !ok {
		e.counters.notification(OutcomeNoSettings)
		e.log.Warn("reading ready before any settings were published")
		return nil
	}
	if cur.Trigger() == TriggerHold {
		e.counters.notification(OutcomeHold)
		return nil
	}

	if err := e.harvest(ctx, cur, st); err != nil {
		e.counters.notification(OutcomeFailed)
		e.log.WithError(err).Error("harvest aborted")
		return err
	}
	e.counters.notification(OutcomeHarvested)
	return nil
}

// harvest reads every pending reading using the snapshot active right now
func (e *Engine[S]) harvest(ctx context.Context, cur S, st Status) error {
	count := 1
	if cur.Memory().Buffered() {
		n, err := e.queryCount(ctx)
		if err != nil {
			return err
		}
		count = n
	}

	scale := cur.Scale()
	if cur.Format().Scaled() && cur.AutoRange() && e.profile.ScaleQuery != "" {
		reply, err := e.query(ctx, e.profile.ScaleQuery)
		if err != nil {
			return err
		}
		v, err := ParseFloatReply([][]byte{reply})
		if err != nil {
			return fmt.Errorf("scale query: %w", err)
		}
		scale = v.(float64)
	}

	for i := 0; i < count; i++ {
		raw, err := e.read(ctx)
		if err != nil {
			return err
		}
		r, err := DecodeReading(raw, cur, st, scale, e.profile.TextWidth)
		if err != nil {
			e.counters.reading(false)
			e.log.WithError(err).WithField("index", i).Warn("reading dropped")
			continue
		}
		e.publishReading(r)
	}
	return nil
}

func (e *Engine[S]) queryCount(ctx context.Context) (int, error) {
	reply, err := e.query(ctx, e.profile.CountQuery)
	if err != nil {
		return 0, err
	}
	v, err := ParseIntReply([][]byte{reply})
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			pe.Op = "reading count"
		}
		return 0, err
	}
	n := v.(int)
	if n < 0 {
		return 0, NewProtocolError("reading count", reply, nil, "negative count %d", n)
	}
	limit := e.profile.MaxStored
	if limit == 0 {
		limit = DefaultMaxStored
	}
	if n > limit {
		return 0, NewProtocolError("reading count", reply, nil, "count %d exceeds memory depth %d", n, limit)
	}
	return n, nil
}
