// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"fmt"
	"sync"
	"time"
)

// Transaction results
const (
	ResultOK        = "ok"
	ResultRejected  = "rejected"
	ResultTimeout   = "timeout"
	ResultTransport = "transport"
	ResultProtocol  = "protocol"
)

// Notification outcomes
const (
	OutcomeHarvested  = "harvested"
	OutcomeDropped    = "dropped"
	OutcomeNotReady   = "not_ready"
	OutcomeNoSettings = "no_settings"
	OutcomeHold       = "hold"
	OutcomeFailed     = "failed"

	// OutcomeNotRequested is a shared SRQ line asserted by another device
	OutcomeNotRequested = "not_requested"
)

// Statistics tracks transaction and notification counts of one engine
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Transactions    uint64
	Succeeded       uint64
	Rejected        uint64
	Timeouts        uint64
	TransportErrors uint64
	ProtocolErrors  uint64

	Notifications        uint64
	DroppedNotifications uint64
	Readings             uint64
	DroppedReadings      uint64

	// Busy is the total time commands held the bus
	Busy time.Duration

	// Rates (calculated)
	TransactionRate float64 // transactions/sec
	ErrorRate       float64 // errors/sec
	ReadingRate     float64 // readings/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Errors returns the number of failed transactions
func (s *Statistics) Errors() uint64 {
	return s.Timeouts + s.TransportErrors + s.ProtocolErrors
}

// CalculateRates calculates transaction, error and reading rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.TransactionRate = float64(s.Transactions) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
		s.ReadingRate = float64(s.Readings) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var okPercent float64
	if s.Transactions > 0 {
		okPercent = float64(s.Succeeded) * 100.0 / float64(s.Transactions)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Transactions:    %8d\n", s.Transactions)
	result += fmt.Sprintf("Succeeded:       %8d (%.1f%%)\n", s.Succeeded, okPercent)
	if s.Rejected > 0 {
		result += fmt.Sprintf("Rejected:        %8d\n", s.Rejected)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.TransportErrors > 0 {
		result += fmt.Sprintf("Transport Errors:%8d\n", s.TransportErrors)
	}
	if s.ProtocolErrors > 0 {
		result += fmt.Sprintf("Protocol Errors: %8d\n", s.ProtocolErrors)
	}
	result += fmt.Sprintf("Notifications:   %8d (%d dropped)\n", s.Notifications, s.DroppedNotifications)
	result += fmt.Sprintf("Readings:        %8d (%d dropped)\n", s.Readings, s.DroppedReadings)
	result += fmt.Sprintf("Bus Time:        %8s\n", s.Busy.Round(time.Millisecond))
	result += fmt.Sprintf("Transaction Rate:%8.1f tx/sec\n", s.TransactionRate)
	result += fmt.Sprintf("Reading Rate:    %8.1f rdg/sec\n", s.ReadingRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}

// counters is the engine's locked Statistics, mirrored to prometheus
type counters struct {
	name string

	mu    sync.Mutex
	stats *Statistics
}

func newCounters(name string) *counters {
	return &counters{name: name, stats: NewStatistics()}
}

func (c *counters) transaction(opcode, result string, held time.Duration) {
	transactionsTotal.WithLabelValues(c.name, opcode, result).Inc()
	if result == ResultOK {
		transactionSeconds.WithLabelValues(c.name).Observe(held.Seconds())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Transactions++
	switch result {
	case ResultOK:
		s.Succeeded++
	case ResultRejected:
		s.Rejected++
	case ResultTimeout:
		s.Timeouts++
	case ResultTransport:
		s.TransportErrors++
	case ResultProtocol:
		s.ProtocolErrors++
	}
	s.Busy += held
	s.LastUpdateTime = time.Now()
}

func (c *counters) notification(outcome string) {
	notificationsTotal.WithLabelValues(c.name, outcome).Inc()
	if outcome == OutcomeNotRequested {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Notifications++
	if outcome == OutcomeDropped {
		c.stats.DroppedNotifications++
	}
	c.stats.LastUpdateTime = time.Now()
}

func (c *counters) reading(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "dropped"
	}
	readingsTotal.WithLabelValues(c.name, outcome).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.stats.Readings++
	} else {
		c.stats.DroppedReadings++
	}
	c.stats.LastUpdateTime = time.Now()
}

func (c *counters) snapshot() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := *c.stats
	s.CalculateRates()
	return s
}

func (c *counters) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Reset()
}
