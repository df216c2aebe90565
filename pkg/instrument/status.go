// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status byte bits as returned by a serial poll. Bit 7 is unused.
const (
	StatusOperationComplete = 1 << 0
	StatusHighLow           = 1 << 1
	StatusFrontPanel        = 1 << 2 // SRQ command or front panel SRQ key
	StatusPowerOn           = 1 << 3
	StatusReady             = 1 << 4
	StatusError             = 1 << 5
	StatusServiceRequest    = 1 << 6
)

// Status tiers
const (
	TierByte  = 0 // status byte only
	TierError = 1 // error register read
	TierAux   = 2 // auxiliary error register read
)

// Status is the decoded condition of an instrument at one point in time.
// ErrorCode is only meaningful when Tier >= TierError, AuxCode when
// Tier == TierAux.
type Status struct {
	Raw  byte
	Time time.Time

	OperationComplete bool
	HighLow           bool
	PowerOn           bool
	Ready             bool
	Error             bool
	ServiceRequest    bool
	FrontPanel        bool

	Tier      int
	ErrorCode uint16
	AuxCode   uint16
}

// DecodeStatus decodes a serial poll byte into tier 0 flags
func DecodeStatus(raw byte) Status {
	return Status{
		Raw:               raw,
		Time:              time.Now(),
		OperationComplete: raw&StatusOperationComplete != 0,
		HighLow:           raw&StatusHighLow != 0,
		PowerOn:           raw&StatusPowerOn != 0,
		Ready:             raw&StatusReady != 0,
		Error:             raw&StatusError != 0,
		ServiceRequest:    raw&StatusServiceRequest != 0,
		FrontPanel:        raw&StatusFrontPanel != 0,
		Tier:              TierByte,
	}
}

// String returns a compact flag summary such as "RDY|ERR err=0x0001"
func (s Status) String() string {
	flags := []string{}
	add := func(set bool, name string) {
		if set {
			flags = append(flags, name)
		}
	}
	add(s.ServiceRequest, "RQS")
	add(s.Error, "ERR")
	add(s.Ready, "RDY")
	add(s.PowerOn, "PON")
	add(s.FrontPanel, "FP")
	add(s.HighLow, "HILO")
	add(s.OperationComplete, "OPC")

	result := fmt.Sprintf("0x%02X", s.Raw)
	if len(flags) > 0 {
		result += " " + strings.Join(flags, "|")
	}
	if s.Tier >= TierError {
		result += fmt.Sprintf(" err=0x%04X", s.ErrorCode)
	}
	if s.Tier >= TierAux {
		result += fmt.Sprintf(" aux=0x%04X", s.AuxCode)
	}
	return result
}

// QueryFunc performs one write-then-read exchange on the bus. Callers must hold
// the bus token.
type QueryFunc func(ctx context.Context, wire string) ([]byte, error)

// StatusProtocol describes the follow-up queries an instrument uses to explain
// its status byte.
type StatusProtocol struct {
	ErrorQuery string // e.g. "ERR?;"
	AuxQuery   string // e.g. "AUXERR?;"

	// IsHardware classifies an error register value as hardware-class, which
	// calls for the auxiliary register.
	IsHardware func(code uint16) bool
}

// Escalate reads the higher status tiers demanded by st. Each tier is one bus
// round trip and escalation stops as soon as a tier does not call for the next.
func Escalate(ctx context.Context, st Status, p StatusProtocol, query QueryFunc) (Status, error) {
	if !st.Error || p.ErrorQuery == "" {
		return st, nil
	}

	code, err := queryCode(ctx, p.ErrorQuery, query)
	if err != nil {
		return st, err
	}
	st.ErrorCode = code
	st.Tier = TierError

	if p.AuxQuery == "" || p.IsHardware == nil || !p.IsHardware(code) {
		return st, nil
	}

	aux, err := queryCode(ctx, p.AuxQuery, query)
	if err != nil {
		return st, err
	}
	st.AuxCode = aux
	st.Tier = TierAux
	return st, nil
}

// queryCode issues wire and parses the reply as an unsigned 16-bit register
func queryCode(ctx context.Context, wire string, query QueryFunc) (uint16, error) {
	reply, err := query(ctx, wire)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(reply))
	v, err := strconv.ParseInt(text, 10, 32)
	if err != nil {
		return 0, NewProtocolError(wire, reply, err, "register value is not an integer")
	}
	if v < 0 || v > 0xFFFF {
		return 0, NewProtocolError(wire, reply, nil, "register value %d out of 16-bit range", v)
	}
	return uint16(v), nil
}
