// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transaction engine.
var (
	// ErrUnknownOpcode indicates the opcode is not in the instrument table.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrNoSettings indicates a command needs a settings snapshot and none has
	// been published yet.
	ErrNoSettings = errors.New("no settings snapshot published")

	// ErrBusBusy indicates a notification was dropped because a transaction
	// already holds the bus.
	ErrBusBusy = errors.New("bus busy")

	// ErrTimeout indicates a bus transaction did not complete in time.
	ErrTimeout = errors.New("bus transaction timed out")

	// ErrClosed indicates the engine has been closed.
	ErrClosed = errors.New("engine closed")

	// ErrQueueFull indicates the async command queue cannot take more work.
	ErrQueueFull = errors.New("command queue full")
)

// ValidationError is returned when a command is rejected before bus access.
type ValidationError struct {
	Opcode  string
	Param   string
	Value   interface{}
	Message string
	Cause   error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("%s: %s", e.Opcode, e.Message)
	}
	return fmt.Sprintf("%s: invalid %s %v: %s", e.Opcode, e.Param, e.Value, e.Message)
}

// Unwrap returns the underlying sentinel, if any
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

func newValidationError(opcode, param string, value interface{}, format string, a ...interface{}) error {
	return &ValidationError{
		Opcode:  opcode,
		Param:   param,
		Value:   value,
		Message: fmt.Sprintf(format, a...),
	}
}

// TransportError wraps a failed bus write, read, poll or clear.
type TransportError struct {
	Op    string // write, read, poll, clear, srq
	Wire  string // wire text being written, if any
	Cause error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.Wire != "" {
		return fmt.Sprintf("bus %s %q failed: %v", e.Op, e.Wire, e.Cause)
	}
	return fmt.Sprintf("bus %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ProtocolError reports a reply that does not match the instrument protocol:
// wrong length, unparseable numeral or a failed consistency check.
type ProtocolError struct {
	Op      string
	Reply   []byte
	Message string
	Cause   error
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol violation in %s: %s", e.Op, e.Message)
	if len(e.Reply) > 0 {
		msg += fmt.Sprintf(" (reply %q)", e.Reply)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a new protocol error.
func NewProtocolError(op string, reply []byte, cause error, format string, a ...interface{}) error {
	return &ProtocolError{Op: op, Reply: reply, Cause: cause, Message: fmt.Sprintf(format, a...)}
}

// IsProtocolError reports whether err is, or wraps, a ProtocolError
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
