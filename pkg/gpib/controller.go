// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package gpib drives instruments through a Prologix-compatible GPIB
// controller attached over a serial port or a byte stream bridge.
package gpib

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Controller defaults
const (
	DefaultEOTChar       = 0x04
	DefaultReadTimeoutMs = 500
	pollInterval         = 100 * time.Millisecond
)

// escape prefixes bytes the controller would otherwise swallow
const escape = 0x1B

// ReadTimeouter is implemented by ports whose Read returns (0, nil) once a
// timeout elapses. go.bug.st/serial ports satisfy it.
type ReadTimeouter interface {
	SetReadTimeout(t time.Duration) error
}

// Option configures a Controller
type Option func(*Controller)

// WithEOTChar sets the byte the controller appends when the talker asserts EOI
func WithEOTChar(c byte) Option { return func(ctl *Controller) { ctl.eot = c } }

// WithReadTimeoutMs sets the controller's inter-character GPIB read timeout
func WithReadTimeoutMs(ms int) Option { return func(ctl *Controller) { ctl.readTimeoutMs = ms } }

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option { return func(ctl *Controller) { ctl.log = log } }

// Controller is a Prologix GPIB-USB (or AR488) controller in charge. All
// devices on the bus share it and each device call is atomic with respect to
// the others.
type Controller struct {
	mu            sync.Mutex
	rw            io.ReadWriter
	pending       []byte
	buf           []byte
	eot           byte
	readTimeoutMs int
	addr          int // currently addressed device, -1 when unknown
	log           logrus.FieldLogger
}

// NewController configures the adapter for controller mode with EOI framing
func NewController(rw io.ReadWriter, opts ...Option) (*Controller, error) {
	c := &Controller{
		rw:            rw,
		buf:           make([]byte, 256),
		eot:           DefaultEOTChar,
		readTimeoutMs: DefaultReadTimeoutMs,
		addr:          -1,
		log:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.readTimeoutMs < 1 || c.readTimeoutMs > 3000 {
		return nil, fmt.Errorf("read timeout %d ms out of range 1-3000", c.readTimeoutMs)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.configure(); err != nil {
		return nil, err
	}
	c.log.WithField("eot_char", c.eot).Info("GPIB controller configured")
	return c, nil
}

// Reset moves the controller onto a new port, typically after a reconnect,
// and configures the adapter again. Buffered bytes and the addressed device
// are forgotten.
func (c *Controller) Reset(rw io.ReadWriter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rw = rw
	c.pending = nil
	c.addr = -1
	return c.configure()
}

// configure sends the init sequence. Caller holds mu.
func (c *Controller) configure() error {
	cmds := []string{
		"savecfg 0",
		"mode 1",
		"auto 0",
		"eoi 1",
		"eos 0",
		fmt.Sprintf("read_tmo_ms %d", c.readTimeoutMs),
		"eot_enable 1",
		fmt.Sprintf("eot_char %d", c.eot),
	}
	for _, cmd := range cmds {
		if err := c.command(cmd); err != nil {
			return fmt.Errorf("controller init %q: %w", cmd, err)
		}
	}
	return nil
}

// Version queries the adapter firmware banner
func (c *Controller) Version(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.command("ver"); err != nil {
		return "", err
	}
	line, err := c.readUntil(ctx, '\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(line)), nil
}

// Device returns the bus handle of the instrument at a primary address
func (c *Controller) Device(addr int) (*Device, error) {
	if addr < 0 || addr > 30 {
		return nil, fmt.Errorf("invalid primary address %d (must be 0-30)", addr)
	}
	return &Device{c: c, addr: addr}, nil
}

// command sends a ++ controller command. Caller holds mu.
func (c *Controller) command(cmd string) error {
	c.log.WithField("cmd", cmd).Debug("controller command")
	_, err := c.rw.Write([]byte("++" + cmd + "\n"))
	return err
}

// address makes addr the listener/talker. Caller holds mu.
func (c *Controller) address(addr int) error {
	if c.addr == addr {
		return nil
	}
	if err := c.command("addr " + strconv.Itoa(addr)); err != nil {
		c.addr = -1
		return err
	}
	c.addr = addr
	return nil
}

// send writes instrument data with controller escapes. Caller holds mu.
func (c *Controller) send(data []byte) error {
	_, err := c.rw.Write(append(Escape(data), '\n'))
	return err
}

// readUntil returns the bytes before delim. Caller holds mu.
func (c *Controller) readUntil(ctx context.Context, delim byte) ([]byte, error) {
	for {
		if i := bytes.IndexByte(c.pending, delim); i >= 0 {
			out := append([]byte(nil), c.pending[:i]...)
			c.pending = c.pending[i+1:]
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("gpib read: %w", err)
		}
		c.setTimeout(ctx)

		n, err := c.rw.Read(c.buf)
		if n > 0 {
			c.pending = append(c.pending, c.buf[:n]...)
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return nil, fmt.Errorf("gpib read: %w", err)
		}
	}
}

// setTimeout bounds the next Read so cancellation and deadlines are noticed
func (c *Controller) setTimeout(ctx context.Context) {
	rt, ok := c.rw.(ReadTimeouter)
	if !ok {
		return
	}
	wait := pollInterval
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	if err := rt.SetReadTimeout(wait); err != nil {
		c.log.WithError(err).Debug("cannot set port read timeout")
	}
}

// Escape prefixes CR, LF, ESC and '+' with ESC so the controller passes them
// to the instrument instead of interpreting them
func Escape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		switch b {
		case '\r', '\n', escape, '+':
			out = append(out, escape)
		}
		out = append(out, b)
	}
	return out
}
