// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gpib

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Device is one instrument address on a Controller. It implements
// instrument.Bus and instrument.ServiceRequester.
type Device struct {
	c    *Controller
	addr int
}

// Address returns the primary GPIB address
func (d *Device) Address() int {
	return d.addr
}

// Write sends data to the device
func (d *Device) Write(ctx context.Context, data []byte) error {
	d.c.mu.Lock()
	defer d.c.mu.Unlock()
	if err := d.c.address(d.addr); err != nil {
		return err
	}
	return d.c.send(data)
}

// ReadUntilEOI addresses the device to talk and returns everything up to the
// EOI-marked byte. The EOT char appended by the controller is stripped.
func (d *Device) ReadUntilEOI(ctx context.Context) ([]byte, error) {
	d.c.mu.Lock()
	defer d.c.mu.Unlock()
	if err := d.c.address(d.addr); err != nil {
		return nil, err
	}
	if err := d.c.command("read eoi"); err != nil {
		return nil, err
	}
	return d.c.readUntil(ctx, d.c.eot)
}

// Clear sends Selected Device Clear
func (d *Device) Clear(ctx context.Context) error {
	d.c.mu.Lock()
	defer d.c.mu.Unlock()
	if err := d.c.address(d.addr); err != nil {
		return err
	}
	return d.c.command("clr")
}

// SerialPoll reads the device status byte
func (d *Device) SerialPoll(ctx context.Context) (byte, error) {
	d.c.mu.Lock()
	defer d.c.mu.Unlock()
	if err := d.c.command("spoll " + strconv.Itoa(d.addr)); err != nil {
		return 0, err
	}
	line, err := d.c.readUntil(ctx, '\n')
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(line))
	v, err := strconv.Atoi(text)
	if err != nil || v < 0 || v > 255 {
		return 0, fmt.Errorf("spoll reply %q is not a status byte", text)
	}
	return byte(v), nil
}

// ServiceRequested samples the SRQ line. The line is shared by every device
// on the bus, so a true result only says someone wants service.
func (d *Device) ServiceRequested(ctx context.Context) (bool, error) {
	d.c.mu.Lock()
	defer d.c.mu.Unlock()
	if err := d.c.command("srq"); err != nil {
		return false, err
	}
	line, err := d.c.readUntil(ctx, '\n')
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(string(line)) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("srq reply %q is not 0 or 1", line)
	}
}
