// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Capture writes records to a file as a CBOR sequence, one data item per
// record, so a capture can be read while it is still being written.
type Capture struct {
	mu  sync.Mutex
	f   *os.File
	enc *cbor.Encoder
}

// CreateCapture opens path for appending
func CreateCapture(path string) (*Capture, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return &Capture{f: f, enc: cbor.NewEncoder(f)}, nil
}

// Write implements Sink
func (c *Capture) Write(ctx context.Context, rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode capture record: %w", err)
	}
	return nil
}

// Close implements Sink
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.f.Close()
}

// CaptureReader decodes a CBOR record sequence
type CaptureReader struct {
	dec *cbor.Decoder
}

// NewCaptureReader reads records from r
func NewCaptureReader(r io.Reader) *CaptureReader {
	return &CaptureReader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record or io.EOF at the end of the sequence
func (r *CaptureReader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("decode capture record: %w", err)
	}
	return rec, nil
}

// ReadCapture decodes every record of a capture file
func ReadCapture(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	var out []Record
	r := NewCaptureReader(f)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
