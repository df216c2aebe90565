// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MemoryRegion is a block of instrument memory read one 16-bit word per
// address with a peek query.
type MemoryRegion struct {
	Base   int
	Length int
	Peek   string // format with one %d verb, e.g. "PEEK %d;"
}

// Steps renders one query per address, ascending from Base
func (r MemoryRegion) Steps() []Step {
	steps := make([]Step, 0, r.Length)
	for addr := r.Base; addr < r.Base+r.Length; addr++ {
		steps = append(steps, Query(fmt.Sprintf(r.Peek, addr)))
	}
	return steps
}

// Decode assembles the region from the peek replies. The high byte of each word
// is the data byte of its address and the low byte must repeat the low byte of
// the previous word. Any violation fails the whole region.
func (r MemoryRegion) Decode(replies [][]byte) ([]byte, error) {
	if len(replies) != r.Length {
		return nil, NewProtocolError("memory dump", nil, nil, "got %d words, want %d", len(replies), r.Length)
	}

	data := make([]byte, r.Length)
	var prevLow byte
	for i, reply := range replies {
		word, err := ParseWord(reply)
		if err != nil {
			return nil, NewProtocolError("memory dump", reply, err, "address %d", r.Base+i)
		}
		low := byte(word)
		if i > 0 && low != prevLow {
			return nil, NewProtocolError("memory dump", reply, nil,
				"address %d overlap byte 0x%02X, previous 0x%02X", r.Base+i, low, prevLow)
		}
		data[i] = byte(word >> 8)
		prevLow = low
	}
	return data, nil
}

// ParseWord parses a peek reply. The instrument prints words as signed
// decimals, sometimes in exponent form.
func ParseWord(reply []byte) (uint16, error) {
	text := strings.TrimSpace(string(reply))
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < math.MinInt16 || f > math.MaxUint16 {
		return 0, fmt.Errorf("%q is not a 16-bit word", text)
	}
	return uint16(int32(f)), nil
}
