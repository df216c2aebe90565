// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Reading is one decoded measurement, tagged with the snapshot that was active
// when it was acquired.
type Reading[S Settings] struct {
	Value    float64
	Unit     string
	Digits   int
	Overflow bool
	Error    bool
	Message  string
	Settings S
	Time     time.Time
}

func (r Reading[S]) String() string {
	result := fmt.Sprintf("%s %s", strconv.FormatFloat(r.Value, 'G', r.Digits, 64), r.Unit)
	if r.Overflow {
		result += " OVLD"
	}
	if r.Error {
		result += " ERR"
		if r.Message != "" {
			result += " (" + r.Message + ")"
		}
	}
	return result
}

// DecodeReading turns one raw reply into a Reading using the output format of s.
// Unit and digits come from s and the overflow flag from st, never from the
// bytes. scale is only used by the integer formats. textWidth is the fixed
// field width of the text format once terminators are stripped; 0 disables the
// width check.
func DecodeReading[S Settings](raw []byte, s S, st Status, scale float64, textWidth int) (Reading[S], error) {
	value, err := decodeValue(raw, s.Format(), scale, textWidth)
	if err != nil {
		return Reading[S]{}, err
	}

	r := Reading[S]{
		Value:    value,
		Unit:     s.Unit(),
		Digits:   s.Digits(),
		Overflow: st.HighLow,
		Error:    st.Error,
		Settings: s,
		Time:     time.Now(),
	}
	if st.Tier >= TierError {
		r.Message = fmt.Sprintf("error register 0x%04X", st.ErrorCode)
	}
	return r, nil
}

func decodeValue(raw []byte, format OutputFormat, scale float64, textWidth int) (float64, error) {
	switch format {
	case FormatText:
		text := strings.TrimRight(string(raw), "\r\n")
		if textWidth > 0 && len(text) != textWidth {
			return 0, NewProtocolError("reading", raw, nil, "text field is %d characters, want %d", len(text), textWidth)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return 0, NewProtocolError("reading", raw, err, "unparseable numeral")
		}
		return v, nil

	case FormatShortInt:
		if len(raw) != 2 {
			return 0, NewProtocolError("reading", raw, nil, "SINT reading is %d bytes, want 2", len(raw))
		}
		return float64(int16(binary.BigEndian.Uint16(raw))) * scale, nil

	case FormatLongInt:
		if len(raw) != 4 {
			return 0, NewProtocolError("reading", raw, nil, "DINT reading is %d bytes, want 4", len(raw))
		}
		return float64(int32(binary.BigEndian.Uint32(raw))) * scale, nil

	case FormatShortReal:
		if len(raw) != 4 {
			return 0, NewProtocolError("reading", raw, nil, "SREAL reading is %d bytes, want 4", len(raw))
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(raw))), nil

	default:
		return 0, NewProtocolError("reading", raw, nil, "unsupported output format %d", format)
	}
}

// EncodeReading is the inverse of DecodeReading: it renders value the way an
// instrument would put it on the bus. It is used by simulators and replay.
func EncodeReading(value float64, format OutputFormat, scale float64, textWidth int) ([]byte, error) {
	switch format {
	case FormatText:
		if textWidth == 0 {
			return []byte(strconv.FormatFloat(value, 'E', -1, 64) + "\r\n"), nil
		}
		// sign, digit, point, mantissa, 'E', exponent sign, two exponent digits
		precision := textWidth - 7
		if precision < 0 {
			return nil, fmt.Errorf("text width %d too small", textWidth)
		}
		text := fmt.Sprintf("%+.*E", precision, value)
		if len(text) != textWidth {
			return nil, fmt.Errorf("value %g does not fit %d characters", value, textWidth)
		}
		return []byte(text + "\r\n"), nil

	case FormatShortInt:
		n, err := scaleToInt(value, scale, math.MinInt16, math.MaxInt16)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(int16(n)))
		return buf, nil

	case FormatLongInt:
		n, err := scaleToInt(value, scale, math.MinInt32, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(int32(n)))
		return buf, nil

	case FormatShortReal:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(value)))
		return buf, nil

	default:
		return nil, fmt.Errorf("unsupported output format %d", format)
	}
}

func scaleToInt(value, scale float64, min, max int64) (int64, error) {
	if scale == 0 {
		return 0, fmt.Errorf("integer format needs a non-zero scale")
	}
	n := math.Round(value / scale)
	if n < float64(min) || n > float64(max) {
		return 0, fmt.Errorf("value %g out of range for scale %g", value, scale)
	}
	return int64(n), nil
}
