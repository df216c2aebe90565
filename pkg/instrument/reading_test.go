// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"math"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// newFuzzRng creates a seeded generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if s, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func withFormat(f OutputFormat) meterSettings {
	s := meterDefaults()
	s.format = f
	return s
}

func TestReading_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		format    OutputFormat
		scale     float64
		value     float64
		tolerance float64
	}{
		{"text positive", FormatText, 0, 1.23456789, 5e-9},
		{"text negative small", FormatText, 0, -0.000123456, 5e-13},
		{"text large", FormatText, 0, 1.2e6, 0},
		{"short int millivolts", FormatShortInt, 0.001, 12.345, 0.0005},
		{"short int negative", FormatShortInt, 0.001, -32.768, 0.0005},
		{"long int microvolts", FormatLongInt, 1e-6, 123.456789, 5e-7},
		{"long int negative", FormatLongInt, 1e-3, -2147483.648, 5e-4},
		{"short real", FormatShortReal, 0, float64(float32(3.14159)), 0},
		{"short real negative", FormatShortReal, 0, float64(float32(-1e-9)), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := EncodeReading(tt.value, tt.format, tt.scale, 15)
			if err != nil {
				t.Fatalf("EncodeReading() error = %v", err)
			}
			if w := tt.format.Width(); w > 0 && len(raw) != w {
				t.Errorf("EncodeReading() length = %d, want %d", len(raw), w)
			}

			r, err := DecodeReading(raw, withFormat(tt.format), Status{}, tt.scale, 15)
			if err != nil {
				t.Fatalf("DecodeReading() error = %v", err)
			}
			if diff := math.Abs(r.Value - tt.value); diff > tt.tolerance {
				t.Errorf("DecodeReading() = %v, want %v (diff %g)", r.Value, tt.value, diff)
			}
		})
	}
}

func TestReading_RoundTripFuzz(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		// SREAL is exact for values already representable as float32
		v := float64(float32((rng.Float64() - 0.5) * math.Pow(10, float64(rng.Intn(12)-6))))
		raw, err := EncodeReading(v, FormatShortReal, 0, 0)
		if err != nil {
			t.Fatalf("round %d: EncodeReading(%v) error = %v", i, v, err)
		}
		r, err := DecodeReading(raw, withFormat(FormatShortReal), Status{}, 0, 0)
		if err != nil || r.Value != v {
			t.Fatalf("round %d: SREAL %v decoded as %v, %v", i, v, r.Value, err)
		}

		// SINT with scale 0.001 holds three decimals
		n := rng.Intn(math.MaxUint16+1) + math.MinInt16
		v = float64(n) * 0.001
		raw, err = EncodeReading(v, FormatShortInt, 0.001, 0)
		if err != nil {
			t.Fatalf("round %d: EncodeReading(%v) error = %v", i, v, err)
		}
		r, err = DecodeReading(raw, withFormat(FormatShortInt), Status{}, 0.001, 0)
		if err != nil || math.Abs(r.Value-v) > 0.0005 {
			t.Fatalf("round %d: SINT %v decoded as %v, %v", i, v, r.Value, err)
		}

		// DINT
		m := rng.Int63n(math.MaxUint32+1) + math.MinInt32
		v = float64(m) * 1e-6
		raw, err = EncodeReading(v, FormatLongInt, 1e-6, 0)
		if err != nil {
			t.Fatalf("round %d: EncodeReading(%v) error = %v", i, v, err)
		}
		r, err = DecodeReading(raw, withFormat(FormatLongInt), Status{}, 1e-6, 0)
		if err != nil || math.Abs(r.Value-v) > 5e-7 {
			t.Fatalf("round %d: DINT %v decoded as %v, %v", i, v, r.Value, err)
		}

		// TEXT keeps nine significant digits
		v = (rng.Float64() - 0.5) * math.Pow(10, float64(rng.Intn(10)-3))
		raw, err = EncodeReading(v, FormatText, 0, 15)
		if err != nil {
			t.Fatalf("round %d: EncodeReading(%v) error = %v", i, v, err)
		}
		r, err = DecodeReading(raw, withFormat(FormatText), Status{}, 0, 15)
		if err != nil || math.Abs(r.Value-v) > math.Abs(v)*1e-8 {
			t.Fatalf("round %d: TEXT %v decoded as %v, %v", i, v, r.Value, err)
		}
	}
}

func TestDecodeReading_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		format OutputFormat
		raw    []byte
	}{
		{"text too short", FormatText, []byte("+1.0E+00\r\n")},
		{"text not a number", FormatText, []byte("+1.2345678XE+00\r\n")},
		{"short int odd length", FormatShortInt, []byte{0x01}},
		{"long int short", FormatLongInt, []byte{0x01, 0x02}},
		{"short real long", FormatShortReal, []byte{1, 2, 3, 4, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeReading(tt.raw, withFormat(tt.format), Status{}, 1, 15)
			if !IsProtocolError(err) {
				t.Errorf("DecodeReading() error = %v, want ProtocolError", err)
			}
		})
	}
}

func TestDecodeReading_AnnotationFromSnapshotAndStatus(t *testing.T) {
	s := meterDefaults()
	s.function = "ACI"
	s.digits = 4

	st := DecodeStatus(StatusHighLow | StatusError)
	st.Tier = TierError
	st.ErrorCode = 8

	raw, _ := EncodeReading(0.5, FormatText, 0, 15)
	r, err := DecodeReading(raw, s, st, 0, 15)
	if err != nil {
		t.Fatalf("DecodeReading() error = %v", err)
	}
	if r.Unit != "A" || r.Digits != 4 {
		t.Errorf("Unit, Digits = %q, %d, want A, 4", r.Unit, r.Digits)
	}
	if !r.Overflow || !r.Error || r.Message == "" {
		t.Errorf("annotation = %+v, want overflow and error with message", r)
	}
	if r.Settings != s {
		t.Errorf("Settings = %v, want %v", r.Settings, s)
	}
}

func TestEncodeReading_OutOfRange(t *testing.T) {
	if _, err := EncodeReading(40, FormatShortInt, 0.001, 0); err == nil {
		t.Error("EncodeReading(40, SINT, 0.001) succeeded, want range error")
	}
	if _, err := EncodeReading(1, FormatLongInt, 0, 0); err == nil {
		t.Error("EncodeReading with zero scale succeeded, want error")
	}
}
