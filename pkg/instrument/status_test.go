// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"context"
	"errors"
	"testing"
)

func TestDecodeStatus(t *testing.T) {
	tests := []struct {
		name string
		raw  byte
		want Status
	}{
		{"idle", 0x00, Status{}},
		{"ready", 0x10, Status{Ready: true}},
		{"service request with error", 0x60, Status{ServiceRequest: true, Error: true}},
		{"overflow complete", 0x03, Status{HighLow: true, OperationComplete: true}},
		{"power on front panel", 0x0C, Status{PowerOn: true, FrontPanel: true}},
		{"front panel key", 0x44, Status{ServiceRequest: true, FrontPanel: true}},
		{"reserved bit ignored", 0x80, Status{}},
		{"all", 0xFF, Status{
			OperationComplete: true, HighLow: true, PowerOn: true, Ready: true,
			Error: true, ServiceRequest: true, FrontPanel: true,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeStatus(tt.raw)
			tt.want.Raw = tt.raw
			tt.want.Time = got.Time
			if got != tt.want {
				t.Errorf("DecodeStatus(0x%02X) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

// cannedQuery answers escalation queries from a map and records them
func cannedQuery(answers map[string]string, asked *[]string) QueryFunc {
	return func(ctx context.Context, wire string) ([]byte, error) {
		*asked = append(*asked, wire)
		a, ok := answers[wire]
		if !ok {
			return nil, errors.New("unexpected query " + wire)
		}
		return []byte(a), nil
	}
}

var testProtocol = StatusProtocol{
	ErrorQuery: "ERR?;",
	AuxQuery:   "AUXERR?;",
	IsHardware: func(code uint16) bool { return code&1 != 0 },
}

func TestEscalate(t *testing.T) {
	tests := []struct {
		name      string
		raw       byte
		answers   map[string]string
		wantTier  int
		wantErr   uint16
		wantAux   uint16
		wantAsked []string
	}{
		{
			name:     "no error flag",
			raw:      StatusReady,
			wantTier: TierByte,
		},
		{
			name:      "software error stops at tier 1",
			raw:       StatusError,
			answers:   map[string]string{"ERR?;": "4"},
			wantTier:  TierError,
			wantErr:   4,
			wantAsked: []string{"ERR?;"},
		},
		{
			name:      "hardware error reads aux",
			raw:       StatusError | StatusServiceRequest,
			answers:   map[string]string{"ERR?;": "1", "AUXERR?;": "2048"},
			wantTier:  TierAux,
			wantErr:   1,
			wantAux:   2048,
			wantAsked: []string{"ERR?;", "AUXERR?;"},
		},
		{
			name:      "padded reply",
			raw:       StatusError,
			answers:   map[string]string{"ERR?;": " 65535\r\n", "AUXERR?;": "0"},
			wantTier:  TierAux,
			wantErr:   65535,
			wantAsked: []string{"ERR?;", "AUXERR?;"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for round := 0; round < 3; round++ {
				var asked []string
				st, err := Escalate(context.Background(), DecodeStatus(tt.raw), testProtocol, cannedQuery(tt.answers, &asked))
				if err != nil {
					t.Fatalf("Escalate() error = %v", err)
				}
				if st.Tier != tt.wantTier || st.ErrorCode != tt.wantErr || st.AuxCode != tt.wantAux {
					t.Errorf("Escalate() = tier %d err %d aux %d, want tier %d err %d aux %d",
						st.Tier, st.ErrorCode, st.AuxCode, tt.wantTier, tt.wantErr, tt.wantAux)
				}
				if !equalStrings(asked, tt.wantAsked) {
					t.Errorf("Escalate() asked %v, want %v", asked, tt.wantAsked)
				}
			}
		})
	}
}

func TestEscalate_BadRegister(t *testing.T) {
	tests := []struct {
		name    string
		answers map[string]string
	}{
		{"not a number", map[string]string{"ERR?;": "E1"}},
		{"negative", map[string]string{"ERR?;": "-1"}},
		{"too large", map[string]string{"ERR?;": "70000"}},
		{"bad aux", map[string]string{"ERR?;": "1", "AUXERR?;": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var asked []string
			_, err := Escalate(context.Background(), DecodeStatus(StatusError), testProtocol, cannedQuery(tt.answers, &asked))
			if !IsProtocolError(err) {
				t.Errorf("Escalate() error = %v, want ProtocolError", err)
			}
		})
	}
}

func TestEscalate_TransportErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	query := func(ctx context.Context, wire string) ([]byte, error) { return nil, boom }

	_, err := Escalate(context.Background(), DecodeStatus(StatusError), testProtocol, query)
	if !errors.Is(err, boom) {
		t.Errorf("Escalate() error = %v, want %v", err, boom)
	}
}

func TestStatus_String(t *testing.T) {
	st := DecodeStatus(StatusError | StatusReady)
	st.Tier = TierError
	st.ErrorCode = 2
	if got, want := st.String(), "0x30 ERR|RDY err=0x0002"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
