// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hp3457

import "fmt"

// Error register bits (ERR?)
const (
	ErrHardware        = 1 << 0
	ErrCalibration     = 1 << 1
	ErrTriggerTooFast  = 1 << 2
	ErrSyntax          = 1 << 3
	ErrUnknownCommand  = 1 << 4
	ErrUnknownParam    = 1 << 5
	ErrParamRange      = 1 << 6
	ErrParamMissing    = 1 << 7
	ErrParamIgnored    = 1 << 8
	ErrOutOfCal        = 1 << 9
	ErrAutocalRequired = 1 << 10
)

var errorText = []string{
	"hardware error, see AUXERR",
	"calibration or ACAL process error",
	"trigger too fast",
	"syntax error",
	"unknown command",
	"unknown parameter",
	"parameter out of range",
	"required parameter missing",
	"parameter ignored",
	"out of calibration",
	"autocal required",
}

var auxErrorText = []string{
	"isolation error during operation",
	"slave processor self-test failure",
	"isolation self-test failure",
	"integrator convergence error",
	"front end zero measurement error",
	"current source, offset DAC or front end failure",
	"A/D self-test failure",
	"A/D slope convergence error",
	"ROM checksum failure",
	"RAM self-test failure",
	"calibration RAM checksum error",
	"A/D link failure",
	"ACV converter failure",
	"control processor reset",
	"calibration RAM write protected",
}

// IsHardware reports whether the error register calls for AUXERR?
func IsHardware(code uint16) bool {
	return code&ErrHardware != 0
}

// DescribeError lists the conditions set in an error register value
func DescribeError(code uint16) []string {
	return describeBits(code, errorText)
}

// DescribeAuxError lists the conditions set in an auxiliary error register value
func DescribeAuxError(code uint16) []string {
	return describeBits(code, auxErrorText)
}

func describeBits(code uint16, text []string) []string {
	var out []string
	for bit := 0; bit < 16; bit++ {
		if code&(1<<bit) == 0 {
			continue
		}
		if bit < len(text) {
			out = append(out, text[bit])
		} else {
			out = append(out, fmt.Sprintf("undocumented bit %d", bit))
		}
	}
	return out
}
