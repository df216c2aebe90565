// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hp3586

import "fmt"

var errorText = map[uint16]string{
	1:  "frequency out of range",
	2:  "invalid bandwidth for function",
	3:  "input overload",
	4:  "synthesizer out of lock",
	5:  "calibration failure",
	6:  "syntax error",
	7:  "unknown command",
	8:  "parameter out of range",
	9:  "reading memory overflow",
	10: "trigger too fast",
}

// DescribeError returns the text of an ERR? code. The level meter reports a
// single code, not a bit field.
func DescribeError(code uint16) string {
	if code == 0 {
		return "no error"
	}
	if text, ok := errorText[code]; ok {
		return text
	}
	return fmt.Sprintf("error %d", code)
}
