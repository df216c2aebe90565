// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"fmt"
	"math"
	"sort"
)

// Range is one discrete full-scale range of a measurement function
type Range struct {
	Max  float64 // largest absolute value the range can display
	Unit string
}

func (r Range) String() string {
	return fmt.Sprintf("%g %s", r.Max, r.Unit)
}

// RangeTable lists the ranges of every function, smallest first
type RangeTable map[Function][]Range

// Ranges returns the ranges of fn, smallest first
func (t RangeTable) Ranges(fn Function) []Range {
	return t[fn]
}

// Select returns the smallest range of fn that can hold value, and its index.
// ok is false when fn has no ranges or value exceeds the largest one.
func (t RangeTable) Select(fn Function, value float64) (Range, int, bool) {
	ranges := t[fn]
	abs := math.Abs(value)
	i := sort.Search(len(ranges), func(i int) bool {
		return ranges[i].Max >= abs
	})
	if i == len(ranges) {
		return Range{}, -1, false
	}
	return ranges[i], i, true
}

// Index returns the position of the range whose maximum is max, or -1
func (t RangeTable) Index(fn Function, max float64) int {
	for i, r := range t[fn] {
		if r.Max == max {
			return i
		}
	}
	return -1
}

// Largest returns the top range of fn
func (t RangeTable) Largest(fn Function) (Range, bool) {
	ranges := t[fn]
	if len(ranges) == 0 {
		return Range{}, false
	}
	return ranges[len(ranges)-1], true
}

// Exceeds reports whether value is beyond the given full-scale maximum
func Exceeds(max, value float64) bool {
	return math.Abs(value) > max
}
