// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"math"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// ParseFloat parses a finite float64.
func ParseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.NewNotValid(err, "float")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.NotValidf("float %q", s)
	}
	return v, nil
}

// FormatFloat formats a float64 with the fewest digits that parse back to the same value.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// RoundHalfUp rounds x to the given number of decimal places, ties away from zero. Rounding is applied
// to the shortest decimal representation of x, so 2.0005 rounds to 2.001 even though its binary
// value is slightly below.
func RoundHalfUp(x float64, places int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || places < 0 {
		return x
	}
	s := strconv.FormatFloat(math.Abs(x), 'f', -1, 64)
	intPart, fracPart, _ := strings.Cut(s, ".")
	if len(fracPart) <= places {
		return x
	}
	digits := []byte(intPart + fracPart[:places])
	if fracPart[places] >= '5' {
		i := len(digits) - 1
		for ; i >= 0; i-- {
			if digits[i] == '9' {
				digits[i] = '0'
				continue
			}
			digits[i]++
			break
		}
		if i < 0 {
			digits = append([]byte{'1'}, digits...)
		}
	}
	text := string(digits)
	if places > 0 {
		n := len(digits) - places
		text = string(digits[:n]) + "." + string(digits[n:])
	}
	r, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return x
	}
	if x < 0 {
		r = -r
	}
	return r
}
