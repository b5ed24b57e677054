//
// Copyright 2016 Gregory Trubetskoy. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package series turns buffered events into fixed step series
// suitable for a chart. At its core is Bucketize, which divides a
// time window into step-sized buckets and averages whatever events
// fall into each.
//
// This is an illustration of a window of 4 steps starting at 0. Four
// events arrived: 2.0 at 0.5, 4.0 at 1.2, 6.0 at 1.8 and 1.0 at 3.1.
//
//  ||  2.0  |  4.0 6.0  |         |  1.0    ||
//  ||===*===|===*===*===|=========|===*=====||
//   0       1           2         3          4  ---> time
//
// The result is [2.0, 5.0, ?, 1.0], where ? depends on the
// FillPolicy: 5.0 with CarryForward, NaN with NaNFill and 0 with
// ZeroFill.
package series

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tgres/horizon/event"
)

// FillPolicy decides the value of a bucket which has no events.
type FillPolicy int

const (
	// CarryForward repeats the previous value emitted within the
	// same call. The first bucket of a call, if empty, is NaN.
	CarryForward FillPolicy = iota
	// NaNFill makes every empty bucket NaN.
	NaNFill
	// ZeroFill makes every empty bucket 0.
	ZeroFill
)

func (p FillPolicy) String() string {
	switch p {
	case CarryForward:
		return "carry"
	case NaNFill:
		return "nan"
	case ZeroFill:
		return "zero"
	}
	return fmt.Sprintf("FillPolicy(%d)", int(p))
}

// ParseFillPolicy accepts the names returned by FillPolicy.String(),
// case insensitive. An empty string means CarryForward.
func ParseFillPolicy(s string) (FillPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "carry", "carry-forward":
		return CarryForward, nil
	case "nan":
		return NaNFill, nil
	case "zero":
		return ZeroFill, nil
	}
	return CarryForward, fmt.Errorf("invalid fill policy: %q (valid: carry, nan, zero)", s)
}

func (p FillPolicy) fill(prev float64, havePrev bool) float64 {
	switch p {
	case CarryForward:
		if havePrev {
			return prev
		}
	case ZeroFill:
		return 0
	}
	return math.NaN()
}

// MaxPoints is the most buckets a single window may span.
const MaxPoints = 100000

// Len returns the number of buckets in the window [start, stop) for
// the given step, i.e. ceil((stop-start)/step). Zero if the window is
// empty or step is not positive.
func Len(start, stop time.Time, step time.Duration) int {
	span := stop.Sub(start)
	if step <= 0 || span <= 0 {
		return 0
	}
	n := span / step
	if span%step != 0 {
		n++
	}
	return int(n)
}

// NaNs returns a slice of n NaN values.
func NaNs(n int) []float64 {
	result := make([]float64, n)
	for i := range result {
		result[i] = math.NaN()
	}
	return result
}

// Bucketize returns one value per step in [start, stop). events must
// be sorted by time. Events before start are skipped (normally they
// have already been evicted, see event.Store.Scan), and so are events
// past the end of the last bucket. The events slice is only read.
func Bucketize(events []event.Event, start, stop time.Time, step time.Duration, policy FillPolicy) []float64 {
	n := Len(start, stop, step)
	result := make([]float64, 0, n)

	var (
		i        int // a single forward cursor for the whole window
		prev     float64
		havePrev bool
	)

	for i < len(events) && events[i].Time.Before(start) {
		i++
	}

	for b := 0; b < n; b++ {
		end := start.Add(time.Duration(b+1) * step)

		var sum float64
		count := 0
		for ; i < len(events) && events[i].Time.Before(end); i++ {
			sum += events[i].Metric
			count++
		}

		var v float64
		if count > 0 {
			v = sum / float64(count)
		} else {
			v = policy.fill(prev, havePrev)
		}
		result = append(result, v)
		prev, havePrev = v, true
	}
	return result
}
