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

package http

import (
	"fmt"
	"net/http"
	"strconv"
)

type blaster interface {
	SetRate(int)
	SetNSeries(int)
	Rate() float64
	NSeries() int
}

type blasterState struct {
	Rate    float64 `json:"rate"`
	NSeries int     `json:"n"`
}

// formInt returns the last value of name in the form, if present. It
// must be a non-negative integer.
func formInt(r *http.Request, name string) (v int, ok bool, err error) {
	vals := r.Form[name]
	if len(vals) == 0 {
		return 0, false, nil
	}
	s := vals[len(vals)-1]
	if v, err = strconv.Atoi(s); err != nil || v < 0 {
		return 0, false, fmt.Errorf("%s must be a non-negative integer, got %q", name, s)
	}
	return v, true, nil
}

// BlasterSetHandler changes the blaster rate (events per second)
// and/or number of series: /blaster/set?rate=100&n=50. Nothing is
// changed unless both are valid. It returns the resulting state.
func BlasterSetHandler(blstr blaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rate, setRate, err := formInt(r, "rate")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ns, setN, err := formInt(r, "n")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if setN {
			blstr.SetNSeries(ns)
		}
		if setRate {
			blstr.SetRate(rate)
		}
		writeJSON(w, http.StatusOK, blasterState{Rate: blstr.Rate(), NSeries: blstr.NSeries()})
	}
}
