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

// Package event is the in-memory event cache. Events are kept in one
// buffer per host/service pair, ordered by time, and are discarded
// from the front once they fall out of the window being charted.
// Nothing here is persisted.
package event

import (
	"errors"
	"time"
)

// UndefinedHost is the host recorded for events which arrived
// without one. It is buffered like any other host, but never shows
// up in a topology.
const UndefinedHost = "undefined"

// ErrOutOfOrder is returned by Append when an event is older than the
// last event in its buffer.
var ErrOutOfOrder = errors.New("event is older than the last buffered event")

// Event is a single measurement. Time has millisecond precision.
type Event struct {
	Time   time.Time
	Metric float64
}

// New returns an Event with t truncated to the millisecond.
func New(t time.Time, metric float64) Event {
	return Event{Time: t.Truncate(time.Millisecond), Metric: metric}
}

// Key selects one buffer.
type Key struct {
	Host    string
	Service string
}

func (k Key) String() string {
	return k.Host + ":" + k.Service
}
