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

package stats

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tgres/horizon/event"
)

type fakeTicker uint64

func (f fakeTicker) Ticks() uint64 { return uint64(f) }

func TestRegister(t *testing.T) {
	store := event.NewStore()
	store.Append("h", "a", time.Unix(1, 0), 1)
	store.Append("h", "b", time.Unix(1, 0), 1)
	store.Append("h", "b", time.Unix(2, 0), 1)

	reg := prometheus.NewRegistry()
	if err := Register(reg, store, fakeTicker(7)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// registering twice is fine
	if err := Register(reg, nil, nil); err != nil {
		t.Errorf("second Register: %v", err)
	}

	EventsReceived.WithLabelValues("test").Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := make(map[string]float64)
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				found[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				found[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}

	for name, expect := range map[string]float64{
		"horizon_store_buffers":      2,
		"horizon_store_events":       3,
		"horizon_store_hosts":        1,
		"horizon_refresh_ticks_total": 7,
	} {
		if found[name] != expect {
			t.Errorf("%s: %v, expected %v", name, found[name], expect)
		}
	}
	if found["horizon_receiver_events_received_total"] < 1 {
		t.Errorf("events_received_total not gathered")
	}
}
