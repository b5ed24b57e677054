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

// Package stats holds the Prometheus collectors describing what
// horizon itself is doing.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tgres/horizon/event"
)

const namespace = "horizon"

// Drop reasons
const (
	DropMalformed  = "malformed"
	DropOutOfOrder = "out_of_order"
	DropNaN        = "nan"
)

var (
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "receiver",
		Name:      "events_received_total",
		Help:      "Events received, by source",
	}, []string{"source"})

	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "receiver",
		Name:      "events_dropped_total",
		Help:      "Events dropped without being buffered, by reason",
	}, []string{"reason"})

	QueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "receiver",
		Name:      "queue_length",
		Help:      "Events waiting in the dispatcher channel",
	})

	QueueFillPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "receiver",
		Name:      "queue_fill_percent",
		Help:      "Dispatcher channel fill as a percentage of its capacity",
	})

	TransportReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "reconnects_total",
		Help:      "Riemann websocket (re)connection attempts",
	})
)

type storeStatser interface {
	Stats() event.Stats
}

type ticker interface {
	Ticks() uint64
}

// Register registers all collectors with reg. Store and scheduler
// figures are read on scrape. Collectors which are already registered
// are not an error.
func Register(reg prometheus.Registerer, store storeStatser, sched ticker) error {
	collectors := []prometheus.Collector{
		EventsReceived, EventsDropped, QueueLength, QueueFillPercent, TransportReconnects,
	}
	if store != nil {
		collectors = append(collectors,
			storeGauge("hosts", "Distinct hosts in the store", store, func(st event.Stats) float64 { return float64(st.Hosts) }),
			storeGauge("buffers", "Host/service buffers in the store", store, func(st event.Stats) float64 { return float64(st.Buffers) }),
			storeGauge("events", "Events currently buffered", store, func(st event.Stats) float64 { return float64(st.Events) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "evicted_total",
				Help:      "Events evicted from the front of buffers",
			}, func() float64 { return float64(store.Stats().Evicted) }),
		)
	}
	if sched != nil {
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "ticks_total",
			Help:      "Refresh scheduler ticks",
		}, func() float64 { return float64(sched.Ticks()) }))
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func storeGauge(name, help string, store storeStatser, fn func(event.Stats) float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      name,
		Help:      help,
	}, func() float64 { return fn(store.Stats()) })
}
