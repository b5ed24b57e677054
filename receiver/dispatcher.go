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

package receiver

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/tgres/horizon/event"
	"github.com/tgres/horizon/stats"
)

var errMalformed = fmt.Errorf("malformed event")

// validate fills in the undefined host and reports the reason an
// event cannot be buffered, if any.
func validate(ev *IncomingEvent) (reason string, err error) {
	if ev.Host == "" {
		ev.Host = event.UndefinedHost
	}
	if ev.Service == "" {
		return stats.DropMalformed, fmt.Errorf("%v: missing service", errMalformed)
	}
	if ev.Time.IsZero() {
		return stats.DropMalformed, fmt.Errorf("%v: missing time", errMalformed)
	}
	if math.IsNaN(ev.Metric) || math.IsInf(ev.Metric, 0) {
		// A NaN is not a measurement, and charts draw gaps as
		// NaN anyway.
		return stats.DropNaN, fmt.Errorf("%v: metric is %v", errMalformed, ev.Metric)
	}
	return "", nil
}

var dispatcherProcessIncomingEvent = func(ev *IncomingEvent, store eventAppender) {
	source := ev.Source
	if source == "" {
		source = "unknown"
	}
	stats.EventsReceived.WithLabelValues(source).Inc()

	if reason, err := validate(ev); err != nil {
		stats.EventsDropped.WithLabelValues(reason).Inc()
		if reason != stats.DropNaN || debug {
			log.Printf("dispatcher: dropping event from %s: %v", source, err)
		}
		return
	}

	if err := store.Append(ev.Host, ev.Service, ev.Time, ev.Metric); err != nil {
		stats.EventsDropped.WithLabelValues(stats.DropOutOfOrder).Inc()
		log.Printf("dispatcher: dropping %s:%s at %v: %v", ev.Host, ev.Service, ev.Time, err)
	}
}

func reportDispatcherChannelFillPercent(evCh chan *IncomingEvent, stop <-chan struct{}, nap time.Duration) {
	cp := float64(cap(evCh))
	tick := time.NewTicker(nap)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
		}
		ln := float64(len(evCh))
		stats.QueueLength.Set(ln)
		if cp > 0 {
			fillPct := (ln / cp) * 100
			stats.QueueFillPercent.Set(fillPct)
			if fillPct > 75 {
				log.Printf("WARNING: dispatcher channel %v percent full!", fillPct)
			}
		}
	}
}

var dispatcher = func(wc wController, evCh chan *IncomingEvent, store eventAppender) {
	wc.onEnter()
	defer wc.onExit()

	wc.onStarted()

	for {
		ev, ok := <-evCh
		if !ok {
			log.Printf("dispatcher: channel closed, shutting down")
			break
		}
		dispatcherProcessIncomingEvent(ev, store)
	}
}
