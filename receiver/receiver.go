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

// Package receiver manages the receiving end of the data. Every
// producer (the riemann client, graphite listeners, the blaster)
// queues events here, and a single dispatcher goroutine appends them
// to the event store in the order they arrived.
package receiver

import (
	"os"
	"sync"
	"time"
)

var debug bool

func init() {
	debug = os.Getenv("HORIZON_RCVR_DEBUG") != ""
}

const DefaultQueueSize = 65536

type Receiver struct {
	store         eventAppender
	ReportRuntime bool
	RuntimeHost   string
	RuntimeNap    time.Duration
	FillReportNap time.Duration
	evCh          chan *IncomingEvent
	closeMu       sync.RWMutex
	closed        bool
	stopCh        chan struct{}
	dispatcherWg  sync.WaitGroup
	reporterWg    sync.WaitGroup
}

// IncomingEvent is the form in which every producer hands data to
// the receiver. Source names the producer and is only used for
// accounting.
type IncomingEvent struct {
	Host    string
	Service string
	Time    time.Time
	Metric  float64
	Source  string
}

type eventAppender interface {
	Append(host, service string, t time.Time, metric float64) error
}

// EventQueuer is what producers need from the receiver.
type EventQueuer interface {
	QueueEvent(ev *IncomingEvent)
}

// New returns a receiver feeding store. A queueSize <= 0 means
// DefaultQueueSize.
func New(store eventAppender, queueSize int) *Receiver {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	return &Receiver{
		store:         store,
		RuntimeHost:   host,
		RuntimeNap:    5 * time.Second,
		FillReportNap: time.Second,
		evCh:          make(chan *IncomingEvent, queueSize), // so we can survive a reconnect storm
		stopCh:        make(chan struct{}),
	}
}

func (r *Receiver) Start() {
	doStart(r)
}

func (r *Receiver) Stop() {
	doStop(r)
}

// QueueEvent blocks while the channel is full. Events queued after
// Stop are dropped.
func (r *Receiver) QueueEvent(ev *IncomingEvent) {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return
	}
	r.evCh <- ev
}

// Drain discards whatever is waiting in the queue and returns the
// number of events discarded. An event the dispatcher has already
// taken off the queue may still be appended.
func (r *Receiver) Drain() int {
	n := 0
	for {
		select {
		case _, ok := <-r.evCh:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
