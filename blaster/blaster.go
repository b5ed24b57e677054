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

// Package blaster generates synthetic events for stress testing and
// demos. Every series is a sinusoid, and series are spread over hosts
// ten services at a time.
package blaster

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/tgres/horizon/receiver"
	"golang.org/x/time/rate"
)

const servicesPerHost = 10

type Blaster struct {
	nSeries int
	rcvr    receiver.EventQueuer
	limiter *rate.Limiter
	prefix  string
	span    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(rcvr receiver.EventQueuer) *Blaster {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Blaster{
		rcvr:    rcvr,
		limiter: rate.NewLimiter(rate.Limit(0), 1), // Zero limit allows no events
		span:    600 * time.Second,
		prefix:  "blaster",
		cancel:  cancel,
	}
	b.wg.Add(1)
	go blast(ctx, b)
	return b
}

func (b *Blaster) SetRate(perSec int) {
	// No need to lock, limiters arleady have a lock
	b.limiter.SetLimit(rate.Limit(perSec))
	log.Printf("Blaster: rate is now: %v per second, nSeries is: %v.", perSec, b.NSeries())
}

func (b *Blaster) SetNSeries(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nSeries = n
	log.Printf("Blaster: nSeries is now: %v, rate is: %v per second.", n, b.limiter.Limit())
}

func (b *Blaster) NSeries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nSeries
}

func (b *Blaster) Rate() float64 {
	return float64(b.limiter.Limit())
}

// Stop ends the generator goroutine.
func (b *Blaster) Stop() {
	b.cancel()
	b.wg.Wait()
}

// seriesKey returns the host and service of series n.
func (b *Blaster) seriesKey(n int64) (host, service string) {
	return fmt.Sprintf("%s%03d", b.prefix, n/servicesPerHost), fmt.Sprintf("sin.%02d", n%servicesPerHost)
}

func (b *Blaster) cycle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.nSeries == 0 {
		return false
	}

	// Pick a random number
	n := int64(rand.Int() % b.nSeries)

	// Current time
	now := time.Now()

	// The offset shifts the sinusoid to the right a bit based on
	// its number for fancier overall appearance.
	offset := time.Duration(n*10) * time.Second

	// Get the Y value
	y := sinTime(now.Add(offset), b.span) * 100

	host, service := b.seriesKey(n)
	b.rcvr.QueueEvent(&receiver.IncomingEvent{Host: host, Service: service, Time: now, Metric: y, Source: "blaster"})

	return true
}

func blast(ctx context.Context, b *Blaster) {
	defer b.wg.Done()

	cnt := 0
	lastStat := time.Now()
	statPeriod := 10 * time.Second

	for {
		if b.limiter.Limit() == 0 {
			// A zero Limit with a burst lets events through, so
			// idle here instead.
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		if err := b.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		if b.cycle() {
			cnt++
		}

		if cnt%1000 == 0 {
			if time.Now().Sub(lastStat) > statPeriod {
				log.Printf("Blaster: Count: %d \tper/sec: %v", cnt, float64(cnt)/time.Now().Sub(lastStat).Seconds())
				cnt = 0
				lastStat = time.Now()
			}
		}
	}
}

// Given a time, return a Y value that will draw a sinusoid spanning span
func sinTime(t time.Time, span time.Duration) float64 {
	seconds := span.Nanoseconds() / 1e9
	x := 2 * math.Pi / float64(seconds) * float64(t.Unix()%seconds)
	return math.Sin(x)
}
