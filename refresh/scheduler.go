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

// Package refresh periodically reconciles the set of chart panels
// with the current topology and pushes fresh windows of data to them.
package refresh

import (
	"context"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tgres/horizon/event"
	"github.com/tgres/horizon/series"
	"github.com/tgres/horizon/topology"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultStep     = 500 * time.Millisecond
	DefaultSize     = 960
)

// Renderer is whatever draws the charts. Panels are identified by
// host and by host:service (see PanelID).
type Renderer interface {
	AddHost(host string)
	RemoveHost(host string)
	AddPanel(host, service string)
	RemovePanel(host, service string)
	Update(host, service string, start time.Time, step time.Duration, values []float64)
}

// PanelID is the identity of a service panel, unique across hosts.
func PanelID(host, service string) string {
	return event.Key{Host: host, Service: service}.String()
}

// Window describes what every chart shows: Size samples, Step apart,
// ending at the most recent step boundary.
type Window struct {
	Step time.Duration
	Size int
}

func (w Window) withDefaults() Window {
	if w.Step <= 0 {
		w.Step = DefaultStep
	}
	if w.Size <= 0 {
		w.Size = DefaultSize
	}
	if w.Size > series.MaxPoints {
		w.Size = series.MaxPoints
	}
	if limit := time.Duration(math.MaxInt64) / w.Step; time.Duration(w.Size) > limit {
		w.Size = int(limit)
	}
	return w
}

// Bounds returns start and stop of the window ending at now.
func (w Window) Bounds(now time.Time) (start, stop time.Time) {
	stop = now.Truncate(w.Step)
	start = stop.Add(-time.Duration(w.Size) * w.Step)
	return start, stop
}

type topologer interface {
	CurrentTopology() topology.Topology
}

type sourcer interface {
	Get(host, service string) *series.Source
}

type evicter interface {
	EvictAllBefore(threshold time.Time) int
}

// Scheduler is either idle or active. When active, it ticks every
// Interval.
type Scheduler struct {
	Interval time.Duration
	// If set, everything older than the window start is evicted at the
	// end of every tick, hidden services and the undefined host
	// included.
	Evicter evicter

	tracker  topologer
	sources  sourcer
	renderer Renderer

	stateMu sync.Mutex
	cancel  context.CancelFunc
	loopWg  sync.WaitGroup

	winMu  sync.Mutex
	window Window

	tickMu sync.Mutex
	hosts  map[string]bool
	panels map[event.Key]bool
	ticks  uint64
}

var timeNow = time.Now

func New(tracker topologer, sources sourcer, renderer Renderer) *Scheduler {
	return &Scheduler{
		Interval: DefaultInterval,
		tracker:  tracker,
		sources:  sources,
		renderer: renderer,
		hosts:    make(map[string]bool),
		panels:   make(map[event.Key]bool),
	}
}

// Start makes the scheduler active and ticks once before returning,
// so that the first render does not wait a full Interval. If already
// active, only the window is replaced (and a tick happens).
func (s *Scheduler) Start(w Window) {
	w = w.withDefaults()
	s.winMu.Lock()
	s.window = w
	s.winMu.Unlock()

	s.stateMu.Lock()
	if s.cancel == nil {
		interval := s.Interval
		if interval <= 0 {
			interval = DefaultInterval
		}
		var ctx context.Context
		ctx, s.cancel = context.WithCancel(context.Background())
		s.loopWg.Add(1)
		go s.loop(ctx, interval)
		log.Printf("refresh: started, interval: %v, step: %v, size: %d", interval, w.Step, w.Size)
	} else {
		log.Printf("refresh: window changed, step: %v, size: %d", w.Step, w.Size)
	}
	s.stateMu.Unlock()

	s.Tick()
}

// Stop makes the scheduler idle. The periodic tick is not running
// once it returns.
func (s *Scheduler) Stop() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.loopWg.Wait()
	log.Printf("refresh: stopped.")
}

func (s *Scheduler) Active() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) Window() Window {
	s.winMu.Lock()
	defer s.winMu.Unlock()
	return s.window
}

func (s *Scheduler) Ticks() uint64 {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.ticks
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration) {
	defer s.loopWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.Window())
		}
	}
}

// Tick reconciles panels with the current topology and updates every
// panel with a fresh window. Does nothing when idle.
func (s *Scheduler) Tick() {
	if !s.Active() {
		return
	}
	s.tick(s.Window())
}

func (s *Scheduler) tick(w Window) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	topo := s.tracker.CurrentTopology()
	s.reconcile(topo)

	start, stop := w.Bounds(timeNow())
	for _, host := range topo.Hosts() {
		for _, service := range topo[host] {
			values := s.sources.Get(host, service).Values(start, stop, w.Step)
			s.renderer.Update(host, service, start, w.Step, values)
		}
	}
	if s.Evicter != nil {
		s.Evicter.EvictAllBefore(start)
	}
	s.ticks++
}

// reconcile must be called with tickMu held. Removals go first, then
// additions in host, service order.
func (s *Scheduler) reconcile(topo topology.Topology) {
	current := make(map[event.Key]bool)
	for host, services := range topo {
		for _, service := range services {
			current[event.Key{Host: host, Service: service}] = true
		}
	}

	for _, k := range sortedKeys(s.panels) {
		if !current[k] {
			s.renderer.RemovePanel(k.Host, k.Service)
			delete(s.panels, k)
		}
	}
	for _, host := range sortedHosts(s.hosts) {
		if _, ok := topo[host]; !ok {
			s.renderer.RemoveHost(host)
			delete(s.hosts, host)
		}
	}
	for _, host := range topo.Hosts() {
		if !s.hosts[host] {
			s.renderer.AddHost(host)
			s.hosts[host] = true
		}
		for _, service := range topo[host] {
			k := event.Key{Host: host, Service: service}
			if !s.panels[k] {
				s.renderer.AddPanel(host, service)
				s.panels[k] = true
			}
		}
	}
}

func sortedKeys(m map[event.Key]bool) []event.Key {
	result := make([]event.Key, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Host != result[j].Host {
			return result[i].Host < result[j].Host
		}
		return result[i].Service < result[j].Service
	})
	return result
}

func sortedHosts(m map[string]bool) []string {
	result := make([]string, 0, len(m))
	for h := range m {
		result = append(result, h)
	}
	sort.Strings(result)
	return result
}
