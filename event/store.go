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

package event

import (
	"sort"
	"sync"
	"time"
)

type buffer struct {
	events []Event
}

func (b *buffer) last() (Event, bool) {
	if len(b.events) == 0 {
		return Event{}, false
	}
	return b.events[len(b.events)-1], true
}

// evictBefore only ever cuts from the front, so the cost is the
// number of events removed plus one comparison.
func (b *buffer) evictBefore(threshold time.Time) int {
	n := 0
	for n < len(b.events) && b.events[n].Time.Before(threshold) {
		n++
	}
	if n == 0 {
		return 0
	}
	if n == len(b.events) {
		b.events = nil // let go of the backing array
	} else {
		b.events = b.events[n:]
	}
	return n
}

// Store is the event cache, indexed by host, then service. The zero
// value is not usable, use NewStore().
type Store struct {
	mu      sync.Mutex
	hosts   map[string]map[string]*buffer
	evicted uint64
	ooo     uint64
}

// Stats is a point in time summary of a Store.
type Stats struct {
	Hosts      int
	Buffers    int
	Events     int
	Evicted    uint64
	OutOfOrder uint64
}

func NewStore() *Store {
	return &Store{hosts: make(map[string]map[string]*buffer)}
}

// Append adds an event to the buffer for host/service, creating the
// buffer if necessary. An event older than the last one in the buffer
// is not added and ErrOutOfOrder is returned, because Scan depends on
// the buffer being sorted.
func (s *Store) Append(host, service string, t time.Time, metric float64) error {
	e := New(t, metric)

	s.mu.Lock()
	defer s.mu.Unlock()

	services, ok := s.hosts[host]
	if !ok {
		services = make(map[string]*buffer)
		s.hosts[host] = services
	}
	b, ok := services[service]
	if !ok {
		b = &buffer{}
		services[service] = b
	}
	if last, ok := b.last(); ok && e.Time.Before(last.Time) {
		s.ooo++
		return ErrOutOfOrder
	}
	b.events = append(b.events, e)
	return nil
}

// lookup must be called with the lock held.
func (s *Store) lookup(host, service string) *buffer {
	if services, ok := s.hosts[host]; ok {
		return services[service]
	}
	return nil
}

// EvictBefore removes all leading events older than threshold and
// returns how many were removed. Unknown keys are ignored.
func (s *Store) EvictBefore(host, service string, threshold time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictBefore(host, service, threshold)
}

func (s *Store) evictBefore(host, service string, threshold time.Time) int {
	b := s.lookup(host, service)
	if b == nil {
		return 0
	}
	n := b.evictBefore(threshold)
	s.evicted += uint64(n)
	return n
}

// EvictAllBefore is EvictBefore for every buffer in the store,
// including ones no chart is looking at.
func (s *Store) EvictAllBefore(threshold time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, services := range s.hosts {
		for _, b := range services {
			n += b.evictBefore(threshold)
		}
	}
	s.evicted += uint64(n)
	return n
}

// BufferFor returns a copy of the buffer for host/service. The second
// return value is false if the key was never seen (or has been
// cleared), in which case the slice is nil. A key which is present
// but has had all of its events evicted returns an empty slice and
// true.
func (s *Store) BufferFor(host, service string) ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.lookup(host, service)
	if b == nil {
		return nil, false
	}
	result := make([]Event, len(b.events))
	copy(result, b.events)
	return result, true
}

// Scan evicts everything older than start from the buffer for k, then
// calls fn with what remains. The store is locked for the duration of
// fn, and the slice must not be retained after fn returns. Returns
// false (without calling fn) if k is not in the store.
func (s *Store) Scan(k Key, start time.Time, fn func([]Event)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.lookup(k.Host, k.Service)
	if b == nil {
		return false
	}
	s.evictBefore(k.Host, k.Service, start)
	fn(b.events)
	return true
}

// Clear discards all buffers.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts = make(map[string]map[string]*buffer)
}

// Hosts returns the sorted list of distinct hosts.
func (s *Store) Hosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]string, 0, len(s.hosts))
	for host := range s.hosts {
		result = append(result, host)
	}
	sort.Strings(result)
	return result
}

// ServicesFor returns the sorted list of services known for host, or
// nil if the host is unknown.
func (s *Store) ServicesFor(host string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	services, ok := s.hosts[host]
	if !ok {
		return nil
	}
	result := make([]string, 0, len(services))
	for service := range services {
		result = append(result, service)
	}
	sort.Strings(result)
	return result
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Hosts: len(s.hosts), Evicted: s.evicted, OutOfOrder: s.ooo}
	for _, services := range s.hosts {
		st.Buffers += len(services)
		for _, b := range services {
			st.Events += len(b.events)
		}
	}
	return st
}
