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

package series

import (
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tgres/horizon/event"
)

// Scanner is the part of event.Store a Source needs.
type Scanner interface {
	Scan(k event.Key, start time.Time, fn func([]event.Event)) bool
}

// Source binds one host/service to the store. It is what a chart
// calls to pull a window of values.
type Source struct {
	key    event.Key
	store  Scanner
	policy FillPolicy
}

func NewSource(store Scanner, host, service string, policy FillPolicy) *Source {
	return &Source{key: event.Key{Host: host, Service: service}, store: store, policy: policy}
}

func (s *Source) Key() event.Key { return s.key }

// Values evicts everything before start from the underlying buffer
// and returns the bucketized window. If the key is not (or no
// longer) in the store, the result is all NaN, which a chart should
// render as a gap.
func (s *Source) Values(start, stop time.Time, step time.Duration) []float64 {
	var result []float64
	if !s.store.Scan(s.key, start, func(events []event.Event) {
		result = Bucketize(events, start, stop, step, s.policy)
	}) {
		return NaNs(Len(start, stop, step))
	}
	return result
}

// Sources keeps a bounded set of Source objects so that they are not
// recreated on every refresh. When the cache is full the least
// recently used Source is dropped, which only costs a reallocation
// next time it is asked for.
type Sources struct {
	*lru.Cache
	mu        sync.Mutex
	store     Scanner
	policy    FillPolicy
	evictions int
	purging   bool
}

// NewSources returns a Sources of capacity size. A size of 0 or less
// defaults to 1024.
func NewSources(store Scanner, policy FillPolicy, size int) *Sources {
	if size <= 0 {
		size = 1024
	}
	s := &Sources{store: store, policy: policy}
	var err error
	if s.Cache, err = lru.NewWithEvict(size, s.onEvict); err != nil {
		// only possible with a non-positive size
		log.Printf("series.NewSources: %v", err)
	}
	return s
}

func (s *Sources) onEvict(_, _ interface{}) {
	s.mu.Lock()
	if !s.purging {
		s.evictions++
	}
	s.mu.Unlock()
}

// Get returns the cached Source for host/service, creating it if
// necessary. Get never touches the store.
func (s *Sources) Get(host, service string) *Source {
	key := event.Key{Host: host, Service: service}
	if v, ok := s.Cache.Get(key); ok {
		return v.(*Source)
	}
	src := NewSource(s.store, host, service, s.Policy())
	s.Cache.Add(key, src)
	return src
}

// Policy returns the current fill policy.
func (s *Sources) Policy() FillPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetPolicy changes the fill policy for all sources, cached ones are
// dropped so they pick up the new policy.
func (s *Sources) SetPolicy(p FillPolicy) {
	s.mu.Lock()
	changed := s.policy != p
	s.policy = p
	s.purging = changed
	s.mu.Unlock()
	if changed {
		s.Cache.Purge()
		s.mu.Lock()
		s.purging = false
		s.mu.Unlock()
	}
}

// Evictions is the number of sources dropped because the cache was
// full. Purges done by SetPolicy are not counted.
func (s *Sources) Evictions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions
}
