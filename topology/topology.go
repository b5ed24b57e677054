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

// Package topology derives which hosts and services currently exist
// from what is in the event store, filtered by user visibility
// settings.
package topology

import (
	"sort"
	"sync"

	"github.com/tgres/horizon/event"
)

// Topology maps a host to its sorted list of visible services.
type Topology map[string][]string

// Hosts returns the sorted host names.
func (t Topology) Hosts() []string {
	result := make([]string, 0, len(t))
	for host := range t {
		result = append(result, host)
	}
	sort.Strings(result)
	return result
}

// PanelIDs returns the "host:service" identity of every panel, in
// host then service order.
func (t Topology) PanelIDs() []string {
	var result []string
	for _, host := range t.Hosts() {
		for _, service := range t[host] {
			result = append(result, event.Key{Host: host, Service: service}.String())
		}
	}
	return result
}

// Visibility records which services the user wants charted. A
// service not in the map is visible. Safe for concurrent use.
type Visibility struct {
	mu sync.RWMutex
	m  map[string]bool
}

func NewVisibility(m map[string]bool) *Visibility {
	v := &Visibility{m: make(map[string]bool, len(m))}
	for k, b := range m {
		v.m[k] = b
	}
	return v
}

func (v *Visibility) Visible(service string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	visible, ok := v.m[service]
	return !ok || visible
}

func (v *Visibility) Set(service string, visible bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m[service] = visible
}

// Replace swaps the whole map for a copy of m.
func (v *Visibility) Replace(m map[string]bool) {
	cpy := make(map[string]bool, len(m))
	for k, b := range m {
		cpy[k] = b
	}
	v.mu.Lock()
	v.m = cpy
	v.mu.Unlock()
}

// Snapshot returns a copy of the explicit settings.
func (v *Visibility) Snapshot() map[string]bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	result := make(map[string]bool, len(v.m))
	for k, b := range v.m {
		result[k] = b
	}
	return result
}

type hostLister interface {
	Hosts() []string
	ServicesFor(host string) []string
}

// Tracker reads the topology out of a store.
type Tracker struct {
	store hostLister
	vis   *Visibility
}

func NewTracker(store hostLister, vis *Visibility) *Tracker {
	if vis == nil {
		vis = NewVisibility(nil)
	}
	return &Tracker{store: store, vis: vis}
}

func (t *Tracker) Visibility() *Visibility { return t.vis }

// CurrentTopology returns hosts and their visible services. The
// undefined host is never included. A host whose services are all
// hidden is still present, with an empty list.
func (t *Tracker) CurrentTopology() Topology {
	result := make(Topology)
	for _, host := range t.store.Hosts() {
		if host == event.UndefinedHost {
			continue
		}
		services := make([]string, 0)
		for _, service := range t.store.ServicesFor(host) {
			if t.vis.Visible(service) {
				services = append(services, service)
			}
		}
		sort.Strings(services)
		result[host] = services
	}
	return result
}

// AllKnownServices returns every service name across all hosts
// (including the undefined host), deduplicated and sorted, regardless
// of visibility.
func (t *Tracker) AllKnownServices() []string {
	seen := make(map[string]bool)
	for _, host := range t.store.Hosts() {
		for _, service := range t.store.ServicesFor(host) {
			seen[service] = true
		}
	}
	result := make([]string, 0, len(seen))
	for service := range seen {
		result = append(result, service)
	}
	sort.Strings(result)
	return result
}
