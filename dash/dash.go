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

// Package dash holds the state of a running dashboard: the event
// store and everything derived from it, the transport feeding it, and
// the user's settings.
package dash

import (
	"log"
	"sync"
	"time"

	"github.com/tgres/horizon/event"
	"github.com/tgres/horizon/refresh"
	"github.com/tgres/horizon/series"
	"github.com/tgres/horizon/topology"
)

// Transport is the inbound event subscription.
type Transport interface {
	Open(host string, port int, query string)
	Close()
	Connected() bool
}

// Drainer discards events queued but not yet in the store.
type Drainer interface {
	Drain() int
}

type Config struct {
	Settings        Settings
	RefreshInterval time.Duration
	SourceCacheSize int
	// If set, settings are loaded from and saved to this file.
	SettingsFile string
}

type Dash struct {
	Store      *event.Store
	Visibility *topology.Visibility
	Tracker    *topology.Tracker
	Sources    *series.Sources
	Scheduler  *refresh.Scheduler

	// If set, ClearBuffers drains it so that events from the old
	// subscription do not reappear.
	Queue Drainer

	transport    Transport
	settingsFile string

	mu       sync.Mutex
	settings Settings
}

// New builds the dashboard state. Settings found in cfg.SettingsFile
// take precedence over cfg.Settings. transport may be nil.
func New(cfg Config, store *event.Store, renderer refresh.Renderer, transport Transport) (*Dash, error) {
	s := cfg.Settings
	if cfg.SettingsFile != "" {
		saved, found, err := loadSettings(cfg.SettingsFile)
		if err != nil {
			return nil, err
		}
		if found {
			log.Printf("dash: loaded settings from %s", cfg.SettingsFile)
			s = saved
		}
	}
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	policy, _ := series.ParseFillPolicy(s.FillPolicy)

	if store == nil {
		store = event.NewStore()
	}
	vis := topology.NewVisibility(s.Services)
	tracker := topology.NewTracker(store, vis)
	sources := series.NewSources(store, policy, cfg.SourceCacheSize)
	sched := refresh.New(tracker, sources, renderer)
	sched.Evicter = store
	if cfg.RefreshInterval > 0 {
		sched.Interval = cfg.RefreshInterval
	}

	s.Services = nil // Visibility is the source of truth
	return &Dash{
		Store:        store,
		Visibility:   vis,
		Tracker:      tracker,
		Sources:      sources,
		Scheduler:    sched,
		transport:    transport,
		settingsFile: cfg.SettingsFile,
		settings:     s,
	}, nil
}

// Start connects the transport and starts the scheduler.
func (d *Dash) Start() {
	d.ForceRefresh()
}

// Stop is the reverse of Start.
func (d *Dash) Stop() {
	d.Scheduler.Stop()
	if d.transport != nil {
		d.transport.Close()
	}
}

// Settings returns the current settings, including visibility.
func (d *Dash) Settings() Settings {
	d.mu.Lock()
	s := d.settings
	d.mu.Unlock()
	s.Services = d.Visibility.Snapshot()
	return s
}

// Connected reports whether the transport is up.
func (d *Dash) Connected() bool {
	return d.transport != nil && d.transport.Connected()
}

// UpdateSettings applies s, persists it and forces a refresh. Zero
// fields in s take their defaults. Visibility is replaced wholesale
// by s.Services.
func (d *Dash) UpdateSettings(s Settings) error {
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return err
	}
	policy, _ := series.ParseFillPolicy(s.FillPolicy)

	// Nothing changes unless the settings could be saved.
	if d.settingsFile != "" {
		saved := s
		saved.Services = copyServices(s.Services)
		if err := saveSettings(d.settingsFile, saved); err != nil {
			log.Printf("dash: %v", err)
			return err
		}
	}

	d.Visibility.Replace(s.Services)
	d.Sources.SetPolicy(policy)

	s.Services = nil
	d.mu.Lock()
	d.settings = s
	d.mu.Unlock()

	log.Printf("dash: settings updated: %s:%d query: %q step: %v size: %d fill: %s",
		s.Host, s.Port, s.Query, s.Step, s.Size, s.FillPolicy)
	d.ForceRefresh()
	return nil
}

// ClearBuffers drops all buffered events and reconnects.
func (d *Dash) ClearBuffers() {
	if d.transport != nil {
		d.transport.Close()
	}
	if d.Queue != nil {
		if n := d.Queue.Drain(); n > 0 {
			log.Printf("dash: discarded %d queued events.", n)
		}
	}
	d.Store.Clear()
	log.Printf("dash: event buffers cleared.")
	d.ForceRefresh()
}

// ForceRefresh reopens the subscription with the current settings
// and makes the scheduler tick right away.
func (d *Dash) ForceRefresh() {
	s := d.Settings()
	if d.transport != nil {
		d.transport.Open(s.Host, s.Port, s.Query)
	}
	d.Scheduler.Start(s.window())
}
