//
// Copyright 2015 Gregory Trubetskoy. All Rights Reserved.
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

// Package daemon wires horizon together: it reads the config, starts
// the receiver, the dashboard and the listeners, and waits for a
// signal to exit.
package daemon

import (
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tgres/horizon/blaster"
	"github.com/tgres/horizon/dash"
	"github.com/tgres/horizon/event"
	h "github.com/tgres/horizon/http"
	"github.com/tgres/horizon/receiver"
	"github.com/tgres/horizon/riemann"
	"github.com/tgres/horizon/stats"
)

// app is everything Init starts, in the order it is stopped.
type app struct {
	sm     *serviceManager
	hub    *h.PanelHub
	dash   *dash.Dash
	blstr  *blaster.Blaster
	rcvr   *receiver.Receiver
	client *riemann.Client
}

var getCwd = func() string {
	wd, err := os.Getwd()
	if err != nil {
		log.Printf("Unable to determine working directory: %v", err)
		return ""
	}
	return wd
}

// Init starts horizon and blocks until it is told to exit. It
// returns nil if startup failed.
func Init(cfgPath string) (cfg *Config) { // not to be confused with init()

	runtime.GOMAXPROCS(runtime.NumCPU())

	log.Printf("Horizon starting.")

	cfg, err := readConfig(cfgPath)
	if err != nil {
		log.Printf("Error reading config file %s: %v", cfgPath, err)
		return nil
	}

	if err := processConfig(configer(cfg), getCwd()); err != nil { // This validates the config
		log.Printf("Error in config file %s: %v", cfgPath, err)
		return nil
	}

	if err := savePid(cfg.PidPath); err != nil {
		log.Printf("%v", err)
		return nil
	}

	a, err := createApp(cfg)
	if err != nil {
		log.Printf("Unable to start: %v", err)
		return cfg
	}

	if err := a.sm.run(); err != nil {
		log.Printf("Could not run the service manager: %v", err)
		a.stop(false)
		return cfg
	}

	startApp(a)

	waitForSignal(a)

	return cfg
}

var createApp = func(cfg *Config) (*app, error) {
	store := event.NewStore()

	rcvr := receiver.New(store, cfg.MaxReceiverQueueSize)
	rcvr.ReportRuntime = cfg.ReportRuntime

	client := riemann.New(rcvr)
	client.ReconnectInterval = cfg.ReconnectInterval.Duration

	hub := h.NewPanelHub()

	d, err := dash.New(dash.Config{
		Settings:        cfg.settings(),
		RefreshInterval: cfg.RefreshInterval.Duration,
		SourceCacheSize: cfg.SourceCacheSize,
		SettingsFile:    cfg.SettingsFile,
	}, store, hub, client)
	if err != nil {
		return nil, err
	}
	d.Queue = rcvr

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := stats.Register(reg, store, d.Scheduler); err != nil {
		return nil, err
	}

	var blstr *blaster.Blaster
	if cfg.Blaster {
		log.Printf("Blaster enabled, set its rate with /blaster/set.")
		blstr = blaster.New(rcvr)
	}

	www := &wwwServer{
		rcvr:       rcvr,
		dash:       d,
		hub:        hub,
		blstr:      blstr,
		reg:        reg,
		listenSpec: cfg.HttpListenSpec,
	}

	return &app{
		sm:     newServiceManager(rcvr, www, cfg),
		hub:    hub,
		dash:   d,
		blstr:  blstr,
		rcvr:   rcvr,
		client: client,
	}, nil
}

// The receiver must be running before anything queues to it.
var startApp = func(a *app) {
	a.rcvr.Start()
	a.dash.Start()
}

func (a *app) stop(wait bool) {
	a.sm.closeListeners(wait)
	a.hub.Stop()
	a.dash.Stop() // closes the riemann client too
	if a.blstr != nil {
		a.blstr.Stop()
	}
	a.rcvr.Stop()
}

var waitForSignal = func(a *app) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(ch)
	for s := range ch {
		log.Printf("Got signal: %v", s)
		if s == syscall.SIGHUP {
			cycleLog()
			continue
		}
		gracefulExit(a)
		return
	}
}

func gracefulExit(a *app) {
	log.Printf("Gracefully exiting...")
	atomic.StoreInt32(&quitting, 1)
	a.stop(true)
}

func Finish(cfg *Config) {
	atomic.StoreInt32(&quitting, 1)
	log.Println("main: All goroutines finished, exiting.")

	closeLog()

	removePid(cfg.PidPath)
}
