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

package daemon

import (
	"fmt"
	"io"
	"log"
	"os"
	"testing"
)

// testConfig is a config as processConfig would leave it, with no
// listeners.
func testConfig() *Config {
	c := &Config{}
	c.processDashSettings()
	c.processRefreshInterval()
	c.processReconnectInterval()
	c.processSourceCacheSize()
	c.processMaxReceiverQueueSize()
	return c
}

func Test_Init(t *testing.T) {
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	// Stub out all the function Init calls

	save_readConfig := readConfig
	readConfig = func(cfgPath string) (*Config, error) {
		return testConfig(), nil
	}

	save_getCwd := getCwd
	getCwd = func() string { return "cwd" }

	save_processConfig := processConfig
	var gotWd string
	processConfig = func(c configer, wd string) error { gotWd = wd; return nil }

	save_savePid := savePid
	savePid = func(pidPath string) error { return nil }

	save_createApp := createApp
	var created *app
	createApp = func(cfg *Config) (*app, error) {
		a, err := save_createApp(cfg)
		created = a
		return a, err
	}

	save_startApp := startApp
	startCalled := 0
	startApp = func(a *app) { startCalled++ }

	save_waitForSignal := waitForSignal
	waitCalled := 0
	waitForSignal = func(a *app) { waitCalled++; gracefulExit(a) }

	defer func() {
		readConfig = save_readConfig
		getCwd = save_getCwd
		processConfig = save_processConfig
		savePid = save_savePid
		createApp = save_createApp
		startApp = save_startApp
		waitForSignal = save_waitForSignal
		quitting = 0
	}()

	cfg := Init("horizon.conf")
	if cfg == nil {
		t.Fatalf("Init returned nil")
	}
	if gotWd != "cwd" {
		t.Errorf("processConfig got wd %q", gotWd)
	}
	if created == nil || created.dash == nil || created.rcvr == nil || created.sm == nil {
		t.Errorf("createApp: %+v", created)
	}
	if startCalled != 1 || waitCalled != 1 {
		t.Errorf("startApp called %d times, waitForSignal %d times", startCalled, waitCalled)
	}
	if !isQuitting() {
		t.Errorf("gracefulExit did not set quitting")
	}

	// failures before the pid is saved return nil
	quitting = 0
	readConfig = func(cfgPath string) (*Config, error) { return nil, fmt.Errorf("no such file") }
	if cfg := Init("horizon.conf"); cfg != nil {
		t.Errorf("Init should return nil when the config cannot be read")
	}
	readConfig = func(cfgPath string) (*Config, error) { return testConfig(), nil }
	processConfig = func(c configer, wd string) error { return fmt.Errorf("bad config") }
	if cfg := Init("horizon.conf"); cfg != nil {
		t.Errorf("Init should return nil on a config error")
	}
	processConfig = func(c configer, wd string) error { return nil }
	savePid = func(pidPath string) error { return fmt.Errorf("locked") }
	if cfg := Init("horizon.conf"); cfg != nil {
		t.Errorf("Init should return nil when the pid cannot be saved")
	}
	if startCalled != 1 {
		t.Errorf("startApp called after a failure")
	}
}

func Test_createApp(t *testing.T) {
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	cfg := testConfig()
	cfg.Blaster = true
	a, err := createApp(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if a.blstr == nil {
		t.Errorf("blaster not created")
	}
	if a.client.ReconnectInterval != cfg.ReconnectInterval.Duration {
		t.Errorf("ReconnectInterval: %v", a.client.ReconnectInterval)
	}
	if s := a.dash.Settings(); s.Host != cfg.RiemannHost || s.Step != cfg.Step.Duration {
		t.Errorf("dash settings: %+v", s)
	}
	if len(a.sm.services) != 4 {
		t.Errorf("services: %v", a.sm.names())
	}
	if err := a.sm.run(); err != nil {
		t.Errorf("run with blank listen specs: %v", err)
	}
	a.stop(true)

	cfg.FillPolicy = "sideways"
	if _, err := createApp(cfg); err == nil {
		t.Errorf("bad fill policy: no error")
	}
}
