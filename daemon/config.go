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
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tgres/horizon/dash"
	"github.com/tgres/horizon/misc"
	"github.com/tgres/horizon/receiver"
	"github.com/tgres/horizon/riemann"
)

const (
	DefaultRefreshInterval = 5 * time.Second
	DefaultSourceCacheSize = 1024
)

type Config struct { // Needs to be exported for TOML to work
	PidPath                  string          `toml:"pid-file"`
	LogPath                  string          `toml:"log-file"`
	LogCycle                 duration        `toml:"log-cycle-interval"`
	HttpListenSpec           string          `toml:"http-listen-spec"`
	GraphiteTextListenSpec   string          `toml:"graphite-text-listen-spec"`
	GraphiteUdpListenSpec    string          `toml:"graphite-udp-listen-spec"`
	GraphitePickleListenSpec string          `toml:"graphite-pickle-listen-spec"`
	RiemannHost              string          `toml:"riemann-host"`
	RiemannPort              int             `toml:"riemann-port"`
	Query                    string          `toml:"query"`
	Step                     duration        `toml:"step"`
	Size                     int             `toml:"size"`
	FillPolicy               string          `toml:"fill-policy"`
	Services                 map[string]bool `toml:"services"`
	RefreshInterval          duration        `toml:"refresh-interval"`
	ReconnectInterval        duration        `toml:"reconnect-interval"`
	SourceCacheSize          int             `toml:"source-cache-size"`
	MaxReceiverQueueSize     int             `toml:"max-receiver-queue-size"`
	SettingsFile             string          `toml:"settings-file"`
	ReportRuntime            bool            `toml:"report-runtime"`
	Blaster                  bool            `toml:"blaster"`
}

type duration struct{ time.Duration }

func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = misc.BetterParseDuration(string(text))
	return err
}

var readConfig = func(cfgPath string) (*Config, error) {
	cfg := &Config{}
	md, err := toml.DecodeFile(cfgPath, cfg)
	if err != nil {
		return nil, err
	}
	for _, key := range md.Undecoded() {
		log.Printf("Ignoring unknown config key %q in %s.", key.String(), cfgPath)
	}
	return cfg, nil
}

// absPath makes path absolute relative to wd and creates its
// directory.
func absPath(what, path, wd string) (string, error) {
	if !filepath.IsAbs(path) {
		if wd == "" {
			return "", fmt.Errorf("%s must be absolute path if working directory cannot be determined", what)
		}
		path = filepath.Join(wd, path)
	}
	dir, _ := filepath.Split(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.New(fmt.Sprintf("Unable to create directory: '%s' (%v).", dir, err))
	}
	return path, nil
}

func (c *Config) processConfigPidFile(wd string) (err error) {
	if c.PidPath == "" {
		return fmt.Errorf("pid-file setting empty")
	}
	c.PidPath, err = absPath("pid-file", c.PidPath, wd)
	return err
}

func (c *Config) processConfigLogFile(wd string) (err error) {
	if os.Getenv("HORIZON_LOG") != "" {
		c.LogPath = os.Getenv("HORIZON_LOG")
	}
	if c.LogPath == "" {
		return fmt.Errorf("log-file setting empty")
	}
	if c.LogPath, err = absPath("log-file", c.LogPath, wd); err != nil {
		return err
	}
	log.Printf("Logs will be written to '%s'.", c.LogPath)
	return nil
}

func (c *Config) processConfigLogCycleInterval() error {
	if c.LogCycle.Duration == 0 {
		return fmt.Errorf("log-cycle-interval setting empty")
	}
	log.Printf("Will cycle logs every %v (log-cycle-interval).", c.LogCycle.Duration)

	logDir, _ := filepath.Split(c.LogPath)
	log.Printf("All further status messages will be written to log file(s) in '%s'.", logDir)
	logFileCycler(c.LogPath, c.LogCycle.Duration)
	log.Print("Server starting.")

	return nil
}

func (c *Config) processListenSpecs() error {
	if c.HttpListenSpec == "" && c.GraphiteTextListenSpec == "" &&
		c.GraphiteUdpListenSpec == "" && c.GraphitePickleListenSpec == "" {
		log.Printf("No listen specs configured, events will only come from Riemann.")
	}
	return nil
}

// settings returns the dashboard settings given in the config file.
func (c *Config) settings() dash.Settings {
	return dash.Settings{
		Host:       c.RiemannHost,
		Port:       c.RiemannPort,
		Query:      c.Query,
		Step:       c.Step.Duration,
		Size:       c.Size,
		FillPolicy: c.FillPolicy,
		Services:   c.Services,
	}
}

func (c *Config) processDashSettings() error {
	s := c.settings().WithDefaults()
	if err := s.Validate(); err != nil {
		return err
	}
	c.RiemannHost, c.RiemannPort, c.Query = s.Host, s.Port, s.Query
	c.Step.Duration, c.Size, c.FillPolicy = s.Step, s.Size, s.FillPolicy
	log.Printf("Riemann is at %s:%d, query: %q.", c.RiemannHost, c.RiemannPort, c.Query)
	log.Printf("Charts are %d steps of %v (%v), fill policy: %s.", c.Size, c.Step.Duration, time.Duration(c.Size)*c.Step.Duration, c.FillPolicy)
	return nil
}

func (c *Config) processRefreshInterval() error {
	if c.RefreshInterval.Duration < 0 {
		return fmt.Errorf("refresh-interval cannot be negative")
	}
	if c.RefreshInterval.Duration == 0 {
		c.RefreshInterval.Duration = DefaultRefreshInterval
	}
	log.Printf("Panels will be refreshed every %v (refresh-interval).", c.RefreshInterval.Duration)
	return nil
}

func (c *Config) processReconnectInterval() error {
	if c.ReconnectInterval.Duration < 0 {
		return fmt.Errorf("reconnect-interval cannot be negative")
	}
	if c.ReconnectInterval.Duration == 0 {
		c.ReconnectInterval.Duration = riemann.DefaultReconnectInterval
	}
	log.Printf("Riemann reconnects at most every %v (reconnect-interval).", c.ReconnectInterval.Duration)
	return nil
}

func (c *Config) processSourceCacheSize() error {
	if c.SourceCacheSize < 0 {
		return fmt.Errorf("source-cache-size cannot be negative")
	}
	if c.SourceCacheSize == 0 {
		c.SourceCacheSize = DefaultSourceCacheSize
	}
	return nil
}

func (c *Config) processMaxReceiverQueueSize() error {
	if c.MaxReceiverQueueSize < 0 {
		return fmt.Errorf("max-receiver-queue-size cannot be negative")
	}
	if c.MaxReceiverQueueSize == 0 {
		log.Printf("max-receiver-queue-size unspecified, defaults to %d", receiver.DefaultQueueSize)
		c.MaxReceiverQueueSize = receiver.DefaultQueueSize
	} else {
		log.Printf("Receiver Queue Size is limited to %d (max-receiver-queue-size).", c.MaxReceiverQueueSize)
	}
	return nil
}

func (c *Config) processSettingsFile(wd string) (err error) {
	if c.SettingsFile == "" {
		log.Printf("settings-file is empty, settings changes will not survive a restart.")
		return nil
	}
	if c.SettingsFile, err = absPath("settings-file", c.SettingsFile, wd); err != nil {
		return err
	}
	log.Printf("Settings will be saved in '%s'.", c.SettingsFile)
	return nil
}

type configer interface {
	processConfigPidFile(string) error
	processConfigLogFile(string) error
	processConfigLogCycleInterval() error
	processListenSpecs() error
	processDashSettings() error
	processRefreshInterval() error
	processReconnectInterval() error
	processSourceCacheSize() error
	processMaxReceiverQueueSize() error
	processSettingsFile(string) error
}

var processConfig = func(c configer, wd string) error {

	if err := c.processConfigPidFile(wd); err != nil {
		return err
	}
	if err := c.processConfigLogFile(wd); err != nil {
		return err
	}
	if err := c.processConfigLogCycleInterval(); err != nil {
		return err
	}
	if err := c.processListenSpecs(); err != nil {
		return err
	}
	if err := c.processDashSettings(); err != nil {
		return err
	}
	if err := c.processRefreshInterval(); err != nil {
		return err
	}
	if err := c.processReconnectInterval(); err != nil {
		return err
	}
	if err := c.processSourceCacheSize(); err != nil {
		return err
	}
	if err := c.processMaxReceiverQueueSize(); err != nil {
		return err
	}
	if err := c.processSettingsFile(wd); err != nil {
		return err
	}
	return nil
}
