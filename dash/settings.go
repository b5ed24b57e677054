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

package dash

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/tgres/horizon/refresh"
	"github.com/tgres/horizon/riemann"
	"github.com/tgres/horizon/series"
	"gopkg.in/yaml.v3"
)

// Settings are what a user can change at runtime. Services holds the
// visibility of every service the user has expressed an opinion on;
// services not listed are visible.
type Settings struct {
	Host       string          `yaml:"host"`
	Port       int             `yaml:"port"`
	Query      string          `yaml:"query"`
	Step       time.Duration   `yaml:"step"`
	Size       int             `yaml:"size"`
	FillPolicy string          `yaml:"fill-policy"`
	Services   map[string]bool `yaml:"services,omitempty"`
}

// DefaultSettings match what Riemann and the charts expect out of
// the box.
func DefaultSettings() Settings {
	return Settings{
		Host:       riemann.DefaultHost,
		Port:       riemann.DefaultPort,
		Query:      riemann.DefaultQuery,
		Step:       refresh.DefaultStep,
		Size:       refresh.DefaultSize,
		FillPolicy: series.CarryForward.String(),
	}
}

// WithDefaults fills in zero fields from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.Host == "" {
		s.Host = d.Host
	}
	if s.Port == 0 {
		s.Port = d.Port
	}
	if s.Query == "" {
		s.Query = d.Query
	}
	if s.Step == 0 {
		s.Step = d.Step
	}
	if s.Size == 0 {
		s.Size = d.Size
	}
	if s.FillPolicy == "" {
		s.FillPolicy = d.FillPolicy
	}
	return s
}

// Validate checks settings after defaults have been applied.
func (s Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}
	if s.Step < time.Millisecond {
		return fmt.Errorf("step must be at least 1ms, got %v", s.Step)
	}
	if s.Size < 1 {
		return fmt.Errorf("size must be positive, got %d", s.Size)
	}
	if s.Size > series.MaxPoints {
		return fmt.Errorf("size must be at most %d, got %d", series.MaxPoints, s.Size)
	}
	if time.Duration(s.Size) > time.Duration(math.MaxInt64)/s.Step {
		return fmt.Errorf("window of %d x %v is too long", s.Size, s.Step)
	}
	if _, err := series.ParseFillPolicy(s.FillPolicy); err != nil {
		return err
	}
	return nil
}

func (s Settings) window() refresh.Window {
	return refresh.Window{Step: s.Step, Size: s.Size}
}

func copyServices(m map[string]bool) map[string]bool {
	if m == nil {
		return nil
	}
	result := make(map[string]bool, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

// loadSettings reads path. A missing file is not an error, found is
// false then.
func loadSettings(path string) (s Settings, found bool, err error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return s, false, fmt.Errorf("loadSettings: locking %s: %v", path, err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, false, nil
		}
		return s, false, fmt.Errorf("loadSettings: %v", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, false, fmt.Errorf("loadSettings: parsing %s: %v", path, err)
	}
	return s, true, nil
}

// saveSettings writes s to path via a temporary file and a rename,
// holding the lock file so that two processes never interleave.
func saveSettings(path string, s Settings) error {
	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("saveSettings: %v", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("saveSettings: locking %s: %v", path, err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("saveSettings: %v", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("saveSettings: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("saveSettings: %v", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("saveSettings: %v", err)
	}
	return nil
}
