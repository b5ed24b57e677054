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

package http

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/tgres/horizon/dash"
	"github.com/tgres/horizon/misc"
	"github.com/tgres/horizon/topology"
	"github.com/tidwall/gjson"
)

var debug bool

func init() {
	debug = os.Getenv("HORIZON_HTTP_DEBUG") != ""
}

// maxSettingsBody limits what a settings POST may send.
const maxSettingsBody = 1 << 20

type topologer interface {
	CurrentTopology() topology.Topology
	AllKnownServices() []string
}

type settingsUpdater interface {
	Settings() dash.Settings
	UpdateSettings(dash.Settings) error
	Connected() bool
}

type bufferClearer interface {
	ClearBuffers()
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// TopologyHandler returns {"host": ["service", ...], ...} with hidden
// services and the undefined host left out.
func TopologyHandler(tracker topologer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tracker.CurrentTopology())
	}
}

type serviceState struct {
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
}

// serviceStates merges the services in the store with the ones the
// user has an explicit setting for.
func serviceStates(known []string, vis map[string]bool) []serviceState {
	names := make(map[string]bool, len(known)+len(vis))
	for _, s := range known {
		names[s] = true
	}
	for s := range vis {
		names[s] = true
	}
	result := make([]serviceState, 0, len(names))
	for name := range names {
		visible, ok := vis[name]
		result = append(result, serviceState{Name: name, Visible: !ok || visible})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ServicesHandler lists every service known on any host, with its
// visibility.
func ServicesHandler(tracker topologer, d settingsUpdater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, serviceStates(tracker.AllKnownServices(), d.Settings().Services))
	}
}

type settingsJSON struct {
	Host       string         `json:"host"`
	Port       int            `json:"port"`
	Query      string         `json:"query"`
	Step       string         `json:"step"`
	Size       int            `json:"size"`
	FillPolicy string         `json:"fill-policy"`
	Services   []serviceState `json:"services"`
	Connected  bool           `json:"connected"`
}

func toSettingsJSON(s dash.Settings, known []string, connected bool) settingsJSON {
	return settingsJSON{
		Host:       s.Host,
		Port:       s.Port,
		Query:      s.Query,
		Step:       s.Step.String(),
		Size:       s.Size,
		FillPolicy: s.FillPolicy,
		Services:   serviceStates(known, s.Services),
		Connected:  connected,
	}
}

// applySettingsJSON overlays the fields present in body on s. Step
// may be a duration string or a number of milliseconds. A services
// list, if present, replaces all visibility settings.
func applySettingsJSON(s dash.Settings, body []byte) (dash.Settings, error) {
	if !gjson.ValidBytes(body) {
		return s, fmt.Errorf("invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return s, fmt.Errorf("settings must be a JSON object")
	}

	if v := root.Get("host"); v.Exists() {
		s.Host = v.String()
	}
	if v := root.Get("port"); v.Exists() {
		if v.Type != gjson.Number && v.Type != gjson.String {
			return s, fmt.Errorf("invalid port: %s", v.Raw)
		}
		s.Port = int(v.Int())
	}
	if v := root.Get("query"); v.Exists() {
		s.Query = v.String()
	}
	if v := root.Get("step"); v.Exists() {
		switch v.Type {
		case gjson.Number:
			s.Step = time.Duration(v.Float() * float64(time.Millisecond))
		case gjson.String:
			d, err := misc.BetterParseDuration(v.Str)
			if err != nil {
				return s, fmt.Errorf("invalid step: %v", err)
			}
			s.Step = d
		default:
			return s, fmt.Errorf("invalid step: %s", v.Raw)
		}
	}
	if v := root.Get("size"); v.Exists() {
		s.Size = int(v.Int())
	}
	if v := root.Get("fill-policy"); v.Exists() {
		s.FillPolicy = v.String()
	}
	if v := root.Get("services"); v.Exists() {
		if !v.IsArray() {
			return s, fmt.Errorf("services must be a list")
		}
		services := make(map[string]bool)
		var err error
		v.ForEach(func(_, svc gjson.Result) bool {
			name := svc.Get("name").String()
			if name == "" {
				err = fmt.Errorf("service without a name: %s", svc.Raw)
				return false
			}
			services[name] = svc.Get("visible").Bool()
			return true
		})
		if err != nil {
			return s, err
		}
		s.Services = services
	}
	return s, nil
}

// SettingsHandler returns the settings on GET, along with every
// known service and its visibility. A POST changes the fields it
// names and forces a refresh.
func SettingsHandler(tracker topologer, d settingsUpdater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
		case http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSettingsBody))
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			s, err := applySettingsJSON(d.Settings(), body)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := d.UpdateSettings(s); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		default:
			w.Header().Set("Allow", "GET, POST")
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		writeJSON(w, http.StatusOK, toSettingsJSON(d.Settings(), tracker.AllKnownServices(), d.Connected()))
	}
}

// ClearHandler drops all buffered events. POST only.
func ClearHandler(d bufferClearer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		d.ClearBuffers()
		fmt.Fprintf(w, "OK\n")
	}
}
