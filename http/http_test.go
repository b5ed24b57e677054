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
	"compress/gzip"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tgres/horizon/dash"
	"github.com/tgres/horizon/event"
	"github.com/tgres/horizon/receiver"
)

type nopRenderer struct{}

func (nopRenderer) AddHost(string)                                             {}
func (nopRenderer) RemoveHost(string)                                          {}
func (nopRenderer) AddPanel(string, string)                                    {}
func (nopRenderer) RemovePanel(string, string)                                 {}
func (nopRenderer) Update(string, string, time.Time, time.Duration, []float64) {}

func newDash(t *testing.T) *dash.Dash {
	log.SetOutput(io.Discard)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	d, err := dash.New(dash.Config{RefreshInterval: time.Hour}, nil, nopRenderer{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Stop)
	return d
}

func get(h http.Handler, url string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", url, nil))
	return w
}

func Test_parseTime(t *testing.T) {
	if tm, err := parseTime(""); tm != nil || err != nil {
		t.Errorf("parseTime(''): %v %v", tm, err)
	}
	tm, err := parseTime("-10min")
	if err != nil || time.Since(*tm) < 10*time.Minute || time.Since(*tm) > 11*time.Minute {
		t.Errorf("parseTime(-10min): %v %v", tm, err)
	}
	if tm, err = parseTime("1425959940"); err != nil || tm.Unix() != 1425959940 {
		t.Errorf("parseTime(1425959940): %v %v", tm, err)
	}
	if tm, err = parseTime("now"); err != nil || time.Since(*tm) > time.Second {
		t.Errorf("parseTime(now): %v %v", tm, err)
	}
	for _, bad := range []string{"-sometime", "yesterday"} {
		if _, err := parseTime(bad); err == nil {
			t.Errorf("parseTime(%q) should fail", bad)
		}
	}
}

func Test_parseTarget(t *testing.T) {
	k, err := parseTarget("web1:disk:/var")
	if err != nil || k.Host != "web1" || k.Service != "disk:/var" {
		t.Errorf("parseTarget: %v %v", k, err)
	}
	for _, bad := range []string{"", "web1", ":cpu", "web1:"} {
		if _, err := parseTarget(bad); err == nil {
			t.Errorf("parseTarget(%q) should fail", bad)
		}
	}
}

type renderResult struct {
	Target     string        `json:"target"`
	Datapoints [][2]*float64 `json:"datapoints"`
}

func TestRenderHandler(t *testing.T) {
	d := newDash(t)
	d.Store.Append("web1", "cpu", time.Unix(1000, 0), 2)
	d.Store.Append("web1", "cpu", time.Unix(1000, 500000000), 4)
	d.Store.Append("web1", "cpu", time.Unix(1002, 0), 7)

	h := RenderHandler(d.Store, d.Sources, d)
	w := get(h, "/render?target=web1:cpu&target=web2:cpu&from=1000&until=1004&step=1s")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var result []renderResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, w.Body.String())
	}
	if len(result) != 2 || result[0].Target != "web1:cpu" || result[1].Target != "web2:cpu" {
		t.Fatalf("targets: %+v", result)
	}

	// carry forward: [3 3 7 7]
	expect := []float64{3, 3, 7, 7}
	dps := result[0].Datapoints
	if len(dps) != len(expect) {
		t.Fatalf("datapoints: %d", len(dps))
	}
	for i, dp := range dps {
		if dp[0] == nil || *dp[0] != expect[i] || *dp[1] != float64(1000000+i*1000) {
			t.Errorf("datapoint %d: %v %v", i, dp[0], dp[1])
		}
	}

	// unknown key is all nulls
	for _, dp := range result[1].Datapoints {
		if dp[0] != nil {
			t.Errorf("unknown key has a value: %v", *dp[0])
		}
	}

	// rendering does not evict
	if buf, _ := d.Store.BufferFor("web1", "cpu"); len(buf) != 3 {
		t.Errorf("render evicted: %v", buf)
	}
}

func TestRenderHandler_BadRequests(t *testing.T) {
	d := newDash(t)
	h := RenderHandler(d.Store, d.Sources, d)
	for _, url := range []string{
		"/render?target=web1",
		"/render?target=web1:cpu&from=yesterday",
		"/render?target=web1:cpu&until=-x",
		"/render?target=web1:cpu&step=-1s",
		"/render?target=web1:cpu&from=-1y&step=1ms",
	} {
		if w := get(h, url); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", url, w.Code)
		}
	}
}

func TestRenderHandler_Gzip(t *testing.T) {
	d := newDash(t)
	h := RenderHandler(d.Store, d.Sources, d)
	r := httptest.NewRequest("GET", "/render?target=web1:cpu&from=-10s", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("not gzipped")
	}
	gz, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(gz)
	if !strings.HasPrefix(string(body), "[\n{\"target\": \"web1:cpu\"") {
		t.Errorf("body: %s", body)
	}
}

func TestTopologyAndServicesHandlers(t *testing.T) {
	d := newDash(t)
	now := time.Now()
	d.Store.Append("web1", "cpu", now, 1)
	d.Store.Append("web1", "mem", now, 1)
	d.Store.Append(event.UndefinedHost, "load", now, 1)
	d.Visibility.Set("mem", false)

	w := get(TopologyHandler(d.Tracker), "/topology")
	if body := strings.TrimSpace(w.Body.String()); body != `{"web1":["cpu"]}` {
		t.Errorf("topology: %s", body)
	}

	w = get(ServicesHandler(d.Tracker, d), "/services")
	var states []serviceState
	json.Unmarshal(w.Body.Bytes(), &states)
	expect := []serviceState{{"cpu", true}, {"load", true}, {"mem", false}}
	if !reflect.DeepEqual(states, expect) {
		t.Errorf("services: %+v", states)
	}
}

func TestSettingsHandler(t *testing.T) {
	d := newDash(t)
	d.Store.Append("web1", "cpu", time.Now(), 1)
	h := SettingsHandler(d.Tracker, d)

	w := get(h, "/settings")
	var s settingsJSON
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("GET /settings: %v", err)
	}
	if s.Host != "localhost" || s.Port != 5556 || s.Step != "500ms" || s.Size != 960 || s.Connected {
		t.Errorf("GET /settings: %+v", s)
	}
	if !reflect.DeepEqual(s.Services, []serviceState{{"cpu", true}}) {
		t.Errorf("GET /settings services: %+v", s.Services)
	}

	body := `{"host": "riemann", "query": "service = \"cpu\"", "step": 1000, "services": [{"name": "cpu", "visible": false}]}`
	r := httptest.NewRequest("POST", "/settings", strings.NewReader(body))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /settings: %d %s", w.Code, w.Body.String())
	}
	got := d.Settings()
	if got.Host != "riemann" || got.Port != 5556 || got.Query != `service = "cpu"` || got.Step != time.Second {
		t.Errorf("settings after POST: %+v", got)
	}
	if d.Visibility.Visible("cpu") {
		t.Errorf("cpu still visible")
	}
	if !d.Scheduler.Active() {
		t.Errorf("POST /settings did not force a refresh")
	}

	for _, bad := range []string{
		`not json`,
		`[1, 2]`,
		`{"step": "forever"}`,
		`{"port": 0.5e6}`,
		`{"services": {"cpu": true}}`,
		`{"services": [{"visible": true}]}`,
		`{"fill-policy": "sideways"}`,
	} {
		w = httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("POST", "/settings", strings.NewReader(bad)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("POST %s: status %d", bad, w.Code)
		}
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("DELETE", "/settings", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE /settings: status %d", w.Code)
	}
}

func TestClearHandler(t *testing.T) {
	d := newDash(t)
	d.Store.Append("web1", "cpu", time.Now(), 1)
	h := ClearHandler(d)

	if w := get(h, "/clear"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /clear: status %d", w.Code)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/clear", nil))
	if w.Code != http.StatusOK || len(d.Store.Hosts()) != 0 {
		t.Errorf("POST /clear: status %d, hosts %v", w.Code, d.Store.Hosts())
	}
}

type fakeQueuer struct {
	sync.Mutex
	evs []*receiver.IncomingEvent
}

func (f *fakeQueuer) QueueEvent(ev *receiver.IncomingEvent) {
	f.Lock()
	f.evs = append(f.evs, ev)
	f.Unlock()
}

func TestPixelHandler(t *testing.T) {
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	q := &fakeQueuer{}
	w := get(PixelHandler(q), "/pixel?web1.page.views=12.5@1425959940&nohost=1")
	if w.Header().Get("Content-Type") != "image/gif" {
		t.Errorf("not a pixel")
	}
	if len(q.evs) != 1 {
		t.Fatalf("events: %d", len(q.evs))
	}
	ev := q.evs[0]
	if ev.Host != "web1" || ev.Service != "page.views" || ev.Metric != 12.5 || ev.Time.Unix() != 1425959940 {
		t.Errorf("event: %+v", ev)
	}
}

type fakeBlaster struct {
	rate, n int
}

func (f *fakeBlaster) SetRate(r int)    { f.rate = r }
func (f *fakeBlaster) SetNSeries(n int) { f.n = n }
func (f *fakeBlaster) Rate() float64    { return float64(f.rate) }
func (f *fakeBlaster) NSeries() int     { return f.n }

func TestBlasterSetHandler(t *testing.T) {
	b := &fakeBlaster{}
	h := BlasterSetHandler(b)
	w := get(h, "/blaster/set?rate=100&n=20")
	if w.Code != http.StatusOK {
		t.Errorf("status %d", w.Code)
	}
	if b.rate != 100 || b.n != 20 {
		t.Errorf("blaster: %+v", b)
	}
	if body := strings.TrimSpace(w.Body.String()); body != `{"rate":100,"n":20}` {
		t.Errorf("body: %s", body)
	}

	for _, url := range []string{"/blaster/set?rate=fast", "/blaster/set?rate=5&n=-1"} {
		if w := get(h, url); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", url, w.Code)
		}
	}
	if b.rate != 100 || b.n != 20 {
		t.Errorf("a bad request changed the blaster: %+v", b)
	}

	// no parameters just reports
	if w := get(h, "/blaster/set"); !strings.Contains(w.Body.String(), `"rate":100`) {
		t.Errorf("report: %s", w.Body.String())
	}
}
