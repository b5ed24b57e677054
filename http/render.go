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

// Package http provides HTTP functionality for querying buffered
// series, changing dashboard settings, pushing panel frames over a
// websocket, as well as submitting events to a receiver.
package http

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tgres/horizon/dash"
	"github.com/tgres/horizon/event"
	"github.com/tgres/horizon/misc"
	"github.com/tgres/horizon/series"
)

// MaxRenderPoints is the most samples a single target may ask for.
const MaxRenderPoints = series.MaxPoints

type bufferer interface {
	BufferFor(host, service string) ([]event.Event, bool)
}

type policier interface {
	Policy() series.FillPolicy
}

type settingser interface {
	Settings() dash.Settings
}

// RenderHandler serves
//
//	/render?target=host:service[&target=...]&from=-10min&until=now&step=500ms
//
// as [{"target": "host:service", "datapoints": [[value, unix_ms], ...]}, ...].
// Empty buckets that have no value are null. Step defaults to the
// dashboard step, from defaults to the dashboard window. Rendering
// never evicts anything from the store.
func RenderHandler(store bufferer, sources policier, settings settingser) http.HandlerFunc {

	return makeGzipHandler(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")

			start := time.Now()
			s := settings.Settings()

			step := s.Step
			if v := r.FormValue("step"); v != "" {
				var err error
				if step, err = misc.BetterParseDuration(v); err != nil || step <= 0 {
					log.Printf("RenderHandler(): (step) invalid step %q: %v", v, err)
					w.WriteHeader(http.StatusBadRequest)
					return
				}
			}

			to, err := parseTime(r.FormValue("until"))
			if err != nil {
				log.Printf("RenderHandler(): (until) %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			} else if to == nil {
				tmp := time.Now()
				to = &tmp
			}
			from, err := parseTime(r.FormValue("from"))
			if err != nil {
				log.Printf("RenderHandler(): (from) %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			} else if from == nil {
				tmp := to.Add(-time.Duration(s.Size) * step)
				from = &tmp
			}

			stop := to.Truncate(step)
			begin := from.Truncate(step)
			if n := series.Len(begin, stop, step); n > MaxRenderPoints {
				log.Printf("RenderHandler(): %d points requested, max is %d", n, MaxRenderPoints)
				w.WriteHeader(http.StatusBadRequest)
				return
			}

			targets := r.Form["target"]
			keys := make([]event.Key, 0, len(targets))
			for _, target := range targets {
				k, err := parseTarget(target)
				if err != nil {
					log.Printf("RenderHandler(): %v", err)
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				keys = append(keys, k)
			}

			policy := sources.Policy()
			fmt.Fprintf(w, "[")
			for tn, k := range keys {
				var values []float64
				if events, ok := store.BufferFor(k.Host, k.Service); ok {
					values = series.Bucketize(events, begin, stop, step, policy)
				} else {
					values = series.NaNs(series.Len(begin, stop, step))
				}

				fmt.Fprintf(w, "\n"+`{"target": %s, "datapoints": [`, jsonString(k.String()))
				for n, v := range values {
					if n > 0 {
						fmt.Fprintf(w, ",")
					}
					t := begin.Add(time.Duration(n)*step).UnixNano() / 1e6
					if math.IsNaN(v) || math.IsInf(v, 0) {
						fmt.Fprintf(w, "[null, %v]", t)
					} else {
						fmt.Fprintf(w, "[%v, %v]", v, t)
					}
				}
				if tn < len(keys)-1 {
					fmt.Fprintf(w, "]},")
				} else {
					fmt.Fprintf(w, "]}")
				}
			}
			fmt.Fprintf(w, "]\n")

			if debug {
				log.Printf("RenderHandler: finished in %v", time.Now().Sub(start))
			}
		},
	)
}

// parseTarget splits host:service. The service may contain colons,
// the host may not.
func parseTarget(target string) (event.Key, error) {
	i := strings.IndexByte(target, ':')
	if i <= 0 || i == len(target)-1 {
		return event.Key{}, fmt.Errorf("parseTarget(): %q is not host:service", target)
	}
	return event.Key{Host: target[:i], Service: target[i+1:]}, nil
}

func parseTime(s string) (*time.Time, error) {

	if len(s) == 0 {
		return nil, nil
	}

	if s[0] == '-' { // relative
		if dur, err := misc.BetterParseDuration(s[1:len(s)]); err == nil {
			t := time.Now().Add(-dur)
			return &t, nil
		} else {
			return nil, fmt.Errorf("parseTime(): Error parsing relative time %q: %v", s, err)
		}
	} else { // absolute
		if s == "now" {
			t := time.Now()
			return &t, nil
		} else if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			t := time.Unix(i, 0)
			return &t, nil
		} else {
			return nil, fmt.Errorf("parseTime(): Error parsing absolute time %q: %v", s, err)
		}
	}
}

// Gzip Compression
type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w gzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func makeGzipHandler(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			fn(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		gzr := gzipResponseWriter{Writer: gz, ResponseWriter: w}
		fn(gzr, r)
	}
}
