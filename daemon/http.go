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
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tgres/horizon/blaster"
	"github.com/tgres/horizon/dash"
	"github.com/tgres/horizon/graceful"
	h "github.com/tgres/horizon/http"
	"github.com/tgres/horizon/receiver"
)

func httpMux(rcvr receiver.EventQueuer, d *dash.Dash, hub *h.PanelHub, blstr *blaster.Blaster, reg prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/render", h.RenderHandler(d.Store, d.Sources, d))
	mux.HandleFunc("/render/", h.RenderHandler(d.Store, d.Sources, d))
	mux.HandleFunc("/topology", h.TopologyHandler(d.Tracker))
	mux.HandleFunc("/services", h.ServicesHandler(d.Tracker, d))
	mux.HandleFunc("/settings", h.SettingsHandler(d.Tracker, d))
	mux.HandleFunc("/clear", h.ClearHandler(d))

	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintf(w, "OK\n") })
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if hub != nil {
		mux.Handle("/ws", hub)
	}

	mux.HandleFunc("/pixel", h.PixelHandler(rcvr))

	if blstr != nil {
		mux.HandleFunc("/blaster/set", h.BlasterSetHandler(blstr))
	}
	return mux
}

type wwwServer struct {
	rcvr       receiver.EventQueuer
	dash       *dash.Dash
	hub        *h.PanelHub
	blstr      *blaster.Blaster
	reg        prometheus.Gatherer
	listener   *graceful.Listener
	server     *http.Server
	listenSpec string
	stop       int32
}

func (g *wwwServer) Stop() {
	if g.stopped() {
		return
	}
	atomic.StoreInt32(&(g.stop), 1)
	if g.hub != nil {
		g.hub.Stop() // websockets are hijacked, Shutdown does not know about them
	}
	if g.server != nil {
		log.Printf("Closing listener %s\n", g.listenSpec)
		ctx, cancel := context.WithTimeout(context.Background(), connDrainTimeout)
		defer cancel()
		if err := g.server.Shutdown(ctx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}
}

func (g *wwwServer) Wait(timeout time.Duration) bool {
	if g.listener != nil {
		return g.listener.Wait(timeout)
	}
	return true
}

func (g *wwwServer) stopped() bool {
	return atomic.LoadInt32(&(g.stop)) != 0
}

func (g *wwwServer) Start() error {
	if g.listenSpec == "" {
		log.Printf("Not starting HTTP server because http-listen-spec is blank.")
		return nil
	}

	gl, err := net.Listen("tcp", processListenSpec(g.listenSpec))
	if err != nil {
		return fmt.Errorf("Error starting HTTP protocol: %v", err)
	}

	g.listener = graceful.NewListener(gl)
	g.server = &http.Server{
		Handler:        httpMux(g.rcvr, g.dash, g.hub, g.blstr, g.reg),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 16}

	log.Printf("HTTP protocol Listening on %s\n", processListenSpec(g.listenSpec))

	go func() {
		if err := g.server.Serve(g.listener); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server: %v", err)
		}
	}()

	return nil
}
