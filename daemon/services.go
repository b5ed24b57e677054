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
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tgres/horizon/misc"
	"github.com/tgres/horizon/receiver"
)

// How long closeListeners waits for each service's connections.
var connDrainTimeout = 10 * time.Second

type trService interface {
	Start() error
	Stop()
	Wait(timeout time.Duration) bool
}

type serviceMap map[string]trService
type serviceManager struct {
	services serviceMap
}

func newServiceManager(rcvr receiver.EventQueuer, www *wwwServer, cfg *Config) *serviceManager {
	return &serviceManager{
		services: serviceMap{
			"gt":  &graphiteTextServiceManager{rcvr: rcvr, listenSpec: cfg.GraphiteTextListenSpec, timeout: 30 * time.Second},
			"gu":  &graphiteTextServiceManager{rcvr: rcvr, listenSpec: cfg.GraphiteUdpListenSpec, udp: true},
			"gp":  &graphitePickleServiceManager{rcvr: rcvr, listenSpec: cfg.GraphitePickleListenSpec, timeout: 30 * time.Second},
			"www": www,
		},
	}
}

func processListenSpec(listenSpec string) string {
	if os.Getenv("HORIZON_BIND") != "" {
		return strings.Replace(listenSpec, "0.0.0.0", os.Getenv("HORIZON_BIND"), 1)
	}
	return listenSpec
}

func (r *serviceManager) names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// run starts every service. If one fails, the ones already started
// are stopped.
func (r *serviceManager) run() error {
	var started []trService
	for _, name := range r.names() {
		service := r.services[name]
		if err := service.Start(); err != nil {
			for _, s := range started {
				s.Stop()
			}
			return err
		}
		started = append(started, service)
	}
	return nil
}

func (r *serviceManager) closeListeners(wait bool) {
	for _, name := range r.names() {
		r.services[name].Stop()
	}
	if wait {
		log.Printf("Waiting for all TCP connections to finish...")
		for _, name := range r.names() {
			if !r.services[name].Wait(connDrainTimeout) {
				log.Printf("Service %q still has open connections after %v, giving up on them.", name, connDrainTimeout)
			}
		}
		log.Printf("TCP connections finished.")
	}
}

// queueNamed queues a dotted metric name as host and service.
func queueNamed(q receiver.EventQueuer, name string, t time.Time, v float64, source string) error {
	host, service, err := misc.SplitName(name)
	if err != nil {
		return err
	}
	q.QueueEvent(&receiver.IncomingEvent{
		Host:    host,
		Service: service,
		Time:    t,
		Metric:  v,
		Source:  source,
	})
	return nil
}
