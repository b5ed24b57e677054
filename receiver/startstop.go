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

package receiver

import (
	"log"
	"sync"
)

type wrkCtl struct {
	wg, startWg *sync.WaitGroup
	id          string
}

func (w *wrkCtl) ident() string { return w.id }
func (w *wrkCtl) onEnter()      { w.wg.Add(1) }
func (w *wrkCtl) onExit()       { w.wg.Done() }
func (w *wrkCtl) onStarted()    { w.startWg.Done() }

type wController interface {
	ident() string
	onEnter()
	onExit()
	onStarted()
}

var startReporters = func(r *Receiver) {
	r.reporterWg.Add(1)
	go func() {
		defer r.reporterWg.Done()
		reportDispatcherChannelFillPercent(r.evCh, r.stopCh, r.FillReportNap)
	}()

	if r.ReportRuntime {
		log.Printf("Receiver: reporting runtime stats as host %q", r.RuntimeHost)
		r.reporterWg.Add(1)
		go func() {
			defer r.reporterWg.Done()
			reportRuntime(r, r.RuntimeHost, r.stopCh, r.RuntimeNap)
		}()
	}
}

var doStart = func(r *Receiver) {
	log.Printf("Receiver: starting...")

	var startWg sync.WaitGroup
	startWg.Add(1)
	go dispatcher(&wrkCtl{wg: &r.dispatcherWg, startWg: &startWg, id: "dispatcher"}, r.evCh, r.store)
	startWg.Wait()

	startReporters(r)

	log.Printf("Receiver: Ready.")
}

var stopDispatcher = func(r *Receiver) {
	log.Printf("Closing dispatcher channel...")
	r.closeMu.Lock()
	if !r.closed {
		r.closed = true
		close(r.evCh)
	}
	r.closeMu.Unlock()
	r.dispatcherWg.Wait()
	log.Printf("Dispatcher finished.")
}

var stopReporters = func(r *Receiver) {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	r.reporterWg.Wait()
}

var doStop = func(r *Receiver) {
	// Order matters here: the runtime reporter queues events.
	stopReporters(r)
	stopDispatcher(r)
}
