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
	"bufio"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tgres/horizon/graceful"
	"github.com/tgres/horizon/misc"
	"github.com/tgres/horizon/receiver"
)

const graphiteSource = "graphite"

type graphiteTextServiceManager struct {
	rcvr       receiver.EventQueuer
	listenSpec string
	udp        bool
	stop       int32

	// TCP
	listener *graceful.Listener
	timeout  time.Duration

	// UDP
	conn  net.Conn
	udpWg sync.WaitGroup
}

func (g *graphiteTextServiceManager) Stop() {
	if g.stopped() {
		return
	}
	atomic.StoreInt32(&(g.stop), 1)
	if g.conn != nil {
		log.Printf("Closing UDP listener %s", g.listenSpec)
		g.conn.Close()
	}
	if g.listener != nil {
		log.Printf("Closing TCP listener %s", g.listenSpec)
		g.listener.Close()
	}
}

func (g *graphiteTextServiceManager) Wait(timeout time.Duration) bool {
	if g.listener != nil {
		return g.listener.Wait(timeout)
	}
	g.udpWg.Wait()
	return true
}

func (g *graphiteTextServiceManager) Start() error {
	if g.udp {
		return g.startUDP()
	} else {
		return g.startTCP()
	}
}

func (g *graphiteTextServiceManager) stopped() bool {
	return atomic.LoadInt32(&(g.stop)) != 0
}

func (g *graphiteTextServiceManager) startUDP() error {
	if g.listenSpec == "" {
		log.Printf("Not starting Graphite UDP protocol because graphite-udp-listen-spec is blank.")
		return nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp", processListenSpec(g.listenSpec))
	if err == nil {
		g.conn, err = net.ListenUDP("udp", udpAddr)
	}
	if err != nil {
		return fmt.Errorf("Error starting Graphite UDP Text Protocol serviceManager: %v", err)
	}

	log.Printf("Graphite UDP protocol Listening on %s", processListenSpec(g.listenSpec))

	// UDP only has one connection, unlike TCP
	g.udpWg.Add(1)
	go func() {
		defer g.udpWg.Done()
		g.handleGraphiteTextProtocol(g.conn)
	}()

	return nil
}

func (g *graphiteTextServiceManager) startTCP() error {
	if g.listenSpec == "" {
		log.Printf("Not starting Graphite Text protocol because graphite-text-listen-spec is blank")
		return nil
	}

	gl, err := net.Listen("tcp", processListenSpec(g.listenSpec))
	if err != nil {
		return fmt.Errorf("Error starting Graphite Text Protocol serviceManager: %v", err)
	}

	g.listener = graceful.NewListener(gl)

	log.Printf("Graphite text protocol Listening on %s", processListenSpec(g.listenSpec))

	go acceptLoop("graphiteTCPTextServer()", g.listener, g.handleGraphiteTextProtocol)

	return nil
}

// acceptLoop hands every connection accepted on l to handle until l
// is closed.
func acceptLoop(who string, l *graceful.Listener, handle func(net.Conn)) error {
	var tempDelay time.Duration
	for {
		conn, err := l.Accept()

		// This code comes from the golang http lib, it attempts to
		// retry accepting a connection when too many files are open
		// under heavy load.
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() && !l.Stopped() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Printf("%s: Accept error: %v; retrying in %v", who, err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		go handle(conn)
	}
}

// Handles incoming requests for both TCP and UDP
func (g *graphiteTextServiceManager) handleGraphiteTextProtocol(conn net.Conn) {
	defer conn.Close() // lets graceful know we are done

	if g.timeout != 0 {
		conn.SetDeadline(time.Now().Add(g.timeout))
	}

	// We use Scanner, becase it has a MaxScanTokenSize of 64K
	connbuf := bufio.NewScanner(conn)

	for connbuf.Scan() {
		packetStr := connbuf.Text()

		if name, ts, v, err := parseGraphitePacket(packetStr); err != nil {
			log.Printf("handleGraphiteTextProtocol(): bad packet: %v", packetStr)
		} else if err := queueNamed(g.rcvr, name, ts, v, graphiteSource); err != nil {
			log.Printf("handleGraphiteTextProtocol(): %v", err)
		}

		if g.timeout != 0 {
			conn.SetDeadline(time.Now().Add(g.timeout))
		}

		if g.stopped() {
			return
		}
	}

	if err := connbuf.Err(); err != nil {
		if !strings.Contains(err.Error(), "use of closed") {
			log.Printf("handleGraphiteTextProtocol(): Error reading: %v", err)
		}
	}
}

func parseGraphitePacket(packetStr string) (string, time.Time, float64, error) {

	var (
		name   string
		tstamp int64
		value  float64
	)

	if n, err := fmt.Sscanf(packetStr, "%s %f %d", &name, &value, &tstamp); n != 3 || err != nil {
		return "", time.Time{}, 0, fmt.Errorf("error %v scanning input: %q", err, packetStr)
	}

	var t time.Time
	if tstamp == -1 { // https://github.com/graphite-project/carbon/issues/54
		t = time.Now()
	} else {
		t = time.Unix(tstamp, 0)
	}
	return misc.SanitizeName(name), t, value, nil
}
