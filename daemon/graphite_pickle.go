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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync/atomic"
	"time"

	pickle "github.com/hydrogen18/stalecucumber"
	"github.com/tgres/horizon/graceful"
	"github.com/tgres/horizon/misc"
	"github.com/tgres/horizon/receiver"
)

const (
	pickleSource = "pickle"

	// Carbon refuses anything larger than this, so do we.
	maxPickleSize = 1 << 20
)

type graphitePickleServiceManager struct {
	rcvr       receiver.EventQueuer
	listener   *graceful.Listener
	listenSpec string
	timeout    time.Duration
	stop       int32
}

func (g *graphitePickleServiceManager) Stop() {
	if g.stopped() {
		return
	}
	atomic.StoreInt32(&(g.stop), 1)
	if g.listener != nil {
		log.Printf("Closing listener %s\n", g.listenSpec)
		g.listener.Close()
	}
}

func (g *graphitePickleServiceManager) Wait(timeout time.Duration) bool {
	if g.listener != nil {
		return g.listener.Wait(timeout)
	}
	return true
}

func (g *graphitePickleServiceManager) stopped() bool {
	return atomic.LoadInt32(&(g.stop)) != 0
}

func (g *graphitePickleServiceManager) Start() error {
	if g.listenSpec == "" {
		log.Printf("Not starting Graphite Pickle Protocol because graphite-pickle-listen-spec is blank.")
		return nil
	}

	gl, err := net.Listen("tcp", processListenSpec(g.listenSpec))
	if err != nil {
		return fmt.Errorf("Error starting Graphite Pickle Protocol serviceManager: %v", err)
	}

	g.listener = graceful.NewListener(gl)

	log.Printf("Graphite Pickle protocol Listening on %s\n", processListenSpec(g.listenSpec))

	go acceptLoop("graphitePickleServer()", g.listener, g.handleGraphitePickleProtocol)

	return nil
}

// pickleDataPoint is one (name, (timestamp, value)) out of a pickle
// payload.
type pickleDataPoint struct {
	name  string
	t     time.Time
	value float64
}

// decodePickle unpickles a list of (name, (timestamp, value)) tuples,
// which is what carbon-relay and friends send. Integer values are
// accepted as well as floats.
func decodePickle(buff []byte) ([]pickleDataPoint, error) {
	var (
		name                 string
		tstamp               int64
		int_value            int64
		value                float64
		err                  error
		items, itemSlice, dp []interface{}
	)

	if items, err = pickle.ListOrTuple(pickle.Unpickle(bytes.NewBuffer(buff))); err != nil {
		return nil, err
	}

	result := make([]pickleDataPoint, 0, len(items))
	for _, item := range items {
		if itemSlice, err = pickle.ListOrTuple(item, nil); err != nil {
			return nil, err
		}
		if len(itemSlice) != 2 {
			return nil, fmt.Errorf("item wrong length: %d", len(itemSlice))
		}
		name, err = pickle.String(itemSlice[0], nil)
		dp, err = pickle.ListOrTuple(itemSlice[1], err)
		if err != nil {
			return nil, err
		}
		if len(dp) != 2 {
			return nil, fmt.Errorf("dp wrong length: %d", len(dp))
		}
		if tstamp, err = pickle.Int(dp[0], nil); err != nil {
			return nil, err
		}
		if value, err = pickle.Float(dp[1], nil); err != nil {
			if _, ok := err.(pickle.WrongTypeError); ok {
				if int_value, err = pickle.Int(dp[1], nil); err == nil {
					value = float64(int_value)
				}
			}
			if err != nil {
				return nil, err
			}
		}
		result = append(result, pickleDataPoint{name: misc.SanitizeName(name), t: time.Unix(tstamp, 0), value: value})
	}
	return result, nil
}

func (g *graphitePickleServiceManager) handleGraphitePickleProtocol(conn net.Conn) {

	defer conn.Close() // lets graceful know we are done

	var err error
	for {
		var length uint32

		if g.stopped() {
			return
		}

		if g.timeout != 0 {
			conn.SetDeadline(time.Now().Add(g.timeout))
		}

		if err = binary.Read(conn, binary.BigEndian, &length); err != nil {
			break
		}
		if length > maxPickleSize {
			err = fmt.Errorf("pickle of %d bytes is too large (max %d)", length, maxPickleSize)
			break
		}

		buff := make([]byte, length)
		if _, err = io.ReadFull(conn, buff); err != nil {
			break
		}

		var dps []pickleDataPoint
		if dps, err = decodePickle(buff); err != nil {
			break
		}
		for _, dp := range dps {
			if qerr := queueNamed(g.rcvr, dp.name, dp.t, dp.value, pickleSource); qerr != nil {
				log.Printf("handleGraphitePickleProtocol(): %v", qerr)
			}
		}
	}

	if err != nil && err != io.EOF {
		if !strings.Contains(err.Error(), "use of closed") {
			log.Printf("handleGraphitePickleProtocol(): Error reading: %v", err)
		}
	}
}
