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
	"log"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tgres/horizon/refresh"
)

const (
	hubSendBuffer  = 256
	hubWriteWait   = 10 * time.Second
	hubPongWait    = 60 * time.Second
	hubPingPeriod  = 30 * time.Second
	hubMaxClients  = 100
	hubMaxReadSize = 512
)

// Frame ops
const (
	OpAddHost     = "add-host"
	OpRemoveHost  = "remove-host"
	OpAddPanel    = "add-panel"
	OpRemovePanel = "remove-panel"
	OpUpdate      = "update"
)

// nullFloats marshals NaN and Inf as null.
type nullFloats []float64

func (nf nullFloats) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 8*len(nf)+2)
	buf = append(buf, '[')
	for i, v := range nf {
		if i > 0 {
			buf = append(buf, ',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf = append(buf, "null"...)
		} else {
			b, _ := json.Marshal(v)
			buf = append(buf, b...)
		}
	}
	return append(buf, ']'), nil
}

// Frame is one message to a chart client. Start is unix ms, Step is
// ms.
type Frame struct {
	Op      string     `json:"op"`
	Host    string     `json:"host,omitempty"`
	Service string     `json:"service,omitempty"`
	ID      string     `json:"id,omitempty"`
	Start   int64      `json:"start,omitempty"`
	Step    int64      `json:"step,omitempty"`
	Values  nullFloats `json:"values,omitempty"`
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

type hubPanel struct {
	host, service string
	last          []byte // most recent update frame
}

// PanelHub pushes panel frames to every connected websocket client.
// It is a refresh.Renderer. A client that connects late is sent the
// current hosts, panels and their latest values first. A client that
// cannot keep up is disconnected.
type PanelHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]bool
	hosts   map[string]bool
	panels  map[string]*hubPanel
	stop    chan struct{}
	stopped bool
}

var _ refresh.Renderer = (*PanelHub)(nil)

func NewPanelHub() *PanelHub {
	return &PanelHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*hubClient]bool),
		hosts:   make(map[string]bool),
		panels:  make(map[string]*hubPanel),
		stop:    make(chan struct{}),
	}
}

func marshalFrame(f *Frame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		log.Printf("PanelHub: error marshaling frame: %v", err)
		return nil
	}
	return b
}

func (h *PanelHub) AddHost(host string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hosts[host] = true
	h.broadcast(marshalFrame(&Frame{Op: OpAddHost, Host: host}))
}

func (h *PanelHub) RemoveHost(host string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.hosts, host)
	h.broadcast(marshalFrame(&Frame{Op: OpRemoveHost, Host: host}))
}

func (h *PanelHub) AddPanel(host, service string) {
	id := refresh.PanelID(host, service)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.panels[id] = &hubPanel{host: host, service: service}
	h.broadcast(marshalFrame(&Frame{Op: OpAddPanel, Host: host, Service: service, ID: id}))
}

func (h *PanelHub) RemovePanel(host, service string) {
	id := refresh.PanelID(host, service)
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.panels, id)
	h.broadcast(marshalFrame(&Frame{Op: OpRemovePanel, Host: host, Service: service, ID: id}))
}

func (h *PanelHub) Update(host, service string, start time.Time, step time.Duration, values []float64) {
	id := refresh.PanelID(host, service)
	msg := marshalFrame(&Frame{
		Op:      OpUpdate,
		Host:    host,
		Service: service,
		ID:      id,
		Start:   start.UnixNano() / 1e6,
		Step:    int64(step / time.Millisecond),
		Values:  nullFloats(values),
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	if p := h.panels[id]; p != nil {
		p.last = msg
	}
	h.broadcast(msg)
}

// broadcast must be called with mu held.
func (h *PanelHub) broadcast(msg []byte) {
	if msg == nil {
		return
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Printf("PanelHub: client %v is too slow, disconnecting.", c.conn.RemoteAddr())
			h.drop(c)
		}
	}
}

// drop must be called with mu held.
func (h *PanelHub) drop(c *hubClient) {
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// replay returns the frames describing the current state, in the
// order a new client needs them.
func (h *PanelHub) replay() [][]byte {
	var result [][]byte
	hosts := make([]string, 0, len(h.hosts))
	for host := range h.hosts {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	for _, host := range hosts {
		result = append(result, marshalFrame(&Frame{Op: OpAddHost, Host: host}))
	}
	ids := make([]string, 0, len(h.panels))
	for id := range h.panels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := h.panels[id]
		result = append(result, marshalFrame(&Frame{Op: OpAddPanel, Host: p.host, Service: p.service, ID: id}))
		if p.last != nil {
			result = append(result, p.last)
		}
	}
	return result
}

// Clients returns the number of connected clients.
func (h *PanelHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Stop says goodbye to all clients. The hub accepts no more clients
// afterwards.
func (h *PanelHub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.stop)
}

func (h *PanelHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	full := len(h.clients) >= hubMaxClients
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		http.Error(w, "Shutting down", http.StatusServiceUnavailable)
		return
	}
	if full {
		http.Error(w, "Maximum clients reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("PanelHub: websocket upgrade error: %v", err)
		return
	}

	h.mu.Lock()
	frames := h.replay()
	c := &hubClient{conn: conn, send: make(chan []byte, hubSendBuffer+len(frames))}
	for _, f := range frames {
		c.send <- f
	}
	h.clients[c] = true
	h.mu.Unlock()

	if debug {
		log.Printf("PanelHub: client connected: %v", conn.RemoteAddr())
	}

	go h.writer(c)
	h.reader(c)
}

// reader only exists to notice the client going away and to answer
// pongs.
func (h *PanelHub) reader(c *hubClient) {
	defer func() {
		h.mu.Lock()
		h.drop(c)
		h.mu.Unlock()
	}()

	c.conn.SetReadLimit(hubMaxReadSize)
	c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("PanelHub: websocket read error: %v", err)
			}
			return
		}
	}
}

// writer is the only goroutine writing to c.conn.
func (h *PanelHub) writer(c *hubClient) {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.stop:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
