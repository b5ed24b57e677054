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

// Package riemann subscribes to a Riemann server's websocket index
// and queues every event it receives with the receiver.
package riemann

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tgres/horizon/receiver"
	"github.com/tgres/horizon/stats"
	"golang.org/x/time/rate"
)

const (
	DefaultHost              = "localhost"
	DefaultPort              = 5556
	DefaultQuery             = "true"
	DefaultReconnectInterval = 5 * time.Second
)

// URI returns the subscription URI for query.
func URI(host string, port int, query string) string {
	return fmt.Sprintf("ws://%s:%d/index?subscribe=true&query=%s", host, port, url.QueryEscape(query))
}

var dial = func(ctx context.Context, uri string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, uri, nil)
	return conn, err
}

// Client keeps one subscription open at a time, reconnecting when it
// drops. Reconnects are no more frequent than ReconnectInterval.
type Client struct {
	ReconnectInterval time.Duration

	q receiver.EventQueuer

	mu     sync.Mutex
	cancel context.CancelFunc
	conn   *websocket.Conn
	uri    string
	wg     sync.WaitGroup
}

func New(q receiver.EventQueuer) *Client {
	return &Client{
		ReconnectInterval: DefaultReconnectInterval,
		q:                 q,
	}
}

// Open closes any current subscription and subscribes to query on
// host:port. It does not wait for the connection to be established.
func (c *Client) Open(host string, port int, query string) {
	c.Close()

	uri := URI(host, port, query)
	interval := c.ReconnectInterval
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}

	c.mu.Lock()
	var ctx context.Context
	ctx, c.cancel = context.WithCancel(context.Background())
	c.uri = uri
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop(ctx, uri, interval)
}

// Close ends the subscription and waits for the reader to exit. It is
// a noop if nothing is open.
func (c *Client) Close() {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.cancel = nil
	if c.conn != nil {
		c.conn.Close() // unblocks ReadMessage
		c.conn = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Connected reports whether a websocket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// URI returns the URI of the current subscription, if any.
func (c *Client) URI() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uri
}

func (c *Client) loop(ctx context.Context, uri string, interval time.Duration) {
	defer c.wg.Done()

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return // cancelled
		}

		stats.TransportReconnects.Inc()
		conn, err := dial(ctx, uri)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("riemann: error connecting to %s: %v", uri, err)
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()
		log.Printf("riemann: websocket opened: %s", uri)

		c.read(conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			conn.Close()
		}
		c.mu.Unlock()

		if ctx.Err() != nil {
			log.Printf("riemann: websocket closed.")
			return
		}
		log.Printf("riemann: websocket closed, reconnecting.")
	}
}

func (c *Client) read(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("riemann: websocket error: %v", err)
			}
			return
		}

		ev, err := Decode(msg)
		if err != nil {
			stats.EventsReceived.WithLabelValues(sourceName).Inc()
			stats.EventsDropped.WithLabelValues(stats.DropMalformed).Inc()
			log.Printf("riemann: ignoring bad message: %v", err)
			continue
		}
		c.q.QueueEvent(ev)
	}
}
