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
	"io"
	"log"
	"math"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func Test_nullFloats(t *testing.T) {
	b, err := json.Marshal(nullFloats{1.5, math.NaN(), 0, math.Inf(-1)})
	if err != nil || string(b) != "[1.5,null,0,null]" {
		t.Errorf("nullFloats: %s %v", b, err)
	}
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	// values may contain null, which Frame cannot hold
	var raw map[string]interface{}
	json.Unmarshal(msg, &raw)
	f.Op, _ = raw["op"].(string)
	f.Host, _ = raw["host"].(string)
	f.Service, _ = raw["service"].(string)
	f.ID, _ = raw["id"].(string)
	if vals, ok := raw["values"].([]interface{}); ok {
		for _, v := range vals {
			if v == nil {
				f.Values = append(f.Values, math.NaN())
			} else {
				f.Values = append(f.Values, v.(float64))
			}
		}
	}
	return f
}

func waitClients(h *PanelHub, n int) bool {
	for i := 0; i < 200; i++ {
		if h.Clients() == n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestPanelHub(t *testing.T) {
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	hub := NewPanelHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Stop()

	// state before anyone connects
	hub.AddHost("web1")
	hub.AddPanel("web1", "cpu")
	hub.Update("web1", "cpu", time.Unix(1000, 0), time.Second, []float64{1, math.NaN()})

	c1 := dialHub(t, srv)
	defer c1.Close()

	// replay
	if f := readFrame(t, c1); f.Op != OpAddHost || f.Host != "web1" {
		t.Errorf("replay 1: %+v", f)
	}
	if f := readFrame(t, c1); f.Op != OpAddPanel || f.ID != "web1:cpu" {
		t.Errorf("replay 2: %+v", f)
	}
	f := readFrame(t, c1)
	if f.Op != OpUpdate || len(f.Values) != 2 || f.Values[0] != 1 || !math.IsNaN(f.Values[1]) {
		t.Errorf("replay 3: %+v", f)
	}

	if !waitClients(hub, 1) {
		t.Fatalf("Clients(): %d", hub.Clients())
	}

	// live frames
	hub.RemovePanel("web1", "cpu")
	hub.RemoveHost("web1")
	if f := readFrame(t, c1); f.Op != OpRemovePanel || f.Service != "cpu" {
		t.Errorf("live 1: %+v", f)
	}
	if f := readFrame(t, c1); f.Op != OpRemoveHost || f.Host != "web1" {
		t.Errorf("live 2: %+v", f)
	}

	// removed state is not replayed
	c2 := dialHub(t, srv)
	defer c2.Close()
	if !waitClients(hub, 2) {
		t.Fatalf("Clients(): %d", hub.Clients())
	}
	hub.AddHost("web2")
	if f := readFrame(t, c2); f.Op != OpAddHost || f.Host != "web2" {
		t.Errorf("second client: %+v", f)
	}

	// client going away is noticed
	c1.Close()
	if !waitClients(hub, 1) {
		t.Errorf("closed client not dropped: %d", hub.Clients())
	}

	// Stop says goodbye
	hub.Stop()
	c2.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := c2.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("expected a going away close, got %v", err)
			}
			break
		}
	}
}
