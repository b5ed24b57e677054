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

package graceful

import (
	"net"
	"testing"
	"time"
)

func TestListener(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	gl := NewListener(l)

	accepted := make(chan net.Conn)
	go func() {
		c, err := gl.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	conn := <-accepted
	if conn == nil {
		t.Fatalf("Accept failed")
	}

	if err := gl.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !gl.Stopped() {
		t.Errorf("Stopped() should be true after Close()")
	}
	if err := gl.Close(); err == nil {
		t.Errorf("second Close() should return an error")
	}

	if gl.Wait(50 * time.Millisecond) {
		t.Errorf("Wait should time out while a connection is open")
	}

	conn.Close()
	conn.Close() // twice is harmless
	if !gl.Wait(time.Second) {
		t.Errorf("Wait should return once the connection is closed")
	}
	if !gl.Wait(0) {
		t.Errorf("Wait(0) should return true")
	}
}
