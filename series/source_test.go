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

package series

import (
	"math"
	"testing"
	"time"

	"github.com/tgres/horizon/event"
)

func TestSource_Values(t *testing.T) {
	store := event.NewStore()
	store.Append("h", "svc", ms(50), 99)
	store.Append("h", "svc", ms(100), 2)
	store.Append("h", "svc", ms(150), 4)
	store.Append("h", "svc", ms(180), 6)

	src := NewSource(store, "h", "svc", CarryForward)
	if got := src.Values(ms(100), ms(200), 50*time.Millisecond); !same(got, []float64{2, 5}) {
		t.Errorf("Values: %v", got)
	}

	// eviction is a side effect of pulling a window
	buf, _ := store.BufferFor("h", "svc")
	if len(buf) != 3 {
		t.Errorf("event before start was not evicted: %v", buf)
	}
}

func TestSource_UnknownKey(t *testing.T) {
	store := event.NewStore()
	src := NewSource(store, "nobody", "nothing", ZeroFill)
	got := src.Values(ms(0), ms(100), 10*time.Millisecond)
	if len(got) != 10 {
		t.Fatalf("length %d, expected 10", len(got))
	}
	for _, v := range got {
		if !math.IsNaN(v) {
			t.Errorf("unknown key must be all NaN regardless of policy: %v", got)
			break
		}
	}
	if len(store.Hosts()) != 0 {
		t.Errorf("Values created a buffer")
	}
}

func TestSource_AfterClear(t *testing.T) {
	store := event.NewStore()
	store.Append("h", "svc", ms(10), 1)
	src := NewSource(store, "h", "svc", CarryForward)
	store.Clear()
	got := src.Values(ms(0), ms(30), 10*time.Millisecond)
	if !same(got, NaNs(3)) {
		t.Errorf("after Clear: %v", got)
	}
}

func TestSources(t *testing.T) {
	store := event.NewStore()
	srcs := NewSources(store, NaNFill, 2)

	a := srcs.Get("h", "a")
	if srcs.Get("h", "a") != a {
		t.Errorf("Get did not return the cached Source")
	}
	srcs.Get("h", "b")
	srcs.Get("h", "c") // evicts a
	if srcs.Evictions() != 1 {
		t.Errorf("Evictions: %d", srcs.Evictions())
	}
	if srcs.Get("h", "a") == a {
		t.Errorf("evicted Source was returned")
	}

	srcs.SetPolicy(ZeroFill)
	if src := srcs.Get("h", "a"); src.policy != ZeroFill {
		t.Errorf("SetPolicy not applied to new sources: %v", src.policy)
	}
	if srcs.Policy() != ZeroFill {
		t.Errorf("Policy(): %v", srcs.Policy())
	}
}

func TestSources_SetPolicyNotEviction(t *testing.T) {
	srcs := NewSources(event.NewStore(), NaNFill, 4)
	srcs.Get("h", "a")
	srcs.Get("h", "b")
	srcs.Get("h", "c")

	srcs.SetPolicy(ZeroFill)
	if srcs.Len() != 0 {
		t.Errorf("SetPolicy did not drop cached sources: %d", srcs.Len())
	}
	if srcs.Evictions() != 0 {
		t.Errorf("Evictions after SetPolicy: %d", srcs.Evictions())
	}

	// real evictions still count afterwards
	for _, svc := range []string{"a", "b", "c", "d", "e"} {
		srcs.Get("h", svc)
	}
	if srcs.Evictions() != 1 {
		t.Errorf("Evictions: %d", srcs.Evictions())
	}
}
