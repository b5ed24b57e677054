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

package riemann

import (
	"fmt"
	"math"
	"time"

	"github.com/tgres/horizon/event"
	"github.com/tgres/horizon/receiver"
	"github.com/tidwall/gjson"
)

const sourceName = "riemann"

// Decode turns one websocket message into an event. Riemann sends
// {"host": ..., "service": ..., "time": "2016-01-02T15:04:05.123Z",
// "metric": 1.5, ...}; other fields are ignored. A missing host is
// event.UndefinedHost.
func Decode(msg []byte) (*receiver.IncomingEvent, error) {
	if len(msg) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	if !gjson.ValidBytes(msg) {
		return nil, fmt.Errorf("invalid JSON: %q", truncate(msg))
	}

	fields := gjson.GetManyBytes(msg, "host", "service", "time", "metric")
	host, service, ts, metric := fields[0], fields[1], fields[2], fields[3]

	ev := &receiver.IncomingEvent{
		Host:    host.String(),
		Service: service.String(),
		Source:  sourceName,
	}
	if ev.Host == "" {
		ev.Host = event.UndefinedHost
	}
	if ev.Service == "" {
		return nil, fmt.Errorf("missing service: %q", truncate(msg))
	}

	switch ts.Type {
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, ts.Str)
		if err != nil {
			return nil, fmt.Errorf("bad time %q: %v", ts.Str, err)
		}
		ev.Time = t
	case gjson.Number:
		// seconds since the epoch, as riemann stores it internally
		sec, frac := math.Modf(ts.Num)
		ev.Time = time.Unix(int64(sec), int64(frac*1e9))
	default:
		return nil, fmt.Errorf("missing time: %q", truncate(msg))
	}

	if metric.Type != gjson.Number {
		return nil, fmt.Errorf("missing or non-numeric metric: %q", truncate(msg))
	}
	ev.Metric = metric.Num

	return ev, nil
}

func truncate(msg []byte) string {
	if len(msg) > 128 {
		return string(msg[:128]) + "..."
	}
	return string(msg)
}
