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
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/tgres/horizon/misc"
	"github.com/tgres/horizon/receiver"
)

func sendPixel(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "Tue, 03 Mar 1998 01:34:48 GMT") // 888888888
	w.Header().Set("Last-Modified", "Tue, 03 Mar 1998 01:34:48 GMT")
	w.Header().Set("X-Content-Type-Options", "nosniff") // IE: https://msdn.microsoft.com/en-us/library/gg622941(v=vs.85).aspx
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "private, no-cache, no-cache=Set-Cookie, proxy-revalidate")
	// Date set by net/http

	w.Write([]byte("GIF89a\x01\x00\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x00;"))
}

// PixelHandler accepts events as query parameters of an image
// request, e.g. <img src="/pixel?web1.pageviews=1@1425959940">. The
// first segment of the name is the host, the rest is the service. The
// time is optional and defaults to now.
func PixelHandler(rcvr receiver.EventQueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rc := recover(); rc != nil {
				log.Printf("PixelHandler: Recovered (this request is dropped): %v", rc)
			}
		}()

		sendPixel(w)

		err := r.ParseForm()
		if err != nil {
			log.Printf("PixelHandler: error from ParseForm(): %v", err)
			return
		}

		for name, vals := range r.Form {

			// web1.foo.bar=12.345@1425959940

			host, service, err := misc.SplitName(misc.SanitizeName(name))
			if err != nil {
				log.Printf("PixelHandler: %v", err)
				continue
			}

			for _, valStr := range vals {

				var val, ut float64
				n, _ := fmt.Sscanf(valStr, "%f@%f", &val, &ut)
				if n < 1 {
					log.Printf("PixelHandler: error parsing %q", valStr)
					return
				}

				var ts time.Time
				if ut == 0 {
					ts = time.Now()
				} else {
					nsec := int64(ut*1000000000) % 1000000000
					ts = time.Unix(int64(ut), nsec)
				}

				rcvr.QueueEvent(&receiver.IncomingEvent{Host: host, Service: service, Time: ts, Metric: val, Source: "pixel"})
			}
		}
	}
}
