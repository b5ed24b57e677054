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

// Package misc is misc stuff.
package misc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	sanitizeRegexSpace       = regexp.MustCompile("\\s+")
	sanitizeRegexSlash       = regexp.MustCompile("/")
	sanitizeRegexNonAlphaNum = regexp.MustCompile("[^a-zA-Z_\\-0-9\\.]")
)

func SanitizeName(name string) string {
	name = sanitizeRegexSpace.ReplaceAllString(name, "_")
	name = sanitizeRegexSlash.ReplaceAllString(name, "-")
	return sanitizeRegexNonAlphaNum.ReplaceAllString(name, "")
}

// SplitName maps a dotted metric name to a host and a service: the
// first segment is the host, the rest is the service. Hostnames with
// dots in them are expected to have them replaced with underscores
// by the sender, as is customary with Graphite.
func SplitName(name string) (host, service string, err error) {
	name = strings.Trim(name, ".")
	i := strings.IndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return "", "", fmt.Errorf("SplitName: %q does not have both a host and a service", name)
	}
	return name[:i], name[i+1:], nil
}

// BetterParseDuration is time.ParseDuration which also understands
// min, hour, mon, d, w and y.
func BetterParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(s, "min"):
		s = s[0 : len(s)-2] // min -> m
	case strings.HasSuffix(s, "hour"):
		s = s[0 : len(s)-3] // hour -> h
	case strings.HasSuffix(s, "mon"):
		return scaledDuration(s[0:len(s)-3], 30*24*time.Hour)
	case strings.HasSuffix(s, "d"):
		return scaledDuration(s[0:len(s)-1], 24*time.Hour)
	case strings.HasSuffix(s, "w"):
		return scaledDuration(s[0:len(s)-1], 168*time.Hour)
	case strings.HasSuffix(s, "y"):
		return scaledDuration(s[0:len(s)-1], 8760*time.Hour)
	}
	return time.ParseDuration(s)
}

func scaledDuration(n string, unit time.Duration) (time.Duration, error) {
	f, err := strconv.ParseFloat(n, 64)
	if err != nil {
		return 0, fmt.Errorf("BetterParseDuration: invalid duration %q", n)
	}
	return time.Duration(f * float64(unit)), nil
}
