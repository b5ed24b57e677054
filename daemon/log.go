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
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
)

var (
	logMu      sync.Mutex
	logFile    *os.File
	cycleLogCh = make(chan int, 1)
	quitting   int32
	pidLock    *flock.Flock
)

func init() {
	log.SetPrefix(fmt.Sprintf("[%d] ", os.Getpid()))
}

func isQuitting() bool {
	return atomic.LoadInt32(&quitting) != 0
}

var timeNow = func() time.Time {
	return time.Now()
}

var osRename = func(a, b string) error {
	return os.Rename(a, b)
}

var renameLogFile = func(logPath string) {
	logDir, logFile := filepath.Split(logPath)
	filename := timeNow().Format(logFile + "-20060102_150405")
	fullpath := filepath.Join(logDir, filename)
	log.Printf("Starting new log file, current log archived as: '%s'", fullpath)
	osRename(logPath, fullpath)
}

var cycleLogFile = func(logPath string) {
	logMu.Lock()
	defer logMu.Unlock()

	if logFile != nil {
		renameLogFile(logPath)
	}

	file, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND|os.O_SYNC, 0666) // open with O_SYNC
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Unable to open log file '%s', %s\n", logPath, err)
		os.Exit(1)
	}

	log.SetOutput(file)
	if logFile != nil {
		logFile.Close()
	}
	logFile = file
}

// cycleLog asks the cycler to start a new log file, unless one has
// been asked for already.
func cycleLog() {
	select {
	case cycleLogCh <- 1:
	default:
	}
}

var logFileCycler = func(logPath string, logCycle time.Duration) {

	cycleLogFile(logPath) // Initial cycle

	go func() { // Wait for a cycle signal
		for range cycleLogCh {
			if isQuitting() {
				return
			}
			cycleLogFile(logPath)
		}
	}()

	go func() { // Periodic cycling
		for {
			time.Sleep(logCycle)
			if isQuitting() {
				return
			}
			cycleLog()
		}
	}()
}

func closeLog() {
	logMu.Lock()
	defer logMu.Unlock()
	log.SetOutput(os.Stderr)
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// savePid takes an exclusive lock on the pid file, so that only one
// horizon can run with it, and writes our pid to it.
var savePid = func(pidPath string) error {
	lock := flock.New(pidPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("Unable to lock pid file '%s': (%v)", pidPath, err)
	}
	if !locked {
		return fmt.Errorf("Pid file '%s' is locked, is another horizon running?", pidPath)
	}
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		lock.Unlock()
		return fmt.Errorf("Unable to write pid file '%s': (%v)", pidPath, err)
	}
	pidLock = lock
	log.Printf("Pid saved in %s.", pidPath)
	return nil
}

func removePid(pidPath string) {
	os.Remove(pidPath)
	if pidLock != nil {
		pidLock.Unlock()
		pidLock = nil
	}
}
