// Copyright 2025 The nginx-switcher Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package switcher

import (
	"errors"
	"log"
	"os"
	"sync"
	"time"
)

// Monitor periodically reconciles recorded statuses with the operating
// system.  An instance is running when its work directory holds a PID
// file naming a live process whose executable is nginx.  Each probe
// holds the instance's operation lock, so it never interleaves with a
// start or stop of the same instance.
type Monitor struct {
	m        *Manager
	procs    ProcessTable
	interval time.Duration
	logger   *log.Logger
	mx       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
}

func newMonitor(m *Manager, procs ProcessTable, interval time.Duration, logger *log.Logger) *Monitor {
	return &Monitor{m: m, procs: procs, interval: interval, logger: logger}
}

// Start launches the periodic loop.  The first pass runs immediately.
// Starting an already running monitor does nothing.
func (mon *Monitor) Start() {
	mon.mx.Lock()
	defer mon.mx.Unlock()
	if mon.stop != nil {
		return
	}
	mon.stop = make(chan struct{})
	mon.done = make(chan struct{})
	go mon.loop(mon.stop, mon.done)
}

// Stop ends the loop and waits for an in-progress pass to finish.
func (mon *Monitor) Stop() {
	mon.mx.Lock()
	stop, done := mon.stop, mon.done
	mon.stop, mon.done = nil, nil
	mon.mx.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (mon *Monitor) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()
	for {
		mon.Tick()
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one pass over every registered instance.
func (mon *Monitor) Tick() {
	start := time.Now()
	list, _ := mon.m.ListInstances()
	for _, inst := range list {
		mon.check(inst)
	}
	monitorTicks.Inc()
	monitorTickSeconds.Observe(time.Since(start).Seconds())
}

func (mon *Monitor) check(inst Instance) {
	l := mon.m.opLock(inst.ConfigPath)
	l.Lock()
	defer l.Unlock()
	mon.m.setStatus(inst.ConfigPath, mon.Probe(inst.ConfigPath), "monitor")
}

// Probe determines the status of the configuration registered under
// path.  It never returns StatusUnknown.
func (mon *Monitor) Probe(path string) Status {
	store := mon.m.store
	ent := store.Load().Find(path)
	if ent == nil {
		return StatusStopped
	}
	pid, e := ReadPIDFile(PIDFile(store.WorkPath(ent.WorkDir)))
	if e != nil {
		if !os.IsNotExist(e) {
			mon.logger.Printf("%s: %v", path, e)
		}
		return StatusStopped
	}
	name, e := mon.procs.Name(pid)
	if e != nil {
		if !errors.Is(e, ErrNoProcess) {
			mon.logger.Printf("Cannot inspect PID %d of %s: %v", pid, path, e)
		}
		return StatusStopped
	}
	if !IsNginxName(name) {
		return StatusStopped
	}
	return StatusRunning
}
