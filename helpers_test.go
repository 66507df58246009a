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
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	tl.t.Log(strings.Trim(string(p), "\n"))
	return len(p), nil
}

func testLogger(t *testing.T) *log.Logger {
	return log.New(&testLog{t: t}, "", 0)
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if e := os.MkdirAll(filepath.Dir(path), 0o755); e != nil {
		t.Fatal(e)
	}
	if e := os.WriteFile(path, []byte(content), 0o644); e != nil {
		t.Fatal(e)
	}
	return path
}

// fakeProcs is a process table with a fixed set of live processes.
type fakeProcs struct {
	mx    sync.Mutex
	names map[int]string
}

func newFakeProcs() *fakeProcs {
	return &fakeProcs{names: make(map[int]string)}
}

func (f *fakeProcs) Name(pid int) (string, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	if name, ok := f.names[pid]; ok {
		return name, nil
	}
	return "", ErrNoProcess
}

func (f *fakeProcs) set(pid int, name string) {
	f.mx.Lock()
	f.names[pid] = name
	f.mx.Unlock()
}

const fakePID = 4242

// fakeController pretends to run nginx by writing and removing PID files.
// When gate is set, Start signals entered and then blocks until gate is
// closed.
type fakeController struct {
	root    string
	fail    error
	gate    chan struct{}
	entered chan struct{}
	mx      sync.Mutex
	starts  int
	stops   int
}

func (c *fakeController) pidFile(inst Instance) string {
	return PIDFile(filepath.Join(c.root, inst.WorkDir))
}

func (c *fakeController) Start(inst Instance) Result {
	c.mx.Lock()
	c.starts++
	gate, entered, fail := c.gate, c.entered, c.fail
	c.mx.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if fail != nil {
		return Result{Err: fail}
	}
	if e := PrepareWorkDir(filepath.Join(c.root, inst.WorkDir)); e != nil {
		return Result{Err: e}
	}
	if e := os.WriteFile(c.pidFile(inst), []byte(fmt.Sprintf("%d\n", fakePID)), 0o644); e != nil {
		return Result{Err: e}
	}
	return Result{Status: StatusRunning}
}

func (c *fakeController) Stop(inst Instance) Result {
	c.mx.Lock()
	c.stops++
	fail := c.fail
	c.mx.Unlock()
	if fail != nil {
		return Result{Err: fail}
	}
	os.Remove(c.pidFile(inst))
	return Result{Status: StatusStopped}
}

type testEnv struct {
	root  string
	m     *Manager
	ctrl  *fakeController
	procs *fakeProcs
}

func newTestEnv(t *testing.T) *testEnv {
	root := t.TempDir()
	env := &testEnv{
		root:  root,
		ctrl:  &fakeController{root: root},
		procs: newFakeProcs(),
	}
	env.procs.set(fakePID, "nginx")
	env.m = NewManager(Options{
		Name:       t.Name(),
		Root:       root,
		Interval:   time.Hour,
		Controller: env.ctrl,
		Processes:  env.procs,
		Logger:     testLogger(t),
	})
	return env
}

func (env *testEnv) conf(t *testing.T, name, content string) string {
	return writeFile(t, filepath.Join(env.root, "conf", name), content)
}

// drain collects whatever events are already queued.
func drain(ch <-chan Event) []Event {
	var evs []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return evs
			}
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func statusEvents(evs []Event) []Status {
	var out []Status
	for _, ev := range evs {
		if ev.Kind == StatusChanged {
			out = append(out, ev.Status)
		}
	}
	return out
}
