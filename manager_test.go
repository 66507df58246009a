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
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerRegistry(t *testing.T) {
	Convey("Given a manager with an empty store", t, func() {
		env := newTestEnv(t)
		m := env.m
		defer m.Shutdown()

		list, _ := m.ListInstances()
		So(list, ShouldBeEmpty)
		So(m.Counts(), ShouldResemble, Counts{})

		Convey("Registering a config adds an unknown instance", func() {
			path := env.conf(t, "site.conf", "http { server { listen 8080; } }")
			inst, e := m.RegisterConfig(path)
			So(e, ShouldBeNil)
			So(inst.ConfigPath, ShouldEqual, path)
			So(inst.ID, ShouldEqual, InstanceID(path))
			So(inst.WorkDir, ShouldEqual, WorkDirFor(path))
			So(inst.Port, ShouldEqual, "8080")
			So(inst.Exists, ShouldBeTrue)
			So(inst.Status, ShouldEqual, StatusUnknown)
			So(inst.Config.Ports, ShouldResemble, []string{"8080"})
			So(m.Counts(), ShouldResemble, Counts{Total: 1, Unknown: 1})

			Convey("Registering it again changes nothing", func() {
				_, e := m.RegisterConfig(path)
				So(e, ShouldBeNil)
				list, _ := m.ListInstances()
				So(len(list), ShouldEqual, 1)
				So(len(m.Store().Load().Entries), ShouldEqual, 1)
			})

			Convey("IDs survive a reload", func() {
				m.Reload()
				again, _, e := m.Lookup(inst.ID)
				So(e, ShouldBeNil)
				So(again.ConfigPath, ShouldEqual, path)
			})

			Convey("Status carries over a reload", func() {
				So(m.StartInstance(0).Err, ShouldBeNil)
				m.Reload()
				got, _ := m.InstanceAt(0)
				So(got.Status, ShouldEqual, StatusRunning)
			})

			Convey("Removing a running instance stops it first", func() {
				So(m.StartInstance(0).Err, ShouldBeNil)
				So(m.RemoveConfigs([]string{path}), ShouldBeNil)
				So(env.ctrl.stops, ShouldEqual, 1)
				list, _ := m.ListInstances()
				So(list, ShouldBeEmpty)
				So(m.Store().Load().Entries, ShouldBeEmpty)
			})

			Convey("Removing a stopped instance does not run stop", func() {
				So(m.RemoveConfigs([]string{path}), ShouldBeNil)
				So(env.ctrl.stops, ShouldEqual, 0)
			})
		})

		Convey("Registering a missing file fails", func() {
			_, e := m.RegisterConfig(filepath.Join(env.root, "nope.conf"))
			So(errors.Is(e, ErrConfigMissing), ShouldBeTrue)
		})

		Convey("Out of range indices are rejected", func() {
			res := m.StartInstance(3)
			So(errors.Is(res.Err, ErrNoSuchInstance), ShouldBeTrue)
			_, e := m.InstanceAt(-1)
			So(errors.Is(e, ErrNoSuchInstance), ShouldBeTrue)
		})

		Convey("Entries added behind our back appear on reload", func() {
			path := env.conf(t, "late.conf", "listen 81;")
			m.Store().UpsertEntries([]string{path})
			list, _ := m.ListInstances()
			So(list, ShouldBeEmpty)
			m.Reload()
			list, _ = m.ListInstances()
			So(len(list), ShouldEqual, 1)
			So(list[0].Port, ShouldEqual, "81")
		})
	})
}

func TestManagerStartStop(t *testing.T) {
	Convey("Given a registered instance", t, func() {
		env := newTestEnv(t)
		m := env.m
		defer m.Shutdown()
		path := env.conf(t, "site.conf", "http { server { listen 80; } }")
		_, e := m.RegisterConfig(path)
		So(e, ShouldBeNil)

		evs, cancel := m.Subscribe(16)
		defer cancel()

		Convey("Start marks it running and notifies once", func() {
			res := m.StartInstance(0)
			So(res.Err, ShouldBeNil)
			So(res.Status, ShouldEqual, StatusRunning)
			So(statusEvents(drain(evs)), ShouldResemble, []Status{StatusRunning})
			So(m.Counts().Running, ShouldEqual, 1)

			Convey("Stop marks it stopped", func() {
				res := m.StopInstance(0)
				So(res.Err, ShouldBeNil)
				inst, _ := m.InstanceAt(0)
				So(inst.Status, ShouldEqual, StatusStopped)
				So(statusEvents(drain(evs)), ShouldResemble, []Status{StatusStopped})
			})
		})

		Convey("A failed start leaves the status alone", func() {
			env.ctrl.fail = errors.New("injected")
			res := m.StartInstance(0)
			So(res.Err, ShouldNotBeNil)
			So(res.Status, ShouldEqual, StatusUnknown)
			So(statusEvents(drain(evs)), ShouldBeEmpty)
		})

		Convey("Instances can be addressed by ID", func() {
			id := InstanceID(path)
			So(m.Start(id).Err, ShouldBeNil)
			So(m.Stop(id).Err, ShouldBeNil)
			So(errors.Is(m.Start("bogus").Err, ErrNoSuchInstance), ShouldBeTrue)
		})

		Convey("Events arrive in order with increasing serials", func() {
			m.StartInstance(0)
			m.StopInstance(0)
			m.StartInstance(0)
			got := drain(evs)
			So(statusEvents(got), ShouldResemble,
				[]Status{StatusRunning, StatusStopped, StatusRunning})
			for i := 1; i < len(got); i++ {
				So(got[i].Serial, ShouldBeGreaterThanOrEqualTo, got[i-1].Serial)
			}
		})

		Convey("A full subscriber drops events without blocking", func() {
			small, cancelSmall := m.Subscribe(1)
			defer cancelSmall()
			m.StartInstance(0)
			m.StopInstance(0)
			So(len(drain(small)), ShouldEqual, 1)
		})

		Convey("Shutdown closes subscriptions", func() {
			m.Shutdown()
			_, ok := <-evs
			So(ok, ShouldBeFalse)
		})
	})
}

func TestManagerSerializesProbes(t *testing.T) {
	Convey("A monitor pass during a start waits for it", t, func() {
		env := newTestEnv(t)
		m := env.m
		defer m.Shutdown()
		path := env.conf(t, "site.conf", "listen 80;")
		_, e := m.RegisterConfig(path)
		So(e, ShouldBeNil)
		So(m.StopInstance(0).Err, ShouldBeNil)

		evs, cancel := m.Subscribe(16)
		defer cancel()

		env.ctrl.gate = make(chan struct{})
		env.ctrl.entered = make(chan struct{}, 1)

		started := make(chan Result, 1)
		go func() {
			started <- m.StartInstance(0)
		}()
		<-env.ctrl.entered

		ticked := make(chan struct{})
		go func() {
			m.CheckNow()
			close(ticked)
		}()

		select {
		case <-ticked:
			t.Fatal("monitor pass did not wait for start")
		case <-time.After(100 * time.Millisecond):
		}

		close(env.ctrl.gate)
		So((<-started).Err, ShouldBeNil)
		<-ticked

		inst, _ := m.InstanceAt(0)
		So(inst.Status, ShouldEqual, StatusRunning)
		So(statusEvents(drain(evs)), ShouldResemble, []Status{StatusRunning})
	})
}

func TestManagerBinary(t *testing.T) {
	Convey("Given a manager", t, func() {
		env := newTestEnv(t)
		m := env.m
		defer m.Shutdown()

		Convey("An invalid binary is rejected", func() {
			e := m.SetBinary(filepath.Join(env.root, "missing", BinaryName))
			So(errors.Is(e, ErrInvalidBinary), ShouldBeTrue)
			So(m.Binary(), ShouldBeEmpty)
		})

		Convey("Discovery records the binary", func() {
			bin := writeFile(t, filepath.Join(env.root, "nginx-1.25", BinaryName), "")
			p, e := m.DiscoverBinary()
			So(e, ShouldBeNil)
			So(p, ShouldEqual, bin)
			So(m.Binary(), ShouldEqual, bin)
		})

		Convey("Rescan needs a binary when no directory is given", func() {
			_, e := m.Rescan("")
			So(e, ShouldEqual, ErrInvalidBinary)
		})

		Convey("Rescan registers main configurations", func() {
			dir := filepath.Join(env.root, "nginx-1.25")
			bin := writeFile(t, filepath.Join(dir, BinaryName), "")
			main := writeFile(t, filepath.Join(dir, "conf", "nginx.conf"), "http {\n listen 80;\n}")
			writeFile(t, filepath.Join(dir, "conf", "frag.conf"), "server {}")
			So(m.SetBinary(bin), ShouldBeNil)

			found, e := m.Rescan("")
			So(e, ShouldBeNil)
			So(found, ShouldResemble, []string{main})
			list, _ := m.ListInstances()
			So(len(list), ShouldEqual, 1)
			So(list[0].ConfigPath, ShouldEqual, main)

			found, e = m.Rescan(dir)
			So(e, ShouldBeNil)
			So(len(found), ShouldEqual, 1)
			list, _ = m.ListInstances()
			So(len(list), ShouldEqual, 1)
		})
	})
}

func TestManagerWatchSerial(t *testing.T) {
	Convey("WatchSerial wakes on change and times out otherwise", t, func() {
		env := newTestEnv(t)
		m := env.m
		defer m.Shutdown()

		old := m.Serial()
		So(m.WatchSerial(old, 10*time.Millisecond), ShouldEqual, old)

		path := env.conf(t, "site.conf", "listen 80;")
		go func() {
			time.Sleep(20 * time.Millisecond)
			m.RegisterConfig(path)
		}()
		So(m.WatchSerial(old, 5*time.Second), ShouldNotEqual, old)

		listOld := m.WatchInstances(0, 0)
		m.StartInstance(0)
		So(m.WatchInstances(listOld, 0), ShouldEqual, listOld)
	})
}
