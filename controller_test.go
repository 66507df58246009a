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

//go:build linux

// These tests run a shell script posing as nginx.  The monitor checks
// the process name through /proc, which only matches the script name
// on Linux.

package switcher

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func installFakeNginx(t *testing.T, dir string) string {
	t.Helper()
	script, e := os.ReadFile(filepath.Join("testdata", "fake_nginx.sh"))
	if e != nil {
		t.Fatal(e)
	}
	bin := filepath.Join(dir, "nginx-1.25", BinaryName)
	writeFile(t, bin, string(script))
	if e = os.Chmod(bin, 0o755); e != nil {
		t.Fatal(e)
	}
	return bin
}

func killLeftover(pidFile string) {
	if pid, e := ReadPIDFile(pidFile); e == nil {
		syscall.Kill(pid, syscall.SIGKILL)
	}
}

func TestNginxController(t *testing.T) {
	Convey("Given a manager driving a fake nginx", t, func() {
		root := t.TempDir()
		m := NewManager(Options{
			Name:      t.Name(),
			Root:      root,
			Interval:  time.Hour,
			SpawnWait: 2 * time.Second,
			Logger:    testLogger(t),
		})
		defer m.Shutdown()

		site := writeFile(t, filepath.Join(root, "conf", "site.conf"), "http { server { listen 8080; } }")
		inst, e := m.RegisterConfig(site)
		So(e, ShouldBeNil)
		workDir := filepath.Join(root, inst.WorkDir)
		pidFile := PIDFile(workDir)
		defer killLeftover(pidFile)

		Convey("Without a binary nothing is spawned", func() {
			res := m.StartInstance(0)
			So(errors.Is(res.Err, ErrInvalidBinary), ShouldBeTrue)
			So(res.Status, ShouldEqual, StatusUnknown)
			_, e := os.Stat(pidFile)
			So(os.IsNotExist(e), ShouldBeTrue)
		})

		Convey("With a binary", func() {
			So(m.SetBinary(installFakeNginx(t, root)), ShouldBeNil)

			Convey("Start creates the layout and runs nginx", func() {
				res := m.StartInstance(0)
				So(res.Err, ShouldBeNil)
				So(res.Status, ShouldEqual, StatusRunning)
				for _, sub := range []string{"logs", "temp", "html"} {
					info, e := os.Stat(filepath.Join(workDir, sub))
					So(e, ShouldBeNil)
					So(info.IsDir(), ShouldBeTrue)
				}
				pid, e := ReadPIDFile(pidFile)
				So(e, ShouldBeNil)
				So(pid, ShouldBeGreaterThan, 0)

				m.CheckNow()
				got, _ := m.InstanceAt(0)
				So(got.Status, ShouldEqual, StatusRunning)

				Convey("and Stop shuts it down", func() {
					res := m.StopInstance(0)
					So(res.Err, ShouldBeNil)
					m.CheckNow()
					got, _ := m.InstanceAt(0)
					So(got.Status, ShouldEqual, StatusStopped)
				})
			})

			Convey("A failing start reports exit code and output", func() {
				bad := writeFile(t, filepath.Join(root, "conf", "bad.conf"), "fail_on_start;\n")
				_, e := m.RegisterConfig(bad)
				So(e, ShouldBeNil)
				res := m.StartInstance(1)
				var pe *ProcessError
				So(errors.As(res.Err, &pe), ShouldBeTrue)
				So(pe.ExitCode, ShouldEqual, 1)
				So(pe.Stderr, ShouldContainSubstring, "fail_on_start")
				So(res.Err.Error(), ShouldContainSubstring, "exit code 1")
				got, _ := m.InstanceAt(1)
				So(got.Status, ShouldEqual, StatusUnknown)
			})

			Convey("Stopping an instance that is not running fails", func() {
				res := m.StopInstance(0)
				var pe *ProcessError
				So(errors.As(res.Err, &pe), ShouldBeTrue)
				So(pe.ExitCode, ShouldEqual, 1)
			})

			Convey("A deleted configuration is refused", func() {
				So(os.Remove(site), ShouldBeNil)
				res := m.StartInstance(0)
				So(errors.Is(res.Err, ErrConfigMissing), ShouldBeTrue)
			})

			Convey("An entry removed from the document is re-registered", func() {
				m.Store().RemoveEntries([]string{site})
				res := m.StartInstance(0)
				So(res.Err, ShouldBeNil)
				So(m.Store().Load().Find(site), ShouldNotBeNil)
				So(m.StopInstance(0).Err, ShouldBeNil)
			})
		})
	})
}
