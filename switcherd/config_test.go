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

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoadConfig(t *testing.T) {
	Convey("Loading daemon configuration", t, func() {
		t.Setenv(RootEnv, "")
		dir := t.TempDir()

		Convey("No file gives the defaults", func() {
			cfg, e := LoadConfig("")
			So(e, ShouldBeNil)
			So(cfg.Listen, ShouldEqual, "127.0.0.1:8321")
			So(cfg.Interval, ShouldEqual, 5*time.Second)
			So(cfg.Watch, ShouldBeTrue)
			So(cfg.MaxConnections, ShouldEqual, 64)
		})

		Convey("File values override the defaults", func() {
			path := filepath.Join(dir, "switcherd.yaml")
			So(os.WriteFile(path, []byte("listen: :9000\ninterval: 2s\nwatch: false\nlog:\n  file: \"\"\n"), 0o644), ShouldBeNil)
			cfg, e := LoadConfig(path)
			So(e, ShouldBeNil)
			So(cfg.Listen, ShouldEqual, ":9000")
			So(cfg.Interval, ShouldEqual, 2*time.Second)
			So(cfg.Watch, ShouldBeFalse)
			So(cfg.MaxConnections, ShouldEqual, 64)
			So(cfg.logPath(dir), ShouldBeEmpty)
		})

		Convey("The environment sets the root", func() {
			t.Setenv(RootEnv, dir)
			cfg, e := LoadConfig("")
			So(e, ShouldBeNil)
			So(cfg.Root, ShouldEqual, dir)
			So(cfg.logPath(dir), ShouldEqual, filepath.Join(dir, "logs", "switcherd.log"))
		})

		Convey("Bad values are rejected", func() {
			path := filepath.Join(dir, "bad.yaml")
			So(os.WriteFile(path, []byte("interval: -1s\n"), 0o644), ShouldBeNil)
			_, e := LoadConfig(path)
			So(e, ShouldNotBeNil)
		})

		Convey("A missing file is an error", func() {
			_, e := LoadConfig(filepath.Join(dir, "nope.yaml"))
			So(e, ShouldNotBeNil)
		})
	})
}
