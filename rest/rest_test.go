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

package rest

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	switcher "github.com/fab617/nginx-switcher"
	. "github.com/smartystreets/goconvey/convey"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	tl.t.Log(strings.Trim(string(p), "\n"))
	return len(p), nil
}

// fakeController succeeds unless the configuration name contains "bad".
type fakeController struct{}

func (fakeController) Start(inst switcher.Instance) switcher.Result {
	if strings.Contains(inst.Name(), "bad") {
		return switcher.Result{Err: &switcher.ProcessError{
			Action:   switcher.ActionStart,
			ExitCode: 1,
			Stderr:   "nginx: [emerg] bad config",
		}}
	}
	return switcher.Result{Status: switcher.StatusRunning}
}

func (fakeController) Stop(inst switcher.Instance) switcher.Result {
	return switcher.Result{Status: switcher.StatusStopped}
}

type noProcs struct{}

func (noProcs) Name(int) (string, error) {
	return "", switcher.ErrNoProcess
}

func writeConf(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, "conf", name)
	if e := os.MkdirAll(filepath.Dir(path), 0o755); e != nil {
		t.Fatal(e)
	}
	if e := os.WriteFile(path, []byte(content), 0o644); e != nil {
		t.Fatal(e)
	}
	return path
}

func TestREST(t *testing.T) {
	Convey("Given a server and client", t, func() {
		root := t.TempDir()
		m := switcher.NewManager(switcher.Options{
			Name:       t.Name(),
			Root:       root,
			Interval:   time.Hour,
			Controller: fakeController{},
			Processes:  noProcs{},
			Logger:     log.New(&testLog{t}, "", 0),
		})
		defer m.Shutdown()
		srv := httptest.NewServer(NewHandler(m))
		defer srv.Close()
		c := NewClient(nil, srv.URL)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		site := writeConf(t, root, "site.conf", "http { server { listen 8080; } }")

		Convey("The registry starts empty", func() {
			list, e := c.Instances(ctx)
			So(e, ShouldBeNil)
			So(list.Instances, ShouldBeEmpty)
			So(list.Counts.Total, ShouldEqual, 0)
		})

		Convey("Registering returns the new instance", func() {
			info, e := c.Register(ctx, site)
			So(e, ShouldBeNil)
			So(info.ConfigPath, ShouldEqual, site)
			So(info.Port, ShouldEqual, "8080")
			So(info.Status, ShouldEqual, switcher.StatusUnknown)
			So(info.ID, ShouldEqual, switcher.InstanceID(site))

			Convey("and it can be fetched by ID or index", func() {
				byID, e := c.Instance(ctx, info.ID)
				So(e, ShouldBeNil)
				So(byID.ConfigPath, ShouldEqual, site)
				byIndex, e := c.Instance(ctx, "0")
				So(e, ShouldBeNil)
				So(byIndex.ID, ShouldEqual, info.ID)
			})

			Convey("and started and stopped", func() {
				res, e := c.Start(ctx, info.ID)
				So(e, ShouldBeNil)
				So(res.Status, ShouldEqual, switcher.StatusRunning)
				list, e := c.Instances(ctx)
				So(e, ShouldBeNil)
				So(list.Counts.Running, ShouldEqual, 1)

				res, e = c.Stop(ctx, "0")
				So(e, ShouldBeNil)
				So(res.Status, ShouldEqual, switcher.StatusStopped)
			})

			Convey("and removed", func() {
				So(c.Remove(ctx, info.ID), ShouldBeNil)
				list, e := c.Instances(ctx)
				So(e, ShouldBeNil)
				So(list.Instances, ShouldBeEmpty)
			})

			Convey("A long poll returns when the registry changes", func() {
				first, e := c.Instances(ctx)
				So(e, ShouldBeNil)
				go func() {
					time.Sleep(50 * time.Millisecond)
					m.Start(info.ID)
				}()
				next, e := c.WatchInstances(ctx, first)
				So(e, ShouldBeNil)
				So(next.Instances[0].Status, ShouldEqual, switcher.StatusRunning)
			})
		})

		Convey("Unknown instances are 404", func() {
			_, e := c.Start(ctx, "nope")
			var re *Error
			So(errors.As(e, &re), ShouldBeTrue)
			So(re.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Process failures are 409 with the nginx output", func() {
			bad := writeConf(t, root, "bad.conf", "listen 80;")
			info, e := c.Register(ctx, bad)
			So(e, ShouldBeNil)
			_, e = c.Start(ctx, info.ID)
			var re *Error
			So(errors.As(e, &re), ShouldBeTrue)
			So(re.Code, ShouldEqual, http.StatusConflict)
			So(re.Message, ShouldContainSubstring, "bad config")
		})

		Convey("Missing configurations are 412", func() {
			_, e := c.Register(ctx, filepath.Join(root, "missing.conf"))
			var re *Error
			So(errors.As(e, &re), ShouldBeTrue)
			So(re.Code, ShouldEqual, http.StatusPreconditionFailed)
		})

		Convey("The binary can be discovered and read back", func() {
			bin := filepath.Join(root, "nginx-1.25", switcher.BinaryName)
			So(os.MkdirAll(filepath.Dir(bin), 0o755), ShouldBeNil)
			So(os.WriteFile(bin, nil, 0o755), ShouldBeNil)

			info, e := c.Binary(ctx)
			So(e, ShouldBeNil)
			So(info.Valid, ShouldBeFalse)

			info, e = c.DiscoverBinary(ctx)
			So(e, ShouldBeNil)
			So(info.Path, ShouldEqual, bin)
			So(info.Valid, ShouldBeTrue)

			_, e = c.SetBinary(ctx, filepath.Join(root, "nope"))
			So(e, ShouldNotBeNil)
		})

		Convey("Rescan without a binary is 412", func() {
			_, e := c.Rescan(ctx, "")
			var re *Error
			So(errors.As(e, &re), ShouldBeTrue)
			So(re.Code, ShouldEqual, http.StatusPreconditionFailed)
		})

		Convey("Rescan of a directory registers main configs", func() {
			found, e := c.Rescan(ctx, root)
			So(e, ShouldBeNil)
			So(found, ShouldResemble, []string{site})
		})

		Convey("Events stream status changes", func() {
			info, e := c.Register(ctx, site)
			So(e, ShouldBeNil)

			sctx, scancel := context.WithCancel(ctx)
			got := make(chan switcher.Event, 16)
			done := make(chan error, 1)
			go func() {
				done <- c.Events(sctx, func(ev switcher.Event) {
					got <- ev
				})
			}()

			// Wait until the stream is subscribed.
			var ev switcher.Event
			deadline := time.After(5 * time.Second)
		loop:
			for {
				m.Start(info.ID)
				select {
				case ev = <-got:
					if ev.Kind == switcher.StatusChanged {
						break loop
					}
				case <-deadline:
					break loop
				case <-time.After(50 * time.Millisecond):
					m.Stop(info.ID)
				}
			}
			scancel()
			<-done
			So(ev.Kind, ShouldEqual, switcher.StatusChanged)
			So(ev.ID, ShouldEqual, info.ID)
		})

		Convey("The log and metrics are served", func() {
			_, e := c.Register(ctx, site)
			So(e, ShouldBeNil)
			lg, e := c.Log(ctx)
			So(e, ShouldBeNil)
			So(lg.Records, ShouldNotBeEmpty)

			res, e := http.Get(srv.URL + "/metrics")
			So(e, ShouldBeNil)
			defer res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusOK)
		})
	})
}
