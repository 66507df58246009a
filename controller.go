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
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultSpawnWait is how long a start or stop invocation is given to
// exit before it is presumed to have daemonized successfully.
const DefaultSpawnWait = time.Second

// Controller starts and stops nginx instances.  Implementations must be
// safe for concurrent use; the Manager serializes calls per instance.
type Controller interface {
	Start(inst Instance) Result
	Stop(inst Instance) Result
}

// NginxController runs the nginx binary recorded in a Store.
//
// Start runs "nginx -p <workdir> -c <config>", stop runs the same with
// "-s stop".  If the invocation has not exited within the wait period it
// is taken to be running.  A non-zero exit within the period is a
// failure carrying the captured output.
type NginxController struct {
	store  *Store
	wait   time.Duration
	logger *log.Logger
}

func NewNginxController(store *Store, wait time.Duration, logger *log.Logger) *NginxController {
	if wait <= 0 {
		wait = DefaultSpawnWait
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &NginxController{store: store, wait: wait, logger: logger}
}

func (c *NginxController) Start(inst Instance) Result {
	return c.execute(ActionStart, inst)
}

func (c *NginxController) Stop(inst Instance) Result {
	return c.execute(ActionStop, inst)
}

// PrepareWorkDir creates the work directory and the subdirectories nginx
// expects under its prefix.
func PrepareWorkDir(dir string) error {
	for _, sub := range []string{"", "logs", "temp", "html"} {
		if e := os.MkdirAll(filepath.Join(dir, sub), 0o755); e != nil {
			return e
		}
	}
	return nil
}

func (c *NginxController) execute(action Action, inst Instance) Result {
	res := Result{Action: action, ID: inst.ID, ConfigPath: inst.ConfigPath}

	doc := c.store.Load()
	bin := doc.NginxBinaryPath
	if !ValidBinary(bin) {
		res.Err = fmt.Errorf("%w: %q", ErrInvalidBinary, bin)
		c.logger.Printf("Cannot %s %s: %v", action, inst.Name(), res.Err)
		return c.count(res)
	}
	if !fileExists(inst.ConfigPath) {
		res.Err = fmt.Errorf("%w: %s", ErrConfigMissing, inst.ConfigPath)
		c.logger.Printf("Cannot %s %s: %v", action, inst.Name(), res.Err)
		return c.count(res)
	}

	ent := doc.Find(inst.ConfigPath)
	if ent == nil {
		// Removed from the document behind our back; put it back.
		c.logger.Printf("Re-registering %s", inst.ConfigPath)
		doc = c.store.UpsertEntries([]string{inst.ConfigPath})
		if ent = doc.Find(inst.ConfigPath); ent == nil {
			res.Err = fmt.Errorf("%w: %s", ErrNoSuchInstance, inst.ConfigPath)
			return c.count(res)
		}
	}
	workDir := c.store.WorkPath(ent.WorkDir)
	if e := PrepareWorkDir(workDir); e != nil {
		res.Err = &ProcessError{Action: action, Err: e}
		c.logger.Printf("Cannot prepare %s: %v", workDir, e)
		return c.count(res)
	}

	args := []string{"-p", workDir}
	if action == ActionStop {
		args = append(args, "-s", "stop")
	}
	args = append(args, "-c", inst.ConfigPath)

	c.logger.Printf("%s %s", bin, strings.Join(args, " "))
	if e := c.run(action, bin, args, workDir); e != nil {
		res.Err = e
		c.logger.Printf("Failed to %s %s: %v", action, inst.Name(), e)
		return c.count(res)
	}
	if action == ActionStart {
		res.Status = StatusRunning
	} else {
		res.Status = StatusStopped
	}
	c.logger.Printf("%s %s: ok", action, inst.Name())
	return c.count(res)
}

func (c *NginxController) count(res Result) Result {
	outcome := "ok"
	if res.Err != nil {
		outcome = "error"
	}
	processActions.WithLabelValues(string(res.Action), outcome).Inc()
	return res
}

// capture collects process output.  It may keep receiving writes after
// run has returned, when the process outlives the wait period.
type capture struct {
	mx  sync.Mutex
	buf bytes.Buffer
}

func (b *capture) Write(p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *capture) String() string {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.String()
}

func (c *NginxController) logOutput(prefix, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if line != "" {
			c.logger.Print(prefix, line)
		}
	}
}

func (c *NginxController) run(action Action, bin string, args []string, dir string) error {
	stdout, stderr := &capture{}, &capture{}
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// A daemonizing nginx may hand our pipes to its children; don't
	// let that hold Wait open.
	cmd.WaitDelay = c.wait
	hideWindow(cmd)

	if e := cmd.Start(); e != nil {
		return &ProcessError{Action: action, Err: e}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(c.wait)
	defer timer.Stop()

	select {
	case e := <-done:
		c.logOutput("stdout> ", stdout.String())
		c.logOutput("stderr> ", stderr.String())
		if e == nil {
			return nil
		}
		var xe *exec.ExitError
		if errors.As(e, &xe) {
			if code := xe.ExitCode(); code != 0 {
				return &ProcessError{
					Action:   action,
					ExitCode: code,
					Stdout:   stdout.String(),
					Stderr:   stderr.String(),
				}
			}
		}
		if cmd.ProcessState != nil && cmd.ProcessState.Success() {
			return nil
		}
		return &ProcessError{Action: action, Err: e}
	case <-timer.C:
		c.logger.Printf("nginx %s still running after %v, assuming success", action, c.wait)
		return nil
	}
}
