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
	"fmt"
	"strings"
)

var (
	ErrInvalidBinary   = errors.New("nginx binary not configured or invalid")
	ErrBinaryNotFound  = errors.New("no nginx binary found")
	ErrConfigMissing   = errors.New("configuration file does not exist")
	ErrNoSuchInstance  = errors.New("no such instance")
	ErrNoProcess       = errors.New("no such process")
	ErrInvalidPID      = errors.New("invalid PID")
	ErrManagerShutdown = errors.New("manager is shut down")
)

// Action names an operation performed against nginx.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// ProcessError reports a failed nginx invocation.  When the process ran
// and exited with a non-zero code, ExitCode and the captured output are
// filled in.  When the process could not be spawned at all, Err holds
// the underlying cause.
type ProcessError struct {
	Action   Action
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nginx %s failed: %v", e.Action, e.Err)
	}
	msg := fmt.Sprintf("nginx %s failed, exit code %d", e.Action, e.ExitCode)
	if out := strings.TrimSpace(e.Stdout); out != "" {
		msg += "\n" + out
	}
	if out := strings.TrimSpace(e.Stderr); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Result is the outcome of a start or stop request.  Err is nil on
// success, in which case Status holds the status the instance was
// moved to.
type Result struct {
	Action     Action `json:"action"`
	ID         string `json:"id,omitempty"`
	ConfigPath string `json:"configPath,omitempty"`
	Status     Status `json:"status,omitempty"`
	Err        error  `json:"-"`
}

// OK reports whether the request succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}
