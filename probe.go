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
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ProcessTable looks up running processes by PID.
type ProcessTable interface {
	// Name returns the executable name of the process, or ErrNoProcess
	// if there is no such process.
	Name(pid int) (string, error)
}

// OSProcessTable queries the operating system.
type OSProcessTable struct{}

func (OSProcessTable) Name(pid int) (string, error) {
	if pid <= 0 {
		return "", ErrNoProcess
	}
	return processName(pid)
}

// IsNginxName reports whether a process name is that of nginx.
func IsNginxName(name string) bool {
	name = filepath.Base(strings.TrimSpace(name))
	want := strings.TrimSuffix(BinaryName, ".exe")
	return strings.EqualFold(strings.TrimSuffix(strings.ToLower(name), ".exe"), want)
}

// ReadPIDFile returns the positive integer stored in a PID file.
func ReadPIDFile(path string) (int, error) {
	data, e := os.ReadFile(path)
	if e != nil {
		return 0, e
	}
	pid, e := strconv.Atoi(strings.TrimSpace(string(data)))
	if e != nil || pid <= 0 {
		return 0, fmt.Errorf("%w in %s", ErrInvalidPID, path)
	}
	return pid, nil
}

// PIDFile returns the location nginx writes its master PID to for a work
// directory, using the compiled-in default of logs/nginx.pid.
func PIDFile(workDir string) string {
	return filepath.Join(workDir, "logs", "nginx.pid")
}
