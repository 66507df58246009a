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

//go:build !linux && !windows

package switcher

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

func processName(pid int) (string, error) {
	cmd := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "comm=")
	out, e := cmd.Output()
	name := strings.TrimSpace(string(out))
	if e != nil {
		// ps exits 1 with no output when the PID does not exist.
		if _, ok := e.(*exec.ExitError); ok && name == "" {
			return "", ErrNoProcess
		}
		return "", fmt.Errorf("ps failed: %w", e)
	}
	if name == "" {
		return "", ErrNoProcess
	}
	return filepath.Base(name), nil
}
