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

package switcher

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func processName(pid int) (string, error) {
	dir := fmt.Sprintf("/proc/%d", pid)
	comm, e := os.ReadFile(filepath.Join(dir, "comm"))
	if e == nil {
		return strings.TrimSpace(string(comm)), nil
	}
	if os.IsNotExist(e) {
		return "", ErrNoProcess
	}
	// comm may be unreadable where cmdline is not.
	cmdline, e2 := os.ReadFile(filepath.Join(dir, "cmdline"))
	if e2 != nil {
		return "", fmt.Errorf("read process %d: %w", pid, e)
	}
	argv0, _, _ := bytes.Cut(cmdline, []byte{0})
	return filepath.Base(string(argv0)), nil
}
