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

//go:build windows

package switcher

import (
	"encoding/csv"
	"fmt"
	"os/exec"
	"strings"
)

func processName(pid int) (string, error) {
	cmd := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH")
	hideWindow(cmd)
	out, e := cmd.Output()
	if e != nil {
		return "", fmt.Errorf("tasklist failed: %w", e)
	}
	text := strings.TrimSpace(string(out))
	// With no match tasklist prints an informational line, not CSV.
	if !strings.HasPrefix(text, "\"") {
		return "", ErrNoProcess
	}
	rec, e := csv.NewReader(strings.NewReader(text)).Read()
	if e != nil || len(rec) < 2 {
		return "", ErrNoProcess
	}
	return rec[0], nil
}
