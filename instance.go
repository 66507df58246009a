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
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Status is the last known run state of an instance.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
)

// Instance is a registered nginx configuration as held by the Manager.
// Values returned from the Manager are snapshots; changing them has no
// effect on the registry.
type Instance struct {
	ID         string        `json:"id"`
	ConfigPath string        `json:"configPath"`
	WorkDir    string        `json:"workDir"`
	Port       string        `json:"port"`
	Exists     bool          `json:"configExists"`
	Status     Status        `json:"status"`
	Config     *ParsedConfig `json:"config"`
}

// Name returns the configuration file name, used for display.
func (i Instance) Name() string {
	return filepath.Base(i.ConfigPath)
}

var idSpace = uuid.MustParse("6f1c9a57-5c8e-4b43-9d0e-2a8f5b7c3e10")

// InstanceID derives the stable identifier of a configuration path.
// Paths that differ only in letter case share an ID, matching the
// case-insensitive comparison used for registry keys.
func InstanceID(configPath string) string {
	key := strings.ToLower(filepath.Clean(configPath))
	return uuid.NewSHA1(idSpace, []byte(key)).String()
}

// SamePath reports whether two configuration paths name the same
// registry entry.
func SamePath(a, b string) bool {
	return strings.EqualFold(a, b)
}

func pathKey(p string) string {
	return strings.ToLower(p)
}

// Counts summarizes the registry by status.
type Counts struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Stopped int `json:"stopped"`
	Unknown int `json:"unknown"`
}

// CountStatuses summarizes a snapshot.
func CountStatuses(list []Instance) Counts {
	var c Counts
	for _, inst := range list {
		c.add(inst.Status)
	}
	return c
}

func (c *Counts) add(s Status) {
	c.Total++
	switch s {
	case StatusRunning:
		c.Running++
	case StatusStopped:
		c.Stopped++
	default:
		c.Unknown++
	}
}
