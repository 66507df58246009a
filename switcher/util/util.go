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

// Package util holds formatting helpers for the switcher command.
package util

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	switcher "github.com/fab617/nginx-switcher"
	"github.com/fab617/nginx-switcher/rest"
)

var (
	StatusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	StatusStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	StatusUnknown = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	Muted         = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	Header        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

const (
	SymbolRunning = "●"
	SymbolStopped = "○"
	SymbolUnknown = "?"
)

// Status renders an instance status with its symbol and color.
func Status(s switcher.Status) string {
	switch s {
	case switcher.StatusRunning:
		return StatusRunning.Render(SymbolRunning + " running")
	case switcher.StatusStopped:
		return StatusStopped.Render(SymbolStopped + " stopped")
	default:
		return StatusUnknown.Render(SymbolUnknown + " unknown")
	}
}

// Ports joins a port list for display.
func Ports(ports []string) string {
	if len(ports) == 0 {
		return switcher.Unconfigured
	}
	return strings.Join(ports, ",")
}

// Counts renders the summary line shown under a listing.
func Counts(c switcher.Counts) string {
	return fmt.Sprintf("%d instance(s): %s, %s, %s", c.Total,
		StatusRunning.Render(fmt.Sprintf("%d running", c.Running)),
		StatusStopped.Render(fmt.Sprintf("%d stopped", c.Stopped)),
		StatusUnknown.Render(fmt.Sprintf("%d unknown", c.Unknown)))
}

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

func rank(s switcher.Status) int {
	switch s {
	case switcher.StatusRunning:
		return 0
	case switcher.StatusStopped:
		return 1
	default:
		return 2
	}
}

type sorted []*rest.InstanceInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	if ra, rb := rank(a.Status), rank(b.Status); ra != rb {
		// running first, unknown last
		return ra < rb
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Index < b.Index
}

// SortInstances orders a listing by status and then by name.  Indices
// stay attached to their entries.
func SortInstances(items []*rest.InstanceInfo) {
	sort.Sort(sorted(items))
}
