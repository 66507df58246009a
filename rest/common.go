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
	switcher "github.com/fab617/nginx-switcher"
)

const (
	mimeJson   = "application/json; charset=UTF-8"
	mimeNDJson = "application/x-ndjson"

	// PollEtagHeader and PollTimeHeader turn a conditional GET into a
	// long poll: the server waits up to PollTimeHeader seconds for the
	// resource to differ from PollEtagHeader before answering.
	PollEtagHeader = "X-Poll-Etag"
	PollTimeHeader = "X-Poll-Time"

	// MaxPollTime caps the wait a client may request.
	MaxPollTime = 300
)

var ok = struct{}{}

// InstanceInfo is the wire form of one registered instance.
type InstanceInfo struct {
	Index           int             `json:"index"`
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	ConfigPath      string          `json:"configPath"`
	WorkDir         string          `json:"workDir"`
	Port            string          `json:"port"`
	Exists          bool            `json:"configExists"`
	Status          switcher.Status `json:"status"`
	Ports           []string        `json:"ports"`
	ReferencedFiles []string        `json:"referencedFiles"`
}

func newInstanceInfo(index int, inst switcher.Instance) *InstanceInfo {
	info := &InstanceInfo{
		Index:           index,
		ID:              inst.ID,
		Name:            inst.Name(),
		ConfigPath:      inst.ConfigPath,
		WorkDir:         inst.WorkDir,
		Port:            inst.Port,
		Exists:          inst.Exists,
		Status:          inst.Status,
		Ports:           []string{},
		ReferencedFiles: []string{},
	}
	if inst.Config != nil {
		info.Ports = inst.Config.Ports
		info.ReferencedFiles = inst.Config.ReferencedFiles
	}
	return info
}

// ListInfo is the response to GET /instances.
type ListInfo struct {
	Counts    switcher.Counts `json:"counts"`
	Instances []*InstanceInfo `json:"instances"`

	etag string
}

// ActionResult is the response to a start or stop request.
type ActionResult struct {
	Action     switcher.Action `json:"action"`
	ID         string          `json:"id"`
	ConfigPath string          `json:"configPath"`
	Status     switcher.Status `json:"status"`
}

type RegisterRequest struct {
	Path string `json:"path"`
}

type RemoveRequest struct {
	Paths []string `json:"paths"`
}

type RescanRequest struct {
	Dir string `json:"dir,omitempty"`
}

type RescanInfo struct {
	Found []string `json:"found"`
}

type BinaryInfo struct {
	Path  string `json:"path"`
	Valid bool   `json:"valid"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
