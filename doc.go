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

// Package switcher manages a set of independently configured nginx
// instances that share a single nginx binary.
//
// Each registered configuration file gets its own work directory (the
// nginx prefix), derived deterministically from the configuration path,
// so that logs, temporary files, and the PID file of one instance never
// collide with another.  A Manager keeps the in-memory registry of
// instances, starts and stops them through a Controller, and runs a
// Monitor that periodically reconciles the recorded status with what
// the operating system reports.
//
// The Manager is safe for concurrent use.  Observers can either poll
// ListInstances, long-poll with WatchSerial, or Subscribe to an ordered
// stream of Events.  A REST front end is provided by the rest package,
// and the switcherd and switcher commands wrap the two.
//
// Registered entries and the binary path persist in a small YAML
// document, read and written through a Store.
package switcher
