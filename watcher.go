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
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDelay is how long the watcher waits for a burst of file
// events to settle before reloading.
const DefaultWatchDelay = 500 * time.Millisecond

// ConfigWatcher reloads the Manager when a configuration file changes.
// It watches the directories holding every referenced file and every
// wildcard include, since editors commonly replace files by rename.
type ConfigWatcher struct {
	m        *Manager
	fsw      *fsnotify.Watcher
	logger   *log.Logger
	delay    time.Duration
	mx       sync.Mutex
	dirs     map[string]bool
	files    map[string]bool
	patterns []string
	timer    *time.Timer
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewConfigWatcher(m *Manager, logger *log.Logger) (*ConfigWatcher, error) {
	fsw, e := fsnotify.NewWatcher()
	if e != nil {
		return nil, e
	}
	w := &ConfigWatcher{
		m:      m,
		fsw:    fsw,
		logger: logger,
		delay:  DefaultWatchDelay,
		dirs:   make(map[string]bool),
		files:  make(map[string]bool),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go w.eventLoop()
	return w, nil
}

// Sync replaces the watched set with the files of the given instances.
func (w *ConfigWatcher) Sync(list []*Instance) {
	files := make(map[string]bool)
	dirs := make(map[string]bool)
	var patterns []string
	for _, inst := range list {
		files[filepath.Clean(inst.ConfigPath)] = true
		dirs[filepath.Dir(filepath.Clean(inst.ConfigPath))] = true
		if inst.Config == nil {
			continue
		}
		for _, f := range inst.Config.ReferencedFiles {
			files[f] = true
			dirs[filepath.Dir(f)] = true
		}
		for _, p := range inst.Config.IncludePatterns {
			patterns = append(patterns, p)
			dirs[filepath.Dir(p)] = true
		}
	}

	w.mx.Lock()
	defer w.mx.Unlock()
	for d := range w.dirs {
		if !dirs[d] {
			w.fsw.Remove(d)
			delete(w.dirs, d)
		}
	}
	for d := range dirs {
		if w.dirs[d] {
			continue
		}
		if e := w.fsw.Add(d); e != nil {
			// Directories behind a wildcard may not exist yet.
			continue
		}
		w.dirs[d] = true
	}
	w.files = files
	w.patterns = patterns
}

func (w *ConfigWatcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Clean(ev.Name)
	w.mx.Lock()
	defer w.mx.Unlock()
	if w.files[name] {
		return true
	}
	for _, p := range w.patterns {
		if ok, _ := doublestar.PathMatch(p, name); ok {
			return true
		}
		// The directory behind a wildcard appeared; the reload will
		// start watching it.
		if ev.Has(fsnotify.Create) && filepath.Dir(p) == name {
			return true
		}
	}
	return false
}

func (w *ConfigWatcher) schedule() {
	w.mx.Lock()
	defer w.mx.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		w.m.reload("watch")
	})
}

func (w *ConfigWatcher) eventLoop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				w.logger.Printf("%s: %s", ev.Op, ev.Name)
				w.schedule()
			}
		case e, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watch error: %v", e)
		}
	}
}

// Close stops watching.  A pending reload is cancelled.
func (w *ConfigWatcher) Close() error {
	close(w.stopCh)
	<-w.doneCh
	w.mx.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mx.Unlock()
	return w.fsw.Close()
}
