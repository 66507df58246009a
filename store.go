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
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultStoreFile is the name of the persisted document, relative to the
// application root.
const DefaultStoreFile = "nginx-switcher.yaml"

// BinaryName is the expected file name of the nginx executable.
var BinaryName = binaryName()

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "nginx.exe"
	}
	return "nginx"
}

// Entry is one persisted registration.  WorkDir is relative to the
// application root.
type Entry struct {
	ConfigPath string `yaml:"configPath" json:"configPath"`
	WorkDir    string `yaml:"workDir" json:"workDir"`
}

// Document is the persisted state.
type Document struct {
	NginxBinaryPath string  `yaml:"nginxBinaryPath" json:"nginxBinaryPath"`
	Entries         []Entry `yaml:"entries" json:"entries"`
}

// Find returns the entry for a configuration path, or nil.
func (d *Document) Find(configPath string) *Entry {
	for i := range d.Entries {
		if SamePath(d.Entries[i].ConfigPath, configPath) {
			return &d.Entries[i]
		}
	}
	return nil
}

// Store reads and writes the Document.  Every call re-reads the file, so
// changes made by other processes are picked up, and the last writer
// wins.  Read-modify-write sequences issued through Update are serialized
// within this process.
type Store struct {
	root   string
	path   string
	logger *log.Logger
	mx     sync.Mutex
}

// NewStore returns a Store for the document at file, resolved against
// root when relative.  Work directories are created under root.
func NewStore(root, file string, logger *log.Logger) *Store {
	if file == "" {
		file = DefaultStoreFile
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(root, file)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Store{root: root, path: file, logger: logger}
}

// Path returns the location of the document.
func (s *Store) Path() string {
	return s.path
}

// Root returns the application root.
func (s *Store) Root() string {
	return s.root
}

// WorkPath resolves a relative work directory against the root.
func (s *Store) WorkPath(workDir string) string {
	if filepath.IsAbs(workDir) {
		return workDir
	}
	return filepath.Join(s.root, workDir)
}

// Load reads the document.  A missing, empty, or unparsable file yields
// an empty document; only the last case is logged.
func (s *Store) Load() *Document {
	doc := &Document{}
	data, e := os.ReadFile(s.path)
	if e != nil {
		if !os.IsNotExist(e) {
			s.logger.Printf("Cannot read %s: %v", s.path, e)
		}
		return doc
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc
	}
	if e = yaml.Unmarshal(data, doc); e != nil {
		s.logger.Printf("Ignoring corrupt %s: %v", s.path, e)
		return &Document{}
	}
	return doc
}

// Save writes the document atomically.  Failures are logged and
// returned; the in-memory state is not rolled back.
func (s *Store) Save(doc *Document) error {
	if e := s.write(doc); e != nil {
		s.logger.Printf("Cannot save %s: %v", s.path, e)
		return e
	}
	return nil
}

func (s *Store) write(doc *Document) error {
	data, e := yaml.Marshal(doc)
	if e != nil {
		return fmt.Errorf("marshal: %w", e)
	}
	dir := filepath.Dir(s.path)
	if e = os.MkdirAll(dir, 0o755); e != nil {
		return e
	}
	tmp, e := os.CreateTemp(dir, ".nginx-switcher-*.tmp")
	if e != nil {
		return e
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, e = tmp.Write(data); e != nil {
		tmp.Close()
		return e
	}
	if e = tmp.Sync(); e != nil {
		tmp.Close()
		return e
	}
	if e = tmp.Close(); e != nil {
		return e
	}
	return os.Rename(name, s.path)
}

// Update loads the document, applies fn, and saves the result if fn
// returns true.  The updated document is returned either way.
func (s *Store) Update(fn func(doc *Document) bool) *Document {
	s.mx.Lock()
	defer s.mx.Unlock()
	doc := s.Load()
	if fn(doc) {
		s.Save(doc)
	}
	return doc
}

// UpsertEntries adds an entry for every path not already registered.
// Each new entry gets its derived work directory, which is created
// immediately.  Registering an existing path changes nothing.
func (s *Store) UpsertEntries(paths []string) *Document {
	return s.Update(func(doc *Document) bool {
		changed := false
		for _, p := range paths {
			if p == "" || doc.Find(p) != nil {
				continue
			}
			wd := WorkDirFor(p)
			if e := os.MkdirAll(s.WorkPath(wd), 0o755); e != nil {
				s.logger.Printf("Cannot create work directory for %s: %v", p, e)
			}
			doc.Entries = append(doc.Entries, Entry{ConfigPath: p, WorkDir: wd})
			changed = true
		}
		return changed
	})
}

// RemoveEntries drops the entries for the given paths.  Work directories
// are left in place.
func (s *Store) RemoveEntries(paths []string) *Document {
	return s.Update(func(doc *Document) bool {
		kept := doc.Entries[:0]
		for _, ent := range doc.Entries {
			drop := false
			for _, p := range paths {
				if SamePath(ent.ConfigPath, p) {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, ent)
			}
		}
		changed := len(kept) != len(doc.Entries)
		doc.Entries = kept
		return changed
	})
}

// SetBinary records the nginx executable path.  The path is not
// validated here.
func (s *Store) SetBinary(path string) *Document {
	return s.Update(func(doc *Document) bool {
		if doc.NginxBinaryPath == path {
			return false
		}
		doc.NginxBinaryPath = path
		return true
	})
}

// ValidBinary reports whether path names an existing regular file called
// BinaryName, ignoring case.
func ValidBinary(path string) bool {
	if path == "" {
		return false
	}
	info, e := os.Stat(path)
	if e != nil || info.IsDir() {
		return false
	}
	return strings.EqualFold(filepath.Base(path), BinaryName)
}

// DiscoverBinary looks for the nginx executable in dir and then in each
// immediate subdirectory of dir, in name order.
func DiscoverBinary(dir string) (string, error) {
	ents, e := os.ReadDir(dir)
	if e != nil {
		return "", fmt.Errorf("%w: %v", ErrBinaryNotFound, e)
	}
	for _, ent := range ents {
		if !ent.IsDir() && strings.EqualFold(ent.Name(), BinaryName) {
			if p := filepath.Join(dir, ent.Name()); ValidBinary(p) {
				return p, nil
			}
		}
	}
	for _, ent := range ents {
		if !ent.IsDir() {
			continue
		}
		sub := filepath.Join(dir, ent.Name())
		subents, e := os.ReadDir(sub)
		if e != nil {
			continue
		}
		for _, se := range subents {
			if !se.IsDir() && strings.EqualFold(se.Name(), BinaryName) {
				if p := filepath.Join(sub, se.Name()); ValidBinary(p) {
					return p, nil
				}
			}
		}
	}
	return "", ErrBinaryNotFound
}

func fileExists(path string) bool {
	info, e := os.Stat(path)
	return e == nil && !info.IsDir()
}
