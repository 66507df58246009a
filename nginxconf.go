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
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Unconfigured is the display port of a configuration that has no
// recognizable listen directive.
const Unconfigured = "unconfigured"

var (
	includeRE = regexp.MustCompile(`(?i)\binclude\s+([^;]+);`)
	listenRE  = regexp.MustCompile(`(?i)\blisten\s+([0-9]+);`)
	httpRE    = regexp.MustCompile(`(?i)\bhttp\s*\{`)
)

// ParsedConfig is the result of following a configuration's include
// graph.  ReferencedFiles starts with the root and lists every reachable
// file once.  Ports holds the distinct listen ports found in any of them.
//
// IncludePatterns keeps the wildcard include targets, resolved to
// absolute form, so that new files matching them can be noticed.
//
// Only "listen <digits>;" is recognized.  Addresses and extra parameters
// such as "listen 80 default_server;" are not.
type ParsedConfig struct {
	RootPath        string   `json:"rootPath"`
	ReferencedFiles []string `json:"referencedFiles"`
	Ports           []string `json:"ports"`
	IncludePatterns []string `json:"includePatterns,omitempty"`
}

// Parser reads nginx configuration text.  It never fails: unreadable
// files are logged and contribute nothing.
type Parser struct {
	logger *log.Logger
}

func NewParser(logger *log.Logger) *Parser {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Parser{logger: logger}
}

func (p *Parser) read(path string) (string, bool) {
	data, e := os.ReadFile(path)
	if e != nil {
		p.logger.Printf("Cannot read %s: %v", path, e)
		parseErrors.Inc()
		return "", false
	}
	return string(data), true
}

// Parse follows include directives transitively from root.  Relative
// include targets resolve against the directory of the including file.
// Targets containing glob characters expand to the matching regular
// files.  Cycles and repeated includes are visited once.
func (p *Parser) Parse(root string) *ParsedConfig {
	pc := &ParsedConfig{
		RootPath:        root,
		ReferencedFiles: []string{},
		Ports:           []string{},
	}
	if !fileExists(root) {
		return pc
	}

	visited := map[string]bool{filepath.Clean(root): true}
	pc.ReferencedFiles = append(pc.ReferencedFiles, root)
	texts := make(map[string]string)

	// Worklist rather than recursion, so include depth is bounded only
	// by the number of files.
	work := []string{root}
	for len(work) > 0 {
		cur := work[0]
		work = work[1:]
		text, ok := p.read(cur)
		if !ok {
			continue
		}
		texts[cur] = text
		for _, target := range p.includes(pc, cur, text) {
			if visited[target] {
				continue
			}
			visited[target] = true
			pc.ReferencedFiles = append(pc.ReferencedFiles, target)
			work = append(work, target)
		}
	}

	seen := make(map[string]bool)
	for _, f := range pc.ReferencedFiles {
		for _, m := range listenRE.FindAllStringSubmatch(texts[f], -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				pc.Ports = append(pc.Ports, m[1])
			}
		}
	}
	sort.Slice(pc.Ports, func(i, j int) bool {
		a, _ := strconv.Atoi(pc.Ports[i])
		b, _ := strconv.Atoi(pc.Ports[j])
		if a != b {
			return a < b
		}
		return pc.Ports[i] < pc.Ports[j]
	})
	return pc
}

// includes returns the existing files named by the include directives in
// text, in the order they appear.
func (p *Parser) includes(pc *ParsedConfig, from, text string) []string {
	var out []string
	base := filepath.Dir(from)
	for _, m := range includeRE.FindAllStringSubmatch(text, -1) {
		target := strings.Trim(strings.TrimSpace(m[1]), "\"'")
		if target == "" {
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(base, target)
		}
		target = filepath.Clean(target)

		if !strings.ContainsAny(target, "*?[") {
			if fileExists(target) {
				out = append(out, target)
			}
			continue
		}
		pc.addPattern(target)
		if _, e := os.Stat(filepath.Dir(target)); e != nil {
			continue
		}
		matches, e := doublestar.FilepathGlob(target, doublestar.WithFilesOnly())
		if e != nil {
			p.logger.Printf("Bad include pattern %q in %s: %v", target, from, e)
			parseErrors.Inc()
			continue
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out
}

func (pc *ParsedConfig) addPattern(pattern string) {
	for _, x := range pc.IncludePatterns {
		if x == pattern {
			return
		}
	}
	pc.IncludePatterns = append(pc.IncludePatterns, pattern)
}

// QuickPort returns the first listen port in the file itself, without
// following includes, or Unconfigured.
func (p *Parser) QuickPort(path string) string {
	if !fileExists(path) {
		return Unconfigured
	}
	text, ok := p.read(path)
	if !ok {
		return Unconfigured
	}
	if m := listenRE.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return Unconfigured
}

// IsMainConfig reports whether the file contains an http block, which is
// how top level configurations are told apart from include fragments.
func (p *Parser) IsMainConfig(path string) bool {
	text, ok := p.read(path)
	return ok && httpRE.MatchString(text)
}

// ScanConfDir returns the main configurations found directly in the conf
// directory of an nginx installation.
func (p *Parser) ScanConfDir(nginxDir string) []string {
	dir := filepath.Join(nginxDir, "conf")
	ents, e := os.ReadDir(dir)
	if e != nil {
		p.logger.Printf("Cannot scan %s: %v", dir, e)
		return nil
	}
	var found []string
	for _, ent := range ents {
		if ent.IsDir() || !strings.EqualFold(filepath.Ext(ent.Name()), ".conf") {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		if abs, e := filepath.Abs(path); e == nil {
			path = abs
		}
		if p.IsMainConfig(path) {
			found = append(found, path)
		}
	}
	return found
}
