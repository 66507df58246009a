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
	"unicode/utf8"
)

const (
	// WorkRoot is the directory, relative to the application root,
	// under which every instance work directory lives.
	WorkRoot = "nginx_work"

	maxSlugLen      = 255
	compressSlugLen = 64
)

// Characters that may not appear in a file name on any platform we run
// on.  Control characters are rejected separately.
const illegalNameChars = "<>:\"/\\|?*"

func isSeparator(r rune) bool {
	return r == '/' || r == filepath.Separator
}

func isIllegal(r rune) bool {
	return r < 0x20 || strings.ContainsRune(illegalNameChars, r)
}

// Slugify maps an absolute configuration path to a single file name
// component.  The mapping is deterministic, never produces "__", and
// never yields more than 255 bytes.  Long paths are shortened by
// reducing each directory component to its first character while
// keeping the final file name intact.
func Slugify(path string) string {
	repl := strings.Map(func(r rune) rune {
		if isSeparator(r) || isIllegal(r) {
			return '_'
		}
		return r
	}, path)

	if len(repl) > compressSlugLen {
		// Every replaced character is ASCII, so byte offsets in path
		// and repl line up.
		cut := strings.LastIndexFunc(path, isSeparator) + 1
		repl = compressDirs(repl[:cut]) + repl[cut:]
	}
	if len(repl) > maxSlugLen {
		repl = truncateUTF8(repl, maxSlugLen)
	}
	for strings.Contains(repl, "__") {
		repl = strings.ReplaceAll(repl, "__", "_")
	}
	return repl
}

func compressDirs(dir string) string {
	parts := strings.Split(dir, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		_, n := utf8.DecodeRuneInString(p)
		parts[i] = p[:n]
	}
	return strings.Join(parts, "_")
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// WorkDirFor returns the work directory, relative to the application
// root, assigned to the given configuration path.
func WorkDirFor(configPath string) string {
	return filepath.Join(WorkRoot, Slugify(configPath))
}
