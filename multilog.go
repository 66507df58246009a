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
	"strings"
	"sync"
)

// MultiLogger fans a single log stream out to several loggers.  It is an
// io.Writer that splits its input into lines and hands each line to every
// registered logger, each of which keeps its own prefix and flags.
//
// Components get their own tagged logger from Component, which writes
// through the MultiLogger with a "[name] " prefix.
type MultiLogger struct {
	log     *log.Logger
	loggers []*log.Logger
	lock    sync.Mutex
}

// Write implements io.Writer.  Input is expected to be whole lines, which
// is what log.Logger delivers.
func (l *MultiLogger) Write(b []byte) (int, error) {
	lines := strings.Split(strings.Trim(string(b), "\n"), "\n")
	l.lock.Lock()
	for _, line := range lines {
		for _, logger := range l.loggers {
			logger.Println(line)
		}
	}
	l.lock.Unlock()
	return len(b), nil
}

// AddLogger registers a destination.  Adding the same logger twice is a
// no-op.
func (l *MultiLogger) AddLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, x := range l.loggers {
		if x == logger {
			return
		}
	}
	l.loggers = append(l.loggers, logger)
}

// DelLogger removes a destination.
func (l *MultiLogger) DelLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()

	for i, x := range l.loggers {
		if x == logger {
			l.loggers = append(l.loggers[:i], l.loggers[i+1:]...)
			break
		}
	}
}

// Logger returns an untagged logger writing through l.
func (l *MultiLogger) Logger() *log.Logger {
	return l.log
}

// Component returns a logger whose lines carry a "[name] " tag.
func (l *MultiLogger) Component(name string) *log.Logger {
	return log.New(l, "["+name+"] ", 0)
}

func NewMultiLogger() *MultiLogger {
	m := &MultiLogger{}
	m.log = log.New(m, "", 0)
	return m
}
