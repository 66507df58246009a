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
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

// LogRecord is one line of the activity log.  Source is the component
// that produced it, taken from a leading "[name]" tag when present.
type LogRecord struct {
	Id     int64     `json:"id,string"`
	Time   time.Time `json:"time"`
	Source string    `json:"source,omitempty"`
	Text   string    `json:"text"`
}

// Log is a bounded in-memory activity log.  It implements io.Writer so
// that it can sit behind a log.Logger, and keeps the most recent
// MaxLogRecords lines for display and long-polling.
type Log struct {
	ring    []LogRecord
	next    int // total lines written; next slot is next % len(ring)
	id      int64
	waiters map[*sync.Cond]bool
	mx      sync.Mutex
}

func (l *Log) lock() {
	l.mx.Lock()
}

func (l *Log) unlock() {
	l.mx.Unlock()
}

func splitSource(line string) (string, string) {
	if !strings.HasPrefix(line, "[") {
		return "", line
	}
	end := strings.Index(line, "] ")
	if end < 0 {
		return "", line
	}
	return line[1:end], line[end+2:]
}

// Write implements io.Writer.  Each newline separated line becomes its
// own record.
func (l *Log) Write(b []byte) (int, error) {
	text := strings.Trim(string(b), "\n")
	now := time.Now()
	l.lock()
	for _, line := range strings.Split(text, "\n") {
		rec := &l.ring[l.next%len(l.ring)]
		l.id++
		rec.Id = l.id
		rec.Time = now
		rec.Source, rec.Text = splitSource(line)
		l.next++
	}
	for cv := range l.waiters {
		cv.Broadcast()
	}
	l.unlock()
	return len(b), nil
}

// Clear discards all records.  The ID moves forward so that watchers
// holding an old ID notice the change.
func (l *Log) Clear() {
	l.lock()
	l.next = 0
	l.id = time.Now().UnixNano()
	for cv := range l.waiters {
		cv.Broadcast()
	}
	l.unlock()
}

// GetRecords returns the retained records, oldest first, together with
// an ID usable as an Etag.  If last equals the current ID nothing has
// changed, and nil is returned without copying anything.
func (l *Log) GetRecords(last int64) ([]LogRecord, int64) {
	l.lock()
	defer l.unlock()
	if l.id == last {
		return nil, last
	}
	cnt := l.next
	if cnt > len(l.ring) {
		cnt = len(l.ring)
	}
	recs := make([]LogRecord, 0, cnt)
	for i := l.next - cnt; i < l.next; i++ {
		recs = append(recs, l.ring[i%len(l.ring)])
	}
	return recs, l.id
}

// Watch blocks until the log ID differs from last, or until expire has
// elapsed.  It returns the current ID.
func (l *Log) Watch(last int64, expire time.Duration) int64 {
	return watchCond(&l.mx, l.waiters, expire, func() bool {
		return l.id != last
	}, func() int64 {
		return l.id
	})
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{
		ring:    make([]LogRecord, MaxLogRecords),
		id:      time.Now().UnixNano(),
		waiters: make(map[*sync.Cond]bool),
	}
}

// watchCond waits on a fresh condition variable registered in waiters
// until changed reports true or expire elapses.  The caller's mutex
// guards waiters and whatever changed and current read.
func watchCond(mx *sync.Mutex, waiters map[*sync.Cond]bool,
	expire time.Duration, changed func() bool, current func() int64) int64 {

	expired := false
	cv := sync.NewCond(mx)
	var timer *time.Timer
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			mx.Lock()
			expired = true
			cv.Broadcast()
			mx.Unlock()
		})
	} else {
		expired = true
	}

	mx.Lock()
	waiters[cv] = true
	for !changed() && !expired {
		cv.Wait()
	}
	delete(waiters, cv)
	val := current()
	mx.Unlock()

	if timer != nil {
		timer.Stop()
	}
	return val
}
