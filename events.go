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
	"sync"
)

// EventKind distinguishes the two notifications the Manager emits.
type EventKind string

const (
	// StatusChanged is sent when one instance changes status.  Index,
	// ID, and Status describe the instance.
	StatusChanged EventKind = "status"

	// ContentChanged is sent whenever anything observable in the
	// registry changed, including after every StatusChanged and after
	// every reload.  Index is -1.
	ContentChanged EventKind = "content"
)

// Event is a change notification.  Serial is the Manager serial after
// the change.
type Event struct {
	Kind       EventKind `json:"kind"`
	Index      int       `json:"index"`
	ID         string    `json:"id,omitempty"`
	ConfigPath string    `json:"configPath,omitempty"`
	Status     Status    `json:"status,omitempty"`
	Serial     int64     `json:"serial,string"`
}

// DefaultEventBuffer is used when Subscribe is given a non-positive size.
const DefaultEventBuffer = 64

type subscriber struct {
	ch      chan Event
	dropped int64
}

// Subscribe returns a channel delivering events in the order they
// occurred.  Delivery never blocks the Manager: when the channel is
// full, the event is dropped for this subscriber and counted.  The
// returned function cancels the subscription and closes the channel.
// The channel is also closed by Shutdown.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	m.lock()
	if m.closed {
		m.unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	m.subs[sub] = true
	m.unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.lock()
			if m.subs[sub] {
				delete(m.subs, sub)
				close(sub.ch)
			}
			m.unlock()
		})
	}
	return sub.ch, cancel
}

// publish delivers ev to every subscriber.  Call with lock held, which
// is what keeps delivery in order.
func (m *Manager) publish(ev Event) {
	for sub := range m.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			eventsDropped.Inc()
		}
	}
}

func (m *Manager) closeSubscribers() {
	for sub := range m.subs {
		close(sub.ch)
		delete(m.subs, sub)
	}
}
