// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package events implements the many-producer, single-consumer bus that
// carries structural-change notifications from samplers to the FS
// adapter's regraft consumer.
package events

// Event is the single variant carried on the bus: a module's subtree
// shape changed and must be regrafted.
type Event struct {
	ModuleName string
}

// Bus is a bounded, at-least-once FIFO of Events. Any number of
// samplers may send concurrently; exactly one background consumer drains
// it (see internal/fs's regraft loop).
//
// The channel is buffered generously rather than truly unbounded: under
// the component's expected workload (one event per module shape change,
// a rare occurrence) a bound this large never blocks a producer in
// practice, which keeps producers lock-free without requiring an
// actually-unbounded container.
type Bus struct {
	ch chan Event
}

const busCapacity = 4096

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{ch: make(chan Event, busCapacity)}
}

// Publish enqueues an event. It never blocks the caller under normal
// operation; if the bus is saturated (a sign that the consumer has
// stalled) it blocks rather than silently dropping an update, since
// consumers must see every shape change at least once.
func (b *Bus) Publish(moduleName string) {
	b.ch <- Event{ModuleName: moduleName}
}

// Subscribe returns the receive side of the bus for the single consumer.
func (b *Bus) Subscribe() <-chan Event {
	return b.ch
}
