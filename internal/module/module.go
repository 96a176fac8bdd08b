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

// Package module defines the common protocol every data source
// implements and the worker runtime that drives it.
package module

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mathieuhardy/cerebro/internal/config"
	"github.com/mathieuhardy/cerebro/internal/events"
	"github.com/mathieuhardy/cerebro/internal/logger"
	"github.com/mathieuhardy/cerebro/internal/vfs"
)

// Status is the result of one Sampler tick.
type Status int

const (
	// StatusOK means the tick completed with no structural change.
	StatusOK Status = iota

	// StatusChanged means the module's subtree shape changed (e.g. a new
	// backlight device appeared) and must be regrafted. The worker that
	// returns this self-terminates after emitting the event.
	StatusChanged

	// StatusError means the tick failed to read its probe; the worker
	// logs and continues on the next tick.
	StatusError
)

// Sampler is invoked once per worker tick to refresh a module's state.
type Sampler interface {
	Update() (Status, string, error)
}

// EventSampler is invoked once per worker tick for an event-driven
// module. It receives the worker's stop channel directly, captured once
// when the worker starts, so a blocking watch call can select on it
// without taking the worker's mutex on every tick.
type EventSampler interface {
	Update(stop <-chan struct{}) (Status, string, error)
}

// Module is the protocol every data source exposes to the registrar and
// the FS adapter.
type Module interface {
	// Name is the stable identifier used as a path component and config
	// key.
	Name() string

	// Start begins (or, if already running, is a no-op for) the
	// module's worker.
	Start(cfg *config.ModuleConfig) error

	// Stop halts the module's worker. Safe to call on a module that was
	// never started.
	Stop() error

	// IsRunning reports whether the worker is currently active.
	IsRunning() bool

	// FSEntries returns the subtree children to graft under the
	// module's directory.
	FSEntries() []*vfs.Entry

	// Value returns the content of the file at the given entry ID, or
	// the placeholder "?" on any failure.
	Value(id uint64) []byte

	// SetValue accepts a write to the file at the given entry ID. A
	// no-op for read-only modules.
	SetValue(id uint64, data []byte)

	// JSON returns a whole-module snapshot as a JSON object.
	JSON() []byte

	// Shell returns a whole-module snapshot as `key=value key=value …`.
	Shell() []byte
}

// Worker drives a Sampler on a sleep-and-repeat loop (or, for
// event-driven samplers, on an internal blocking loop that never
// sleeps). It has states Stopped -> Running -> Stopped.
type Worker struct {
	mu      sync.Mutex
	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	bus     *events.Bus
}

// NewWorker creates a stopped worker publishing structural-change events
// on bus.
func NewWorker(bus *events.Bus) *Worker {
	return &Worker{bus: bus}
}

// Start is idempotent: calling it on an already-running worker succeeds
// without spawning a second goroutine. It drives a periodic sampler: each
// tick sleeps for timeoutS seconds between calls to sampler.Update().
func (w *Worker) Start(sampler Sampler, timeoutS uint64) error {
	return w.start(timeoutS, false, func(_ <-chan struct{}) func() (Status, string, error) {
		return sampler.Update
	})
}

// StartEventDriven is idempotent like Start, but for samplers whose
// Update(stop) blocks internally on a kernel file-change watcher rather
// than returning promptly: the worker never sleeps between calls, since
// the sampler itself paces the loop by blocking until the next event or
// until stop closes. The stop channel is captured once, here, and handed
// to the sampler directly, rather than the sampler re-acquiring it from
// the worker on every tick.
func (w *Worker) StartEventDriven(sampler EventSampler) error {
	return w.start(0, true, func(stop <-chan struct{}) func() (Status, string, error) {
		return func() (Status, string, error) { return sampler.Update(stop) }
	})
}

func (w *Worker) start(timeoutS uint64, eventDriven bool, makeTick func(stop <-chan struct{}) func() (Status, string, error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running.Load() {
		return nil
	}

	w.running.Store(true)
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	stop := w.stop
	done := w.done
	tick := makeTick(stop)

	go w.run(tick, timeoutS, eventDriven, stop, done)

	return nil
}

func (w *Worker) run(tick func() (Status, string, error), timeoutS uint64, eventDriven bool, stop, done chan struct{}) {
	defer close(done)

	interval := time.Duration(timeoutS) * time.Second
	if interval <= 0 {
		interval = time.Second
	}

	for {
		status, name, err := tick()
		if err != nil {
			logger.Errorf("module worker: update failed: %v", err)
			status = StatusError
		}

		if status == StatusChanged {
			w.bus.Publish(name)
			w.running.Store(false)
			return
		}

		select {
		case <-stop:
			w.running.Store(false)
			return
		default:
		}

		if eventDriven {
			continue
		}

		select {
		case <-stop:
			w.running.Store(false)
			return
		case <-time.After(interval):
		}
	}
}

// Stop signals the worker to exit and waits for it to finish. Safe to
// call more than once or on a worker that was never started.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running.Load() || w.stop == nil {
		return nil
	}

	close(w.stop)
	<-w.done

	w.stop = nil
	w.done = nil

	return nil
}

// IsRunning reports whether the worker's loop is currently active.
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}
