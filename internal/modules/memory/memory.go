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

// Package memory implements the "memory" module: free/total/used bytes
// sampled from the host's virtual memory statistics.
package memory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mathieuhardy/cerebro/internal/cerebroerr"
	"github.com/mathieuhardy/cerebro/internal/config"
	"github.com/mathieuhardy/cerebro/internal/events"
	"github.com/mathieuhardy/cerebro/internal/modules/common"
	mod "github.com/mathieuhardy/cerebro/internal/module"
	"github.com/mathieuhardy/cerebro/internal/trigger"
	"github.com/mathieuhardy/cerebro/internal/vfs"
)

const Name = "memory"

const (
	entryFree  = "free"
	entryTotal = "total"
	entryUsed  = "used"
)

type data struct {
	Free  string `json:"free"`
	Total string `json:"total"`
	Used  string `json:"used"`
}

type backend struct {
	mu       sync.Mutex
	tracker  *common.Tracker
	triggers *trigger.Set
}

func newBackend(triggers *trigger.Set) *backend {
	return &backend{tracker: common.NewTracker(Name), triggers: triggers}
}

// Update implements module.Sampler. Memory never changes shape, so it
// always returns module.StatusOK (or module.StatusError on probe
// failure) and never module.StatusChanged.
func (b *backend) Update() (mod.Status, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	vm, err := mem.VirtualMemory()
	if err != nil {
		return mod.StatusError, "", cerebroerr.Wrap(cerebroerr.Probe, "reading virtual memory statistics", err)
	}

	b.tracker.Set(b.triggers, entryFree, strconv.FormatUint(vm.Free, 10))
	b.tracker.Set(b.triggers, entryTotal, strconv.FormatUint(vm.Total, 10))
	b.tracker.Set(b.triggers, entryUsed, strconv.FormatUint(vm.Total-vm.Free, 10))
	b.tracker.Done()

	return mod.StatusOK, "", nil
}

func (b *backend) snapshot() data {
	b.mu.Lock()
	defer b.mu.Unlock()

	return data{
		Free:  b.tracker.Get(entryFree),
		Total: b.tracker.Get(entryTotal),
		Used:  b.tracker.Get(entryUsed),
	}
}

// Module implements module.Module for the host's virtual memory
// statistics.
type Module struct {
	worker  *mod.Worker
	backend *backend

	idFree  uint64
	idTotal uint64
	idUsed  uint64

	entries []*vfs.Entry
}

// New builds the memory module, allocating its fixed set of entry IDs
// from store.
func New(bus *events.Bus, store *vfs.Store, triggers *trigger.Set) *Module {
	idFree := store.AllocateID()
	idTotal := store.AllocateID()
	idUsed := store.AllocateID()

	return &Module{
		worker:  mod.NewWorker(bus),
		backend: newBackend(triggers),
		idFree:  idFree,
		idTotal: idTotal,
		idUsed:  idUsed,
		entries: []*vfs.Entry{
			vfs.NewFile(idFree, entryFree, vfs.ReadOnly),
			vfs.NewFile(idTotal, entryTotal, vfs.ReadOnly),
			vfs.NewFile(idUsed, entryUsed, vfs.ReadOnly),
		},
	}
}

func (m *Module) Name() string { return Name }

func (m *Module) Start(cfg *config.ModuleConfig) error {
	return m.worker.Start(m.backend, cfg.Timeout(5))
}

func (m *Module) Stop() error { return m.worker.Stop() }

func (m *Module) IsRunning() bool { return m.worker.IsRunning() }

func (m *Module) FSEntries() []*vfs.Entry { return m.entries }

func (m *Module) Value(id uint64) []byte {
	s := m.backend.snapshot()

	switch id {
	case m.idFree:
		return []byte(s.Free)
	case m.idTotal:
		return []byte(s.Total)
	case m.idUsed:
		return []byte(s.Used)
	default:
		return []byte(common.Unknown)
	}
}

func (m *Module) SetValue(_ uint64, _ []byte) {}

func (m *Module) JSON() []byte {
	b, err := json.Marshal(m.backend.snapshot())
	if err != nil {
		return []byte(common.Unknown)
	}

	return b
}

func (m *Module) Shell() []byte {
	s := m.backend.snapshot()

	return []byte(fmt.Sprintf("free=%s total=%s used=%s", s.Free, s.Total, s.Used))
}
