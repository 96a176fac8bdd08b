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

// Package registrar applies configuration to a list of modules, composes
// their subtrees into the tree store's root, and (re)starts their
// workers, both at startup and on every ModuleUpdated regraft.
package registrar

import (
	"sync"

	"github.com/mathieuhardy/cerebro/internal/config"
	"github.com/mathieuhardy/cerebro/internal/logger"
	"github.com/mathieuhardy/cerebro/internal/module"
	"github.com/mathieuhardy/cerebro/internal/vfs"
)

const (
	jsonEntryName  = "json"
	shellEntryName = "shell"
)

// Registrar owns the module list, the shared tree store, and the
// configuration that gates each module. It also maintains the
// identifier-to-owning-module index the FS adapter needs to dispatch
// Value/SetValue/JSON/Shell calls: the tree store only knows entry
// shape, not which module backs a given leaf.
type Registrar struct {
	store   *vfs.Store
	modules []module.Module
	cfg     *config.Config

	mu        sync.RWMutex
	owners    map[uint64]module.Module
	moduleIDs map[string][]uint64
}

// New creates a registrar over modules, using cfg to gate them.
func New(store *vfs.Store, modules []module.Module, cfg *config.Config) *Registrar {
	return &Registrar{
		store:     store,
		modules:   modules,
		cfg:       cfg,
		owners:    map[uint64]module.Module{},
		moduleIDs: map[string][]uint64{},
	}
}

// OwnerOf returns the module owning the entry at id (either one of its
// own FSEntries() leaves, or its synthetic json/shell leaf), or nil if
// id is not currently grafted under any registered module.
func (r *Registrar) OwnerOf(id uint64) module.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.owners[id]
}

// RegisterAll clears the root's children and grafts every enabled
// module's subtree, starting each module's worker.
func (r *Registrar) RegisterAll() {
	r.store.Lock()
	r.store.Root().Children = nil
	r.store.Unlock()

	for _, m := range r.modules {
		r.registerOne(m)
	}
}

// RegisterByName performs the single-module graft step used by the
// event-bus consumer on a ModuleUpdated(name) delivery. Re-delivery is
// idempotent: registering an already-registered module simply rebuilds
// its subtree from current state.
func (r *Registrar) RegisterByName(name string) {
	for _, m := range r.modules {
		if m.Name() == name {
			r.registerOne(m)
			return
		}
	}

	logger.Warnf("registrar: ModuleUpdated for unknown module %q", name)
}

func (r *Registrar) registerOne(m module.Module) {
	mc := r.cfg.Module(m.Name())
	if mc == nil {
		logger.Debugf("registrar: module %q has no configuration entry, skipping", m.Name())
		return
	}

	if !mc.IsEnabled() {
		logger.Debugf("registrar: module %q is disabled, skipping", m.Name())
		return
	}

	if err := m.Stop(); err != nil {
		logger.Errorf("registrar: stopping module %q: %v", m.Name(), err)
	}

	children := m.FSEntries()

	if mc.JSONEnabled() {
		children = append(children, vfs.NewFile(r.store.AllocateID(), jsonEntryName, vfs.ReadOnly))
	}

	if mc.ShellEnabled() {
		children = append(children, vfs.NewFile(r.store.AllocateID(), shellEntryName, vfs.ReadOnly))
	}

	subtree := vfs.NewDirectory(r.store.AllocateID(), m.Name(), children)

	r.store.Lock()
	r.store.Graft(m.Name(), subtree)
	r.store.Unlock()

	r.reindexOwner(m, subtree)

	if err := m.Start(mc); err != nil {
		logger.Errorf("registrar: starting module %q: %v", m.Name(), err)
	}
}

// reindexOwner drops the previous id->module entries recorded for m's
// name (they are stale: FSEntries mints fresh identifiers on every
// regraft) and records the identifiers reachable from subtree, including
// the synthetic json/shell leaves.
func (r *Registrar) reindexOwner(m module.Module, subtree *vfs.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.moduleIDs[m.Name()] {
		delete(r.owners, id)
	}

	var ids []uint64

	var walk func(e *vfs.Entry)
	walk = func(e *vfs.Entry) {
		ids = append(ids, e.ID)
		r.owners[e.ID] = m

		for _, c := range e.Children {
			walk(c)
		}
	}

	walk(subtree)

	r.moduleIDs[m.Name()] = ids
}
