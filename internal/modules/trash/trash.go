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

// Package trash implements the "trash" module: a read-only entry count
// of the freedesktop trash directory, kept current by an fsnotify watch,
// and a write-only control file that empties it.
package trash

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mathieuhardy/cerebro/internal/cerebroerr"
	"github.com/mathieuhardy/cerebro/internal/config"
	"github.com/mathieuhardy/cerebro/internal/events"
	"github.com/mathieuhardy/cerebro/internal/logger"
	"github.com/mathieuhardy/cerebro/internal/modules/common"
	mod "github.com/mathieuhardy/cerebro/internal/module"
	"github.com/mathieuhardy/cerebro/internal/trigger"
	"github.com/mathieuhardy/cerebro/internal/vfs"
)

const Name = "trash"

const (
	entryCount = "count"
	entryEmpty = "empty"
)

func trashDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", cerebroerr.Wrap(cerebroerr.Probe, "resolving home directory", err)
	}

	return filepath.Join(home, ".local", "share", "Trash"), nil
}

// countEntries walks path and counts every filesystem entry underneath
// it, excluding the root directory itself (matching the probed source's
// walk-and-subtract-one approach).
func countEntries(path string) (int, error) {
	count := -1

	err := filepath.WalkDir(path, func(_ string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		count++

		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	if count < 0 {
		count = 0
	}

	return count, nil
}

// acceptedEmptyPayloads are the exact byte patterns that trigger emptying
// the trash; anything else is ignored, matching the probed source's
// literal byte-pattern match.
var acceptedEmptyPayloads = map[string]bool{
	"1":     true,
	"1\n":   true,
	"true":  true,
	"true\n": true,
}

// removeDirContents deletes every entry directly and transitively under
// dir without removing dir itself.
func removeDirContents(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}

	return nil
}

type backend struct {
	mu       sync.Mutex
	tracker  *common.Tracker
	triggers *trigger.Set
	watcher  *fsnotify.Watcher
	dir      string
}

func newBackend(triggers *trigger.Set) (*backend, error) {
	dir, err := trashDir()
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, cerebroerr.Wrap(cerebroerr.Probe, "creating trash watcher", err)
	}

	_ = w.Add(dir)
	_ = w.Add(filepath.Join(dir, "files"))
	_ = w.Add(filepath.Join(dir, "info"))

	return &backend{
		tracker:  common.NewTracker(Name),
		triggers: triggers,
		watcher:  w,
		dir:      dir,
	}, nil
}

func (b *backend) refresh() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	count, err := countEntries(b.dir)
	if err != nil {
		return cerebroerr.Wrap(cerebroerr.Probe, "walking trash directory", err)
	}

	b.tracker.Set(b.triggers, entryCount, strconv.Itoa(count))
	b.tracker.Done()

	return nil
}

// Update implements the event-driven module.EventSampler contract: it blocks
// on the trash directory watcher and re-counts on every event. The
// trash subtree never changes shape, so this never returns
// StatusChanged.
func (b *backend) Update(stop <-chan struct{}) (mod.Status, string, error) {
	select {
	case _, ok := <-b.watcher.Events:
		if !ok {
			return mod.StatusError, "", cerebroerr.New(cerebroerr.Probe, "trash watcher closed")
		}
	case err, ok := <-b.watcher.Errors:
		if ok {
			return mod.StatusError, "", cerebroerr.Wrap(cerebroerr.Probe, "trash watcher error", err)
		}
	case <-stop:
		return mod.StatusOK, "", nil
	}

	if err := b.refresh(); err != nil {
		return mod.StatusError, "", err
	}

	return mod.StatusOK, "", nil
}

func (b *backend) get(field string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.tracker.Get(field)
}

// empty deletes the contents of the trash's files/ and info/
// subdirectories, but not the subdirectories themselves.
func (b *backend) empty() {
	if err := removeDirContents(filepath.Join(b.dir, "files")); err != nil {
		logger.Errorf("trash: %v", cerebroerr.Wrap(cerebroerr.Probe, "emptying trash files", err))
	}

	if err := removeDirContents(filepath.Join(b.dir, "info")); err != nil {
		logger.Errorf("trash: %v", cerebroerr.Wrap(cerebroerr.Probe, "emptying trash info", err))
	}

	_ = b.refresh()
}

// Module implements module.Module for the freedesktop trash.
type Module struct {
	worker  *mod.Worker
	backend *backend

	idCount uint64
	idEmpty uint64
	entries []*vfs.Entry
}

func New(bus *events.Bus, store *vfs.Store, triggers *trigger.Set) (*Module, error) {
	b, err := newBackend(triggers)
	if err != nil {
		return nil, err
	}

	if err := b.refresh(); err != nil {
		return nil, err
	}

	idCount := store.AllocateID()
	idEmpty := store.AllocateID()

	return &Module{
		worker:  mod.NewWorker(bus),
		backend: b,
		idCount: idCount,
		idEmpty: idEmpty,
		entries: []*vfs.Entry{
			vfs.NewFile(idCount, entryCount, vfs.ReadOnly),
			vfs.NewFile(idEmpty, entryEmpty, vfs.WriteOnly),
		},
	}, nil
}

func (m *Module) Name() string { return Name }

func (m *Module) Start(_ *config.ModuleConfig) error {
	return m.worker.StartEventDriven(m.backend)
}

func (m *Module) Stop() error { return m.worker.Stop() }

func (m *Module) IsRunning() bool { return m.worker.IsRunning() }

func (m *Module) FSEntries() []*vfs.Entry { return m.entries }

func (m *Module) Value(id uint64) []byte {
	if id == m.idCount {
		return []byte(m.backend.get(entryCount))
	}

	return []byte(common.Unknown)
}

// SetValue empties the trash when the written payload matches one of the
// exact accepted byte patterns (§6); anything else is ignored.
func (m *Module) SetValue(id uint64, data []byte) {
	if id != m.idEmpty {
		return
	}

	if !acceptedEmptyPayloads[string(data)] {
		return
	}

	m.backend.empty()
}

func (m *Module) JSON() []byte {
	b, err := json.Marshal(struct {
		Count string `json:"count"`
	}{Count: m.backend.get(entryCount)})
	if err != nil {
		return []byte(common.Unknown)
	}

	return b
}

func (m *Module) Shell() []byte {
	return []byte(fmt.Sprintf("count=%s", m.backend.get(entryCount)))
}
