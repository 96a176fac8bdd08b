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

// Package brightness implements the "brightness" module: one directory
// per backlight device under /sys/class/backlight, each exposing
// value/current_value/max_value files. Devices are discovered by
// directory listing and their appearance/disappearance is watched with
// fsnotify rather than polling.
package brightness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mathieuhardy/cerebro/internal/cerebroerr"
	"github.com/mathieuhardy/cerebro/internal/config"
	"github.com/mathieuhardy/cerebro/internal/events"
	"github.com/mathieuhardy/cerebro/internal/modules/common"
	mod "github.com/mathieuhardy/cerebro/internal/module"
	"github.com/mathieuhardy/cerebro/internal/trigger"
	"github.com/mathieuhardy/cerebro/internal/vfs"
)

const Name = "brightness"

const backlightRoot = "/sys/class/backlight"

const (
	entryValue        = "value"
	entryCurrentValue = "current_value"
	entryMaxValue     = "max_value"
)

func fieldValue(device string) string        { return device + "_brightness" }
func fieldCurrentValue(device string) string { return device + "_actual_brightness" }
func fieldMaxValue(device string) string     { return device + "_max_brightness" }

func listDevices() ([]string, error) {
	entries, err := os.ReadDir(backlightRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	var devices []string
	for _, e := range entries {
		devices = append(devices, e.Name())
	}

	return devices, nil
}

func readIntFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return common.Unknown
	}

	return strings.TrimSuffix(string(b), "\n")
}

type backend struct {
	mu       sync.Mutex
	tracker  *common.Tracker
	triggers *trigger.Set

	watcher    *fsnotify.Watcher
	devices    []string
	devicesSet bool
}

func newBackend(triggers *trigger.Set) (*backend, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, cerebroerr.Wrap(cerebroerr.Probe, "creating backlight watcher", err)
	}

	// Best-effort: the backlight root may not exist on a headless host.
	_ = w.Add(backlightRoot)

	return &backend{
		tracker:  common.NewTracker(Name),
		triggers: triggers,
		watcher:  w,
	}, nil
}

func (b *backend) close() {
	_ = b.watcher.Close()
}

// Update implements module.EventSampler. It is event-driven: it blocks on the
// backlight watcher until a filesystem event arrives (or the passed stop
// channel closes), then re-lists devices. If the device set changed it
// reports StatusChanged; otherwise it re-reads every known device's
// values and reports StatusOK.
func (b *backend) Update(stop <-chan struct{}) (mod.Status, string, error) {
	select {
	case _, ok := <-b.watcher.Events:
		if !ok {
			return mod.StatusError, "", cerebroerr.New(cerebroerr.Probe, "backlight watcher closed")
		}
	case err, ok := <-b.watcher.Errors:
		if ok {
			return mod.StatusError, "", cerebroerr.Wrap(cerebroerr.Probe, "backlight watcher error", err)
		}
	case <-stop:
		return mod.StatusOK, "", nil
	}

	return b.refresh()
}

// FirstRefresh performs the initial synchronous read used to build the
// module's first subtree, before the event-driven loop starts.
func (b *backend) FirstRefresh() error {
	_, _, err := b.refreshInner()
	return err
}

func (b *backend) refresh() (mod.Status, string, error) {
	changed, _, err := b.refreshInner()
	if err != nil {
		return mod.StatusError, "", err
	}

	if changed {
		return mod.StatusChanged, Name, nil
	}

	return mod.StatusOK, "", nil
}

func (b *backend) refreshInner() (changed bool, devices []string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	devices, err = listDevices()
	if err != nil {
		return false, nil, cerebroerr.Wrap(cerebroerr.Probe, "listing backlight devices", err)
	}

	changed = b.devicesSet && !sameDevices(b.devices, devices)

	if changed {
		b.fireDeviceDeletes(devices)
	}

	// Commit the freshly probed device list even on a shape change: the
	// registrar's regraft reads it via devicesSnapshot(), and the
	// restarted worker's next tick must compare against this same set,
	// not the one that just changed, or every subsequent tick sees
	// another "change" and the module never stops regrafting.
	b.devices = devices
	b.devicesSet = true

	if changed {
		return true, devices, nil
	}

	for _, device := range devices {
		dir := filepath.Join(backlightRoot, device)

		b.tracker.Set(b.triggers, fieldValue(device), readIntFile(filepath.Join(dir, "brightness")))
		b.tracker.Set(b.triggers, fieldCurrentValue(device), readIntFile(filepath.Join(dir, "actual_brightness")))
		b.tracker.Set(b.triggers, fieldMaxValue(device), readIntFile(filepath.Join(dir, "max_brightness")))
	}

	b.tracker.Done()

	return false, devices, nil
}

// fireDeviceDeletes fires a Delete-kind trigger for every field of every
// device present in b.devices (the last-committed list) but absent from
// newDevices, for a backlight device that has disappeared since the
// previous tick. Called with b.mu held, before b.devices is overwritten.
func (b *backend) fireDeviceDeletes(newDevices []string) {
	live := map[string]bool{}
	for _, d := range newDevices {
		live[d] = true
	}

	for _, d := range b.devices {
		if live[d] {
			continue
		}

		b.tracker.Delete(b.triggers, fieldValue(d))
		b.tracker.Delete(b.triggers, fieldCurrentValue(d))
		b.tracker.Delete(b.triggers, fieldMaxValue(d))
	}
}

func sameDevices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	seen := map[string]bool{}
	for _, d := range a {
		seen[d] = true
	}

	for _, d := range b {
		if !seen[d] {
			return false
		}
	}

	return true
}

func (b *backend) devicesSnapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.devices))
	copy(out, b.devices)

	return out
}

func (b *backend) get(field string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.tracker.Get(field)
}

// Module implements module.Module for backlight devices.
type Module struct {
	store   *vfs.Store
	worker  *mod.Worker
	backend *backend

	mu       sync.Mutex
	idByPath map[uint64]string
}

func New(bus *events.Bus, store *vfs.Store, triggers *trigger.Set) (*Module, error) {
	b, err := newBackend(triggers)
	if err != nil {
		return nil, err
	}

	if err := b.FirstRefresh(); err != nil {
		return nil, err
	}

	return &Module{
		store:    store,
		worker:   mod.NewWorker(bus),
		backend:  b,
		idByPath: map[uint64]string{},
	}, nil
}

func (m *Module) Name() string { return Name }

func (m *Module) Start(_ *config.ModuleConfig) error {
	return m.worker.StartEventDriven(m.backend)
}

func (m *Module) Stop() error {
	err := m.worker.Stop()
	return err
}

func (m *Module) IsRunning() bool { return m.worker.IsRunning() }

func (m *Module) FSEntries() []*vfs.Entry {
	devices := m.backend.devicesSnapshot()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.idByPath = map[uint64]string{}

	mint := func(field string) uint64 {
		id := m.store.AllocateID()
		m.idByPath[id] = field
		return id
	}

	var out []*vfs.Entry
	for _, device := range devices {
		out = append(out, vfs.NewDirectory(m.store.AllocateID(), device, []*vfs.Entry{
			vfs.NewFile(mint(fieldValue(device)), entryValue, vfs.ReadOnly),
			vfs.NewFile(mint(fieldCurrentValue(device)), entryCurrentValue, vfs.ReadOnly),
			vfs.NewFile(mint(fieldMaxValue(device)), entryMaxValue, vfs.ReadOnly),
		}))
	}

	return out
}

func (m *Module) Value(id uint64) []byte {
	m.mu.Lock()
	field, ok := m.idByPath[id]
	m.mu.Unlock()

	if !ok {
		return []byte(common.Unknown)
	}

	return []byte(m.backend.get(field))
}

func (m *Module) SetValue(_ uint64, _ []byte) {}

func (m *Module) JSON() []byte {
	devices := m.backend.devicesSnapshot()

	out := map[string]map[string]string{}
	for _, device := range devices {
		out[device] = map[string]string{
			entryValue:        m.backend.get(fieldValue(device)),
			entryCurrentValue: m.backend.get(fieldCurrentValue(device)),
			entryMaxValue:     m.backend.get(fieldMaxValue(device)),
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return []byte(common.Unknown)
	}

	return b
}

// Shell concatenates every device's segment with NO separator between
// devices, reproducing the probed source's behavior verbatim (see the
// Open Question decisions): intentional or not, tooling already depends
// on this exact layout.
func (m *Module) Shell() []byte {
	devices := m.backend.devicesSnapshot()

	var sb strings.Builder

	for _, device := range devices {
		fmt.Fprintf(&sb, "%s_brightness=%s %s_actual_brightness=%s %s_max_brightness=%s",
			device, m.backend.get(fieldValue(device)),
			device, m.backend.get(fieldCurrentValue(device)),
			device, m.backend.get(fieldMaxValue(device)))
	}

	return []byte(sb.String())
}
