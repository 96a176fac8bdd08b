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

// Package battery implements the "battery" module: AC-plugged state,
// charge percentage, and a formatted time-remaining estimate.
//
// gopsutil (the library backing the memory and cpu modules) exposes no
// battery/power-supply API, and nothing else in the dependency set
// covers it either, so this module reads /sys/class/power_supply
// directly — the same surface the probed reference implementation's
// platform-statistics crate ultimately reads from.
package battery

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mathieuhardy/cerebro/internal/cerebroerr"
	"github.com/mathieuhardy/cerebro/internal/config"
	"github.com/mathieuhardy/cerebro/internal/events"
	"github.com/mathieuhardy/cerebro/internal/modules/common"
	mod "github.com/mathieuhardy/cerebro/internal/module"
	"github.com/mathieuhardy/cerebro/internal/trigger"
	"github.com/mathieuhardy/cerebro/internal/vfs"
)

const Name = "battery"

const (
	entryPlugged      = "plugged"
	entryPercent      = "percent"
	entryTimeRemaining = "time_remaining"
)

const powerSupplyRoot = "/sys/class/power_supply"

type probeReading struct {
	plugged       bool
	percent       uint8
	secsRemaining int64
	haveTime      bool
}

// probe reads the first Battery and first Mains (AC adapter) power
// supplies found under powerSupplyRoot.
func probe() (probeReading, error) {
	entries, err := os.ReadDir(powerSupplyRoot)
	if err != nil {
		return probeReading{}, cerebroerr.Wrap(cerebroerr.Probe, "listing power supplies", err)
	}

	var reading probeReading
	foundBattery := false

	for _, e := range entries {
		dir := filepath.Join(powerSupplyRoot, e.Name())

		kind := strings.TrimSpace(readFile(filepath.Join(dir, "type")))

		switch kind {
		case "Battery":
			if foundBattery {
				continue
			}

			foundBattery = true

			capacity, err := strconv.ParseFloat(strings.TrimSpace(readFile(filepath.Join(dir, "capacity"))), 64)
			if err == nil {
				reading.percent = uint8(math.Ceil(capacity))
			}

			if secs, ok := parseUint(readFile(filepath.Join(dir, "time_to_empty_now"))); ok {
				reading.secsRemaining = secs
				reading.haveTime = true
			}

		case "Mains":
			if strings.TrimSpace(readFile(filepath.Join(dir, "online"))) == "1" {
				reading.plugged = true
			}
		}
	}

	if !foundBattery {
		return probeReading{}, cerebroerr.New(cerebroerr.Probe, "no battery power supply found")
	}

	return reading, nil
}

func readFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	return string(b)
}

func parseUint(s string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

// formatTimeRemaining reproduces the probed source's HHhMMm format
// exactly, including its suspected bug: the minutes slot is computed as
// secs%60 rather than (secs/60)%60. This is retained deliberately (see
// the Open Question decisions) rather than silently corrected.
func formatTimeRemaining(secs int64) string {
	hours := secs / 3600
	minutes := secs % 60

	return fmt.Sprintf("%02dh%02dm", hours, minutes)
}

type data struct {
	Plugged       string `json:"plugged"`
	Percent       string `json:"percent"`
	TimeRemaining string `json:"time_remaining"`
}

type backend struct {
	mu       sync.Mutex
	tracker  *common.Tracker
	triggers *trigger.Set
}

func newBackend(triggers *trigger.Set) *backend {
	return &backend{tracker: common.NewTracker(Name), triggers: triggers}
}

func (b *backend) Update() (mod.Status, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, err := probe()
	if err != nil {
		return mod.StatusError, "", err
	}

	plugged := common.Unknown
	if r.plugged {
		plugged = "true"
	} else {
		plugged = "false"
	}

	percent := strconv.Itoa(int(r.percent))

	timeRemaining := common.Unknown
	if r.haveTime {
		timeRemaining = formatTimeRemaining(r.secsRemaining)
	}

	b.tracker.Set(b.triggers, entryPlugged, plugged)
	b.tracker.Set(b.triggers, entryPercent, percent)
	b.tracker.Set(b.triggers, entryTimeRemaining, timeRemaining)
	b.tracker.Done()

	return mod.StatusOK, "", nil
}

func (b *backend) snapshot() data {
	b.mu.Lock()
	defer b.mu.Unlock()

	return data{
		Plugged:       b.tracker.Get(entryPlugged),
		Percent:       b.tracker.Get(entryPercent),
		TimeRemaining: b.tracker.Get(entryTimeRemaining),
	}
}

// Module implements module.Module for battery state.
type Module struct {
	worker  *mod.Worker
	backend *backend

	idPlugged       uint64
	idPercent       uint64
	idTimeRemaining uint64

	entries []*vfs.Entry
}

func New(bus *events.Bus, store *vfs.Store, triggers *trigger.Set) *Module {
	idPlugged := store.AllocateID()
	idPercent := store.AllocateID()
	idTimeRemaining := store.AllocateID()

	return &Module{
		worker:          mod.NewWorker(bus),
		backend:         newBackend(triggers),
		idPlugged:       idPlugged,
		idPercent:       idPercent,
		idTimeRemaining: idTimeRemaining,
		entries: []*vfs.Entry{
			vfs.NewFile(idPlugged, entryPlugged, vfs.ReadOnly),
			vfs.NewFile(idPercent, entryPercent, vfs.ReadOnly),
			vfs.NewFile(idTimeRemaining, entryTimeRemaining, vfs.ReadOnly),
		},
	}
}

func (m *Module) Name() string { return Name }

func (m *Module) Start(cfg *config.ModuleConfig) error {
	return m.worker.Start(m.backend, cfg.Timeout(30))
}

func (m *Module) Stop() error { return m.worker.Stop() }

func (m *Module) IsRunning() bool { return m.worker.IsRunning() }

func (m *Module) FSEntries() []*vfs.Entry { return m.entries }

func (m *Module) Value(id uint64) []byte {
	s := m.backend.snapshot()

	switch id {
	case m.idPlugged:
		return []byte(s.Plugged)
	case m.idPercent:
		return []byte(s.Percent)
	case m.idTimeRemaining:
		return []byte(s.TimeRemaining)
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

	return []byte(fmt.Sprintf("plugged=%s percent=%s time_remaining=%s", s.Plugged, s.Percent, s.TimeRemaining))
}
