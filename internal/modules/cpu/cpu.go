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

// Package cpu implements the "cpu" module: per-logical-core usage
// percentages and per-physical-sensor temperatures, with entries created
// and destroyed dynamically as cores and sensors are discovered.
//
// Note the deliberately preserved "averrage" (sic) path segment: it is a
// pre-existing misspelling kept for on-disk compatibility with tooling
// that already scrapes this path.
package cpu

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	gopsutilcpu "github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/mathieuhardy/cerebro/internal/cerebroerr"
	"github.com/mathieuhardy/cerebro/internal/config"
	"github.com/mathieuhardy/cerebro/internal/events"
	"github.com/mathieuhardy/cerebro/internal/modules/common"
	mod "github.com/mathieuhardy/cerebro/internal/module"
	"github.com/mathieuhardy/cerebro/internal/trigger"
	"github.com/mathieuhardy/cerebro/internal/vfs"
)

const Name = "cpu"

const (
	dirLogical  = "logical"
	dirPhysical = "physical"

	entryCount     = "count"
	entryTimestamp = "timestamp"
	entryUsage     = "usage_percent"
	entryTemp      = "temperature"

	// entryAverrage is the deliberately preserved misspelling; see the
	// package doc comment.
	entryAverrage = "averrage"
)

const (
	fieldLogicalCount     = "logical_count"
	fieldLogicalAverrage  = "logical_averrage_usage"
	fieldLogicalTimestamp = "logical_timestamp"
	fieldPhysicalCount    = "physical_count"
	fieldPhysicalTs       = "physical_timestamp"
)

func fieldLogicalCore(i int) string   { return fmt.Sprintf("logical_cpu_%d_usage", i) }
func fieldPhysicalSensor(i int) string { return fmt.Sprintf("physical_cpu_%d_temperature", i) }

type shape struct {
	logicalCount  int
	physicalCount int
}

type backend struct {
	mu           sync.Mutex
	tracker      *common.Tracker
	triggers     *trigger.Set
	tempDevice   string
	tempPattern  *regexp.Regexp
	lastShape    shape
	shapeKnown   bool
}

func newBackend(triggers *trigger.Set, device, pattern string) *backend {
	var re *regexp.Regexp
	if pattern != "" {
		re, _ = regexp.Compile(pattern)
	}

	return &backend{
		tracker:     common.NewTracker(Name),
		triggers:    triggers,
		tempDevice:  device,
		tempPattern: re,
	}
}

func (b *backend) sensors() ([]host.TemperatureStat, error) {
	all, err := host.SensorsTemperatures()
	if err != nil {
		return nil, err
	}

	if b.tempDevice == "" && b.tempPattern == nil {
		return all, nil
	}

	var filtered []host.TemperatureStat

	for _, s := range all {
		if b.tempDevice != "" && !strings.HasPrefix(s.SensorKey, b.tempDevice) {
			continue
		}

		if b.tempPattern != nil && !b.tempPattern.MatchString(s.SensorKey) {
			continue
		}

		filtered = append(filtered, s)
	}

	return filtered, nil
}

func (b *backend) currentShape() (shape, []float64, []host.TemperatureStat, error) {
	logicalCount, err := gopsutilcpu.Counts(true)
	if err != nil {
		return shape{}, nil, nil, cerebroerr.Wrap(cerebroerr.Probe, "counting logical cpus", err)
	}

	percents, err := gopsutilcpu.Percent(0, true)
	if err != nil {
		return shape{}, nil, nil, cerebroerr.Wrap(cerebroerr.Probe, "reading per-cpu usage", err)
	}

	sensors, err := b.sensors()
	if err != nil {
		return shape{}, nil, nil, cerebroerr.Wrap(cerebroerr.Probe, "reading cpu temperature sensors", err)
	}

	return shape{logicalCount: logicalCount, physicalCount: len(sensors)}, percents, sensors, nil
}

// Update implements module.Sampler. If the logical core count or the
// discovered physical sensor count differs from the shape the tree was
// last built for, it commits the freshly probed shape (so the
// registrar's regraft, via FSEntries/snapshotShape, builds the new
// shape rather than the stale one, and the restarted worker's following
// tick compares against a matching baseline instead of looping), fires
// Delete triggers for cores and sensors that disappeared, and returns
// StatusChanged without updating any other tracked values.
func (b *backend) Update() (mod.Status, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, percents, sensors, err := b.currentShape()
	if err != nil {
		return mod.StatusError, "", err
	}

	changed := b.shapeKnown && s != b.lastShape

	if changed {
		b.fireShapeDeletes(s)
	}

	b.lastShape = s
	b.shapeKnown = true

	if changed {
		return mod.StatusChanged, Name, nil
	}

	var sum float64
	for i, p := range percents {
		b.tracker.Set(b.triggers, fieldLogicalCore(i), strconv.FormatFloat(p, 'f', 2, 64))
		sum += p
	}

	average := 0.0
	if len(percents) > 0 {
		average = sum / float64(len(percents))
	}

	now := strconv.FormatInt(time.Now().Unix(), 10)

	b.tracker.Set(b.triggers, fieldLogicalCount, strconv.Itoa(s.logicalCount))
	b.tracker.Set(b.triggers, fieldLogicalAverrage, strconv.FormatFloat(average, 'f', 2, 64))
	b.tracker.Set(b.triggers, fieldLogicalTimestamp, now)

	for i, t := range sensors {
		temp := strconv.FormatFloat(t.Temperature, 'f', 1, 64)
		if t.Temperature < 0 {
			temp = common.Unknown
		}

		b.tracker.Set(b.triggers, fieldPhysicalSensor(i), temp)
	}

	b.tracker.Set(b.triggers, fieldPhysicalCount, strconv.Itoa(s.physicalCount))
	b.tracker.Set(b.triggers, fieldPhysicalTs, now)

	b.tracker.Done()

	return mod.StatusOK, "", nil
}

// fireShapeDeletes fires a Delete-kind trigger for every logical core or
// physical sensor index present in b.lastShape (the last-committed
// shape) but absent from newShape, reproducing the probed source's
// Delete emission when a core or sensor disappears. Called with b.mu
// held, before b.lastShape is overwritten.
func (b *backend) fireShapeDeletes(newShape shape) {
	for i := newShape.logicalCount; i < b.lastShape.logicalCount; i++ {
		b.tracker.Delete(b.triggers, fieldLogicalCore(i))
	}

	for i := newShape.physicalCount; i < b.lastShape.physicalCount; i++ {
		b.tracker.Delete(b.triggers, fieldPhysicalSensor(i))
	}
}

func (b *backend) get(field string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.tracker.Get(field)
}

func (b *backend) snapshotShape() shape {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.shapeKnown {
		s, _, _, err := b.currentShape()
		if err == nil {
			b.lastShape = s
			b.shapeKnown = true
		}
	}

	return b.lastShape
}

func (b *backend) snapshotJSON() []byte {
	b.mu.Lock()
	s := b.lastShape
	b.mu.Unlock()

	type jsonShape struct {
		LogicalCount    string            `json:"logical_count"`
		LogicalAverrage string            `json:"logical_averrage_usage"`
		LogicalUsage    map[string]string `json:"logical_usage"`
		PhysicalCount   string            `json:"physical_count"`
		PhysicalTemps   map[string]string `json:"physical_temperature"`
	}

	out := jsonShape{
		LogicalCount:    b.get(fieldLogicalCount),
		LogicalAverrage: b.get(fieldLogicalAverrage),
		LogicalUsage:    map[string]string{},
		PhysicalCount:   b.get(fieldPhysicalCount),
		PhysicalTemps:   map[string]string{},
	}

	for i := 0; i < s.logicalCount; i++ {
		out.LogicalUsage[strconv.Itoa(i)] = b.get(fieldLogicalCore(i))
	}

	for i := 0; i < s.physicalCount; i++ {
		out.PhysicalTemps[strconv.Itoa(i)] = b.get(fieldPhysicalSensor(i))
	}

	data, err := json.Marshal(out)
	if err != nil {
		return []byte(common.Unknown)
	}

	return data
}

func (b *backend) snapshotShell() []byte {
	s := b.snapshotShape()

	var sb strings.Builder

	fmt.Fprintf(&sb, "logical_cpu_count=%s logical_averrage_usage=%s physical_cpu_count=%s",
		b.get(fieldLogicalCount), b.get(fieldLogicalAverrage), b.get(fieldPhysicalCount))

	for i := 0; i < s.logicalCount; i++ {
		fmt.Fprintf(&sb, " logical_cpu_%d_usage=%s", i, b.get(fieldLogicalCore(i)))
	}

	for i := 0; i < s.physicalCount; i++ {
		fmt.Fprintf(&sb, " physical_cpu_%d_temperature=%s", i, b.get(fieldPhysicalSensor(i)))
	}

	return []byte(sb.String())
}

// Module implements module.Module for CPU usage and temperature.
type Module struct {
	store   *vfs.Store
	worker  *mod.Worker
	backend *backend

	mu       sync.Mutex
	idByPath map[uint64]string
}

// New builds the CPU module. The temperature device/pattern come from
// the registrar's per-module configuration (§4.7).
func New(bus *events.Bus, store *vfs.Store, triggers *trigger.Set, device, pattern string) *Module {
	return &Module{
		store:    store,
		worker:   mod.NewWorker(bus),
		backend:  newBackend(triggers, device, pattern),
		idByPath: map[uint64]string{},
	}
}

func (m *Module) Name() string { return Name }

func (m *Module) Start(cfg *config.ModuleConfig) error {
	return m.worker.Start(m.backend, cfg.Timeout(2))
}

func (m *Module) Stop() error { return m.worker.Stop() }

func (m *Module) IsRunning() bool { return m.worker.IsRunning() }

// FSEntries rebuilds the subtree from the shape last committed by
// Update (or, if no tick has completed yet, a fresh probe), minting
// fresh identifiers for every leaf. Called by the registrar both for the
// module's initial graft and for every regraft after a StatusChanged
// tick, so it always reflects the latest discovered core/sensor count.
func (m *Module) FSEntries() []*vfs.Entry {
	s := m.backend.snapshotShape()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.idByPath = map[uint64]string{}

	mint := func(field string) uint64 {
		id := m.store.AllocateID()
		m.idByPath[id] = field
		return id
	}

	var logicalCores []*vfs.Entry
	for i := 0; i < s.logicalCount; i++ {
		logicalCores = append(logicalCores, vfs.NewDirectory(m.store.AllocateID(), strconv.Itoa(i), []*vfs.Entry{
			vfs.NewFile(mint(fieldLogicalCore(i)), entryUsage, vfs.ReadOnly),
		}))
	}

	logicalDir := vfs.NewDirectory(m.store.AllocateID(), dirLogical, append([]*vfs.Entry{
		vfs.NewFile(mint(fieldLogicalCount), entryCount, vfs.ReadOnly),
		vfs.NewDirectory(m.store.AllocateID(), entryAverrage, []*vfs.Entry{
			vfs.NewFile(mint(fieldLogicalAverrage), entryUsage, vfs.ReadOnly),
		}),
		vfs.NewFile(mint(fieldLogicalTimestamp), entryTimestamp, vfs.ReadOnly),
	}, logicalCores...))

	var physicalSensors []*vfs.Entry
	for i := 0; i < s.physicalCount; i++ {
		physicalSensors = append(physicalSensors, vfs.NewDirectory(m.store.AllocateID(), strconv.Itoa(i), []*vfs.Entry{
			vfs.NewFile(mint(fieldPhysicalSensor(i)), entryTemp, vfs.ReadOnly),
		}))
	}

	physicalDir := vfs.NewDirectory(m.store.AllocateID(), dirPhysical, append([]*vfs.Entry{
		vfs.NewFile(mint(fieldPhysicalCount), entryCount, vfs.ReadOnly),
		vfs.NewFile(mint(fieldPhysicalTs), entryTimestamp, vfs.ReadOnly),
	}, physicalSensors...))

	return []*vfs.Entry{logicalDir, physicalDir}
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

func (m *Module) JSON() []byte { return m.backend.snapshotJSON() }

func (m *Module) Shell() []byte { return m.backend.snapshotShell() }
