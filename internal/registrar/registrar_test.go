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

package registrar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathieuhardy/cerebro/internal/config"
	"github.com/mathieuhardy/cerebro/internal/module"
	"github.com/mathieuhardy/cerebro/internal/vfs"
)

type stubModule struct {
	name    string
	fields  []string
	ids     []uint64
	started int
	stopped int
}

func newStubModule(store *vfs.Store, name string, fields ...string) *stubModule {
	m := &stubModule{name: name, fields: fields}

	for range fields {
		m.ids = append(m.ids, store.AllocateID())
	}

	return m
}

func (m *stubModule) Name() string                       { return m.name }
func (m *stubModule) Start(_ *config.ModuleConfig) error { m.started++; return nil }
func (m *stubModule) Stop() error                        { m.stopped++; return nil }
func (m *stubModule) IsRunning() bool                    { return m.started > m.stopped }
func (m *stubModule) SetValue(_ uint64, _ []byte)        {}
func (m *stubModule) JSON() []byte                       { return []byte("{}") }
func (m *stubModule) Shell() []byte                      { return []byte("") }

func (m *stubModule) Value(id uint64) []byte {
	for i, v := range m.ids {
		if v == id {
			return []byte(m.fields[i])
		}
	}

	return []byte("?")
}

func (m *stubModule) FSEntries() []*vfs.Entry {
	entries := make([]*vfs.Entry, len(m.fields))
	for i, field := range m.fields {
		entries[i] = vfs.NewFile(m.ids[i], field, vfs.ReadOnly)
	}

	return entries
}

func enabledConfig(names ...string) *config.Config {
	enabled := true
	modules := map[string]config.ModuleConfig{}

	for _, n := range names {
		modules[n] = config.ModuleConfig{Enabled: &enabled}
	}

	return &config.Config{Modules: modules}
}

func hasChild(store *vfs.Store, name string) bool {
	store.Lock()
	defer store.Unlock()

	for _, c := range store.Root().Children {
		if c.Name == name {
			return true
		}
	}

	return false
}

func TestRegisterAllGraftsEnabledModulesOnly(t *testing.T) {
	store := vfs.NewStore()
	widget := newStubModule(store, "widget", "speed")
	gadget := newStubModule(store, "gadget", "size")

	reg := New(store, []module.Module{widget, gadget}, enabledConfig("widget"))
	reg.RegisterAll()

	assert.True(t, hasChild(store, "widget"))
	assert.False(t, hasChild(store, "gadget"))
	assert.Equal(t, 1, widget.started)
	assert.Equal(t, 0, gadget.started)
}

func TestOwnerOfResolvesGraftedLeaf(t *testing.T) {
	store := vfs.NewStore()
	widget := newStubModule(store, "widget", "speed")

	reg := New(store, []module.Module{widget}, enabledConfig("widget"))
	reg.RegisterAll()

	require.Equal(t, module.Module(widget), reg.OwnerOf(widget.ids[0]))
}

func TestReindexOwnerDropsStaleIDsOnRegraft(t *testing.T) {
	store := vfs.NewStore()
	widget := newStubModule(store, "widget", "speed")

	reg := New(store, []module.Module{widget}, enabledConfig("widget"))
	reg.RegisterAll()

	firstID := widget.ids[0]

	widget.ids = []uint64{store.AllocateID()}
	reg.RegisterByName("widget")

	assert.Nil(t, reg.OwnerOf(firstID))
	assert.Equal(t, module.Module(widget), reg.OwnerOf(widget.ids[0]))
}

func TestRegisterByNameIgnoresUnknownModule(t *testing.T) {
	store := vfs.NewStore()
	reg := New(store, nil, enabledConfig())

	reg.RegisterByName("nonexistent")

	assert.False(t, hasChild(store, "nonexistent"))
}

func TestDisabledModuleIsSkipped(t *testing.T) {
	store := vfs.NewStore()
	widget := newStubModule(store, "widget", "speed")

	disabled := false
	cfg := &config.Config{Modules: map[string]config.ModuleConfig{
		"widget": {Enabled: &disabled},
	}}
	reg := New(store, []module.Module{widget}, cfg)
	reg.RegisterAll()

	assert.False(t, hasChild(store, "widget"))
	assert.Equal(t, 0, widget.started)
}
