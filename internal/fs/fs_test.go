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

package fs

import (
	"testing"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathieuhardy/cerebro/internal/config"
	"github.com/mathieuhardy/cerebro/internal/events"
	"github.com/mathieuhardy/cerebro/internal/module"
	"github.com/mathieuhardy/cerebro/internal/registrar"
	"github.com/mathieuhardy/cerebro/internal/vfs"
)

// fakeModule is a minimal module.Module used to exercise the FS adapter
// without depending on any real OS probe.
type fakeModule struct {
	name    string
	store   *vfs.Store
	idValue uint64
	idWrite uint64

	lastWrite []byte
}

func newFakeModule(store *vfs.Store, name string) *fakeModule {
	return &fakeModule{
		name:    name,
		store:   store,
		idValue: store.AllocateID(),
		idWrite: store.AllocateID(),
	}
}

func (m *fakeModule) Name() string                                   { return m.name }
func (m *fakeModule) Start(_ *config.ModuleConfig) error              { return nil }
func (m *fakeModule) Stop() error                                     { return nil }
func (m *fakeModule) IsRunning() bool                                 { return true }
func (m *fakeModule) SetValue(id uint64, data []byte) {
	if id == m.idWrite {
		m.lastWrite = append([]byte(nil), data...)
	}
}

func (m *fakeModule) FSEntries() []*vfs.Entry {
	return []*vfs.Entry{
		vfs.NewFile(m.idValue, "value", vfs.ReadOnly),
		vfs.NewFile(m.idWrite, "control", vfs.WriteOnly),
	}
}

func (m *fakeModule) Value(id uint64) []byte {
	if id == m.idValue {
		return []byte("hello world")
	}

	return []byte("?")
}

func (m *fakeModule) JSON() []byte  { return []byte(`{"value":"hello world"}`) }
func (m *fakeModule) Shell() []byte { return []byte("value=hello world") }

func setup(t *testing.T) (*FileSystem, *fakeModule, *registrar.Registrar, *vfs.Store) {
	t.Helper()

	store := vfs.NewStore()
	bus := events.NewBus()
	m := newFakeModule(store, "widget")

	cfg := &config.Config{Modules: map[string]config.ModuleConfig{
		"widget": {Enabled: boolPtr(true)},
	}}

	reg := registrar.New(store, []module.Module{m}, cfg)

	adapter := New(store, reg, bus)

	require.NoError(t, adapter.Init(&fuseops.InitOp{}))

	return adapter, m, reg, store
}

func boolPtr(b bool) *bool { return &b }

func lookupID(t *testing.T, fsys *FileSystem, parent uint64, name string) uint64 {
	t.Helper()

	op := &fuseops.LookUpInodeOp{Parent: fuseops.InodeID(parent), Name: name}
	require.NoError(t, fsys.LookUpInode(op))

	return uint64(op.Entry.Child)
}

func TestLookupAndReadReturnsModuleValue(t *testing.T) {
	fsys, _, _, _ := setup(t)

	widgetID := lookupID(t, fsys, vfs.RootID, "widget")
	valueID := lookupID(t, fsys, widgetID, "value")

	readOp := &fuseops.ReadFileOp{Inode: fuseops.InodeID(valueID), Offset: 0, Size: 1 << 20}
	require.NoError(t, fsys.ReadFile(readOp))

	assert.Equal(t, "hello world", string(readOp.Data))
}

func TestReadClampsToValueLength(t *testing.T) {
	fsys, _, _, _ := setup(t)

	widgetID := lookupID(t, fsys, vfs.RootID, "widget")
	valueID := lookupID(t, fsys, widgetID, "value")

	readOp := &fuseops.ReadFileOp{Inode: fuseops.InodeID(valueID), Offset: 6, Size: 1 << 20}
	require.NoError(t, fsys.ReadFile(readOp))
	assert.Equal(t, "world", string(readOp.Data))

	emptyOp := &fuseops.ReadFileOp{Inode: fuseops.InodeID(valueID), Offset: 1000, Size: 10}
	require.NoError(t, fsys.ReadFile(emptyOp))
	assert.Empty(t, emptyOp.Data)
}

func TestReadRejectsWriteOnlyEntry(t *testing.T) {
	fsys, _, _, _ := setup(t)

	widgetID := lookupID(t, fsys, vfs.RootID, "widget")
	controlID := lookupID(t, fsys, widgetID, "control")

	err := fsys.ReadFile(&fuseops.ReadFileOp{Inode: fuseops.InodeID(controlID), Size: 10})
	assert.Equal(t, fuse.ENOENT, err)
}

func TestWriteRejectsReadOnlyEntry(t *testing.T) {
	fsys, _, _, _ := setup(t)

	widgetID := lookupID(t, fsys, vfs.RootID, "widget")
	valueID := lookupID(t, fsys, widgetID, "value")

	err := fsys.WriteFile(&fuseops.WriteFileOp{Inode: fuseops.InodeID(valueID), Data: []byte("x")})
	assert.Equal(t, fuse.ENOENT, err)
}

func TestWriteDeliversToModule(t *testing.T) {
	fsys, m, _, _ := setup(t)

	widgetID := lookupID(t, fsys, vfs.RootID, "widget")
	controlID := lookupID(t, fsys, widgetID, "control")

	require.NoError(t, fsys.WriteFile(&fuseops.WriteFileOp{Inode: fuseops.InodeID(controlID), Data: []byte("go")}))
	assert.Equal(t, []byte("go"), m.lastWrite)
}

func TestLookupMissingNameIsENOENT(t *testing.T) {
	fsys, _, _, _ := setup(t)

	err := fsys.LookUpInode(&fuseops.LookUpInodeOp{Parent: fuseops.InodeID(vfs.RootID), Name: "nope"})
	assert.Equal(t, fuse.ENOENT, err)
}

func TestReadDirListsDotDotDotAndChildrenInOrder(t *testing.T) {
	fsys, _, _, _ := setup(t)

	openOp := &fuseops.OpenDirOp{Inode: fuseops.InodeID(vfs.RootID)}
	require.NoError(t, fsys.OpenDir(openOp))

	readOp := &fuseops.ReadDirOp{Handle: openOp.Handle, Offset: 0, Size: 4096}
	require.NoError(t, fsys.ReadDir(readOp))

	assert.Greater(t, len(readOp.Data), 0)

	widgetID := lookupID(t, fsys, vfs.RootID, "widget")

	var want []byte
	for _, d := range []fuseutil.Dirent{
		{Offset: 1, Inode: fuseops.InodeID(vfs.RootID), Name: ".", Type: fuseutil.DT_Directory},
		{Offset: 2, Inode: fuseops.InodeID(vfs.RootID), Name: "..", Type: fuseutil.DT_Directory},
		{Offset: 3, Inode: fuseops.InodeID(widgetID), Name: "widget", Type: fuseutil.DT_Directory},
	} {
		want = fuseutil.AppendDirent(want, d)
	}

	assert.Equal(t, want, readOp.Data)
}

func TestSetInodeAttributesReturnsCurrentAttributesUnchanged(t *testing.T) {
	fsys, _, _, _ := setup(t)

	widgetID := lookupID(t, fsys, vfs.RootID, "widget")
	valueID := lookupID(t, fsys, widgetID, "value")

	before := &fuseops.GetInodeAttributesOp{Inode: fuseops.InodeID(valueID)}
	require.NoError(t, fsys.GetInodeAttributes(before))

	setOp := &fuseops.SetInodeAttributesOp{Inode: fuseops.InodeID(valueID)}
	require.NoError(t, fsys.SetInodeAttributes(setOp))

	assert.Equal(t, before.Attributes, setOp.Attributes)
}
