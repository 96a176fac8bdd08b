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

// Package fs bridges the kernel filesystem protocol (via
// github.com/jacobsa/fuse) to the tree store and the module registry: it
// translates lookup/getattr/readdir/read/write/setattr callbacks into
// store queries and module Value/SetValue/JSON/Shell calls, and owns the
// background goroutine that drains the event bus and re-grafts a
// module's subtree on ModuleUpdated.
package fs

import (
	"os"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"

	"github.com/mathieuhardy/cerebro/internal/cerebroerr"
	"github.com/mathieuhardy/cerebro/internal/events"
	"github.com/mathieuhardy/cerebro/internal/logger"
	"github.com/mathieuhardy/cerebro/internal/module"
	"github.com/mathieuhardy/cerebro/internal/registrar"
	"github.com/mathieuhardy/cerebro/internal/vfs"
)

// entryTTL is the cache-hint lifetime the kernel is told to trust an
// entry's attributes for (§4.6).
const entryTTL = 1 * time.Second

const (
	jsonLeafName  = "json"
	shellLeafName = "shell"
)

// FileSystem implements fuseutil.FileSystem over the tree store and the
// registrar's module index. Operations it does not implement (creation,
// renaming, symlinks, extended attributes — none of which the spec
// calls for) fall through to the embedded NotImplementedFileSystem,
// which answers ENOSYS.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	store *vfs.Store
	reg   *registrar.Registrar
	bus   *events.Bus
	clock timeutil.Clock

	startOnce sync.Once

	mu         sync.Mutex
	nextHandle uint64
	dirHandles map[fuseops.HandleID]uint64
}

// New builds a FileSystem over store, whose tree composition is owned by
// reg, and whose event-bus consumer drains bus.
func New(store *vfs.Store, reg *registrar.Registrar, bus *events.Bus) *FileSystem {
	return &FileSystem{
		store:      store,
		reg:        reg,
		bus:        bus,
		clock:      timeutil.RealClock(),
		dirHandles: map[fuseops.HandleID]uint64{},
	}
}

// Init spawns the event-bus consumer and invokes the registrar to
// compose the initial tree and start all enabled modules, exactly once
// regardless of how many times the kernel sends INIT. It always
// succeeds (§4.6).
func (fs *FileSystem) Init(op *fuseops.InitOp) error {
	fs.startOnce.Do(func() {
		go fs.consumeEvents()

		fs.reg.RegisterAll()
	})

	return nil
}

// consumeEvents is the single background consumer of ModuleUpdated
// events: on each delivery it re-grafts the named module's subtree.
// Re-delivery is idempotent, so at-least-once bus semantics are safe to
// treat as exactly-once from the tree's point of view.
func (fs *FileSystem) consumeEvents() {
	for ev := range fs.bus.Subscribe() {
		logger.Debugf("fs: regrafting module %q after ModuleUpdated", ev.ModuleName)
		fs.reg.RegisterByName(ev.ModuleName)
	}
}

// LookUpInode resolves parent_id, then recursively finds name within
// that subtree (§4.6).
func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) error {
	fs.store.Lock()

	parent := fs.store.LookUpByID(uint64(op.Parent))
	if parent == nil {
		fs.store.Unlock()
		return fuse.ENOENT
	}

	child := fs.store.LookUpChildByName(parent, op.Name)
	if child == nil {
		fs.store.Unlock()
		return fuse.ENOENT
	}

	size, err := fs.sizeOfLocked(child)

	fs.store.Unlock()

	if err != nil {
		return fuse.ENOENT
	}

	now := fs.clock.Now()

	op.Entry = fuseops.ChildInodeEntry{
		Child:                fuseops.InodeID(child.ID),
		Attributes:           toAttr(child, vfs.Attr(child, size)),
		AttributesExpiration: now.Add(entryTTL),
		EntryExpiration:      now.Add(entryTTL),
	}

	return nil
}

// GetInodeAttributes performs the same resolution as LookUpInode without
// the name step.
func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	fs.store.Lock()

	entry := fs.store.LookUpByID(uint64(op.Inode))
	if entry == nil {
		fs.store.Unlock()
		return fuse.ENOENT
	}

	size, err := fs.sizeOfLocked(entry)

	fs.store.Unlock()

	if err != nil {
		return fuse.ENOENT
	}

	op.Attributes = toAttr(entry, vfs.Attr(entry, size))
	op.AttributesExpiration = fs.clock.Now().Add(entryTTL)

	return nil
}

// SetInodeAttributes returns the current attributes unchanged: no stored
// metadata is mutable (§4.6).
func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	fs.store.Lock()

	entry := fs.store.LookUpByID(uint64(op.Inode))
	if entry == nil {
		fs.store.Unlock()
		return fuse.ENOENT
	}

	size, err := fs.sizeOfLocked(entry)

	fs.store.Unlock()

	if err != nil {
		return fuse.ENOENT
	}

	op.Attributes = toAttr(entry, vfs.Attr(entry, size))
	op.AttributesExpiration = fs.clock.Now().Add(entryTTL)

	return nil
}

// ForgetInode is a no-op: the tree store never frees entries on its own,
// only on a graft, so there is no lookup count to decrement.
func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) error {
	return nil
}

// OpenDir allocates an opaque handle bound to the directory's current
// identifier.
func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) error {
	fs.store.Lock()
	entry := fs.store.LookUpByID(uint64(op.Inode))
	fs.store.Unlock()

	if entry == nil || entry.Kind != vfs.KindDirectory {
		return fuse.ENOENT
	}

	fs.mu.Lock()
	fs.nextHandle++
	handle := fuseops.HandleID(fs.nextHandle)
	fs.dirHandles[handle] = entry.ID
	fs.mu.Unlock()

	op.Handle = handle

	return nil
}

// ReadDir assembles (., .., children...) in stored order and serves
// starting at op.Offset, matching §4.6's fixed ordering.
func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dirID, ok := fs.dirHandles[op.Handle]
	fs.mu.Unlock()

	if !ok {
		return fuse.ENOENT
	}

	fs.store.Lock()
	entry := fs.store.LookUpByID(dirID)

	var dirents []fuseutil.Dirent
	if entry != nil {
		dirents = buildDirents(entry)
	}

	fs.store.Unlock()

	if entry == nil {
		return fuse.ENOENT
	}

	var data []byte

	for i := int(op.Offset); i < len(dirents); i++ {
		data = fuseutil.AppendDirent(data, dirents[i])

		if len(data) > op.Size {
			data = data[:op.Size]
			break
		}
	}

	op.Data = data

	return nil
}

// ReleaseDirHandle drops a directory handle allocated by OpenDir.
func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.mu.Unlock()

	return nil
}

// OpenFile sanity-checks that the inode still resolves to a regular
// file. Mode enforcement (read-only vs write-only) happens on the actual
// Read/Write call, matching §4.6.
func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) error {
	fs.store.Lock()
	entry := fs.store.LookUpByID(uint64(op.Inode))
	fs.store.Unlock()

	if entry == nil || entry.Kind != vfs.KindFile {
		return fuse.ENOENT
	}

	return nil
}

// ReleaseFileHandle is a no-op: cerebro tracks no per-open state for
// regular files.
func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

// ReadFile rejects write-only entries with ENOENT, then clamps the
// requested window to the module's current value length (§4.6, §8).
func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) error {
	fs.store.Lock()

	entry := fs.store.LookUpByID(uint64(op.Inode))
	if entry == nil {
		fs.store.Unlock()
		return fuse.ENOENT
	}

	if entry.Mode == vfs.WriteOnly {
		fs.store.Unlock()
		return fuse.ENOENT
	}

	owner := fs.reg.OwnerOf(entry.ID)

	fs.store.Unlock()

	if owner == nil {
		return fuse.ENOENT
	}

	value := readValue(owner, entry)

	offset := int(op.Offset)
	if offset >= len(value) {
		op.Data = nil
		return nil
	}

	end := offset + op.Size
	if end > len(value) {
		end = len(value)
	}

	op.Data = value[offset:end]

	return nil
}

// WriteFile rejects read-only entries with ENOENT, then delivers the
// whole payload to the owning module's SetValue; offset is ignored
// (§4.6: writes are whole-message command submissions).
func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) error {
	fs.store.Lock()

	entry := fs.store.LookUpByID(uint64(op.Inode))
	if entry == nil {
		fs.store.Unlock()
		return fuse.ENOENT
	}

	if entry.Mode != vfs.WriteOnly {
		fs.store.Unlock()
		return fuse.ENOENT
	}

	owner := fs.reg.OwnerOf(entry.ID)

	fs.store.Unlock()

	if owner == nil {
		return fuse.ENOENT
	}

	owner.SetValue(entry.ID, op.Data)

	return nil
}

// sizeOfLocked computes the current content size of entry. Caller must
// hold fs.store's lock.
func (fs *FileSystem) sizeOfLocked(entry *vfs.Entry) (uint64, error) {
	if entry.Kind == vfs.KindDirectory {
		return 0, nil
	}

	owner := fs.reg.OwnerOf(entry.ID)
	if owner == nil {
		return 0, cerebroerr.New(cerebroerr.KernelProtocol, "no owning module for entry")
	}

	return uint64(len(readValue(owner, entry))), nil
}

// readValue dispatches to a module's whole-snapshot accessors for the
// synthetic json/shell leaves, and to its per-field accessor otherwise.
func readValue(owner module.Module, entry *vfs.Entry) []byte {
	switch entry.Name {
	case jsonLeafName:
		return owner.JSON()
	case shellLeafName:
		return owner.Shell()
	default:
		return owner.Value(entry.ID)
	}
}

// buildDirents assembles the fixed-order (., .., children...) listing
// for dir.
func buildDirents(dir *vfs.Entry) []fuseutil.Dirent {
	dirents := []fuseutil.Dirent{
		{Offset: 1, Inode: fuseops.InodeID(dir.ID), Name: ".", Type: fuseutil.DT_Directory},
		{Offset: 2, Inode: fuseops.InodeID(dir.ID), Name: "..", Type: fuseutil.DT_Directory},
	}

	for i, c := range dir.Children {
		kind := fuseutil.DT_File
		if c.Kind == vfs.KindDirectory {
			kind = fuseutil.DT_Directory
		}

		dirents = append(dirents, fuseutil.Dirent{
			Offset: fuseops.DirOffset(3 + i),
			Inode:  fuseops.InodeID(c.ID),
			Name:   c.Name,
			Type:   kind,
		})
	}

	return dirents
}

// toAttr converts a store-computed Attr into the kernel protocol's
// attribute struct, setting the directory bit on Mode for directories.
func toAttr(entry *vfs.Entry, a vfs.Attr) fuseops.InodeAttributes {
	mode := os.FileMode(a.Perm)
	if entry.Kind == vfs.KindDirectory {
		mode |= os.ModeDir
	}

	return fuseops.InodeAttributes{
		Size:  a.Size,
		Nlink: a.NLink,
		Mode:  mode,
		Atime: a.Atime,
		Mtime: a.Mtime,
		Ctime: a.Ctime,
	}
}
