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

package vfs

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jacobsa/syncutil"
)

// epoch is the fixed modification/access/change time reported for every
// entry; the store tracks no mutable timestamps.
var epoch = time.Unix(0, 0)

// Attr is the attribute set returned to the kernel filesystem protocol
// for a single entry.
type Attr struct {
	Size  uint64
	Perm  uint32
	NLink uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// Store is the single mutex-guarded tree of Entry nodes. Each
// kernel-filesystem callback holds it while resolving its target entry
// (see the FS adapter); ReadFile and WriteFile release it before calling
// into the owning module, so it is never held across a write's side
// effects.
type Store struct {
	mu syncutil.InvariantMutex

	root    *Entry
	nextID  uint64
	entries map[uint64]*Entry // identifier index, kept current by Graft/Ungraft
}

// NewStore creates an empty store: a root directory with no children and
// an identifier counter starting at 2 (root occupies 1).
func NewStore() *Store {
	s := &Store{
		root:   NewDirectory(RootID, "", nil),
		nextID: firstAllocatedID,
	}

	s.entries = map[uint64]*Entry{RootID: s.root}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)

	return s
}

// checkInvariants panics if the tree violates an invariant from the data
// model: no identifier reachable from root more than once, unique names
// among siblings, and every reachable identifier other than the root's
// below the next one to be allocated.
func (s *Store) checkInvariants() {
	seen := map[uint64]bool{}

	var walk func(e *Entry)
	walk = func(e *Entry) {
		if seen[e.ID] {
			panic(fmt.Sprintf("vfs: identifier %d reachable more than once", e.ID))
		}

		seen[e.ID] = true

		if e.Kind != KindDirectory {
			return
		}

		names := map[string]bool{}

		for _, c := range e.Children {
			if names[c.Name] {
				panic(fmt.Sprintf("vfs: duplicate name %q under %q", c.Name, e.Name))
			}

			names[c.Name] = true

			walk(c)
		}
	}

	walk(s.root)

	for id := range seen {
		if id >= s.nextID && id != RootID {
			panic(fmt.Sprintf("vfs: identifier %d not less than next-allocated %d", id, s.nextID))
		}
	}
}

// Lock acquires the store mutex. Every exported method below assumes the
// caller already holds it, except AllocateID which is safe to call
// standalone (it only touches the atomic counter).
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the store mutex, running the invariant check.
func (s *Store) Unlock() {
	s.mu.Unlock()
}

// AllocateID hands out the next monotonic identifier. It does not
// require the store to be locked: identifier allocation is a
// process-wide atomic counter independent of the tree mutex, as the
// concurrency model specifies.
func (s *Store) AllocateID() uint64 {
	id := atomic.AddUint64(&s.nextID, 1) - 1

	return id
}

// LookUpByID returns the entry with the given identifier via the
// store's identifier index, or nil if id is not currently reachable
// from root. Caller must hold the lock.
func (s *Store) LookUpByID(id uint64) *Entry {
	return s.entries[id]
}

// LookUpChildByName performs a recursive pre-order search of parent's
// subtree (not only direct children) for the first entry named name.
// Caller must hold the lock.
func (s *Store) LookUpChildByName(parent *Entry, name string) *Entry {
	if parent == nil {
		return nil
	}

	var found *Entry

	var walk func(e *Entry)
	walk = func(e *Entry) {
		if found != nil {
			return
		}

		for _, c := range e.Children {
			if c.Name == name {
				found = c
				return
			}

			walk(c)

			if found != nil {
				return
			}
		}
	}

	walk(parent)

	return found
}

// Root returns the tree's root directory entry. Caller must hold the
// lock.
func (s *Store) Root() *Entry {
	return s.root
}

// Attr computes the attribute set for an entry given its current content
// size (directories always report size 0).
func Attr(e *Entry, size uint64) Attr {
	if e.Kind == KindDirectory {
		size = 0
	}

	return Attr{
		Size:  size,
		Perm:  uint32(e.Perm()),
		NLink: e.NLink(),
		Atime: epoch,
		Mtime: epoch,
		Ctime: epoch,
	}
}

// Graft removes the existing root child named moduleName, if any, then
// appends newSubtree. The replacement is atomic from the point of view
// of any caller holding the lock: readers never observe a root with the
// old child removed but the new one not yet present. Caller must hold
// the lock.
func (s *Store) Graft(moduleName string, newSubtree *Entry) {
	children := make([]*Entry, 0, len(s.root.Children)+1)

	for _, c := range s.root.Children {
		if c.Name == moduleName {
			s.deindex(c)
			continue
		}

		children = append(children, c)
	}

	children = append(children, newSubtree)
	s.index(newSubtree)

	s.root.Children = children
}

// Ungraft removes the root child named moduleName, if present. Caller
// must hold the lock.
func (s *Store) Ungraft(moduleName string) {
	children := make([]*Entry, 0, len(s.root.Children))

	for _, c := range s.root.Children {
		if c.Name == moduleName {
			s.deindex(c)
			continue
		}

		children = append(children, c)
	}

	s.root.Children = children
}

// index adds e and every descendant of e to the identifier index.
func (s *Store) index(e *Entry) {
	s.entries[e.ID] = e

	for _, c := range e.Children {
		s.index(c)
	}
}

// deindex removes e and every descendant of e from the identifier
// index.
func (s *Store) deindex(e *Entry) {
	delete(s.entries, e.ID)

	for _, c := range e.Children {
		s.deindex(c)
	}
}
