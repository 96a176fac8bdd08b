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

// Package vfs implements the inode-addressed tree store: a dynamic
// virtual-filesystem tree whose composition changes at runtime as
// modules discover or lose hardware, safely under concurrent readers.
package vfs

import "os"

// Kind distinguishes directories from regular files.
type Kind int

const (
	KindDirectory Kind = iota
	KindFile
)

// Mode is an entry's access mode. Cerebro never has read-write entries:
// every file is either a readable sample or a write-only control.
type Mode int

const (
	ReadOnly Mode = iota
	WriteOnly
)

// RootID is the identifier of the singleton root directory.
const RootID uint64 = 1

// firstAllocatedID is the first identifier handed out by the store's
// counter; the root itself occupies RootID and is never (re)allocated.
const firstAllocatedID uint64 = 2

// Entry is a node in the virtual tree.
type Entry struct {
	ID       uint64
	Kind     Kind
	Name     string
	Mode     Mode
	Children []*Entry
}

// NewDirectory builds a directory entry with the given children.
func NewDirectory(id uint64, name string, children []*Entry) *Entry {
	return &Entry{ID: id, Kind: KindDirectory, Name: name, Children: children}
}

// NewFile builds a regular file entry.
func NewFile(id uint64, name string, mode Mode) *Entry {
	return &Entry{ID: id, Kind: KindFile, Name: name, Mode: mode}
}

// Perm returns the Unix permission bits derived from this entry's kind
// and mode, per the fixed scheme: directories 0555, read-only files
// 0444, write-only files 0222.
func (e *Entry) Perm() os.FileMode {
	if e.Kind == KindDirectory {
		return 0o555
	}

	if e.Mode == WriteOnly {
		return 0o222
	}

	return 0o444
}

// NLink returns the fixed hard-link count: one for files, two for
// directories.
func (e *Entry) NLink() uint32 {
	if e.Kind == KindDirectory {
		return 2
	}

	return 1
}
