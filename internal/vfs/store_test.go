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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreHasEmptyRoot(t *testing.T) {
	s := NewStore()

	s.Lock()
	defer s.Unlock()

	assert.Equal(t, RootID, s.Root().ID)
	assert.Empty(t, s.Root().Children)
}

func TestAllocateIDIsMonotonicStartingAtTwo(t *testing.T) {
	s := NewStore()

	first := s.AllocateID()
	second := s.AllocateID()

	assert.Equal(t, firstAllocatedID, first)
	assert.Equal(t, first+1, second)
}

func TestGraftReplacesExistingChildAtomically(t *testing.T) {
	s := NewStore()

	idA := s.AllocateID()
	s.Lock()
	s.Graft("battery", NewDirectory(idA, "battery", nil))
	require.Len(t, s.Root().Children, 1)
	s.Unlock()

	idB := s.AllocateID()
	child := NewFile(idB, "percent", ReadOnly)
	s.Lock()
	s.Graft("battery", NewDirectory(idA, "battery", []*Entry{child}))
	require.Len(t, s.Root().Children, 1)
	assert.Len(t, s.Root().Children[0].Children, 1)
	s.Unlock()
}

func TestLookUpChildByNameIsRecursive(t *testing.T) {
	s := NewStore()

	fileID := s.AllocateID()
	dirID := s.AllocateID()

	leaf := NewFile(fileID, "percent", ReadOnly)
	dir := NewDirectory(dirID, "battery", []*Entry{leaf})

	s.Lock()
	defer s.Unlock()

	s.Graft("battery", dir)

	found := s.LookUpChildByName(s.Root(), "percent")

	require.NotNil(t, found)
	assert.Equal(t, fileID, found.ID)
}

func TestLookUpByIDFindsNestedEntry(t *testing.T) {
	s := NewStore()

	fileID := s.AllocateID()
	dirID := s.AllocateID()

	dir := NewDirectory(dirID, "battery", []*Entry{NewFile(fileID, "percent", ReadOnly)})

	s.Lock()
	defer s.Unlock()

	s.Graft("battery", dir)

	found := s.LookUpByID(fileID)

	require.NotNil(t, found)
	assert.Equal(t, "percent", found.Name)
}

func TestAttrReportsDerivedPermissions(t *testing.T) {
	dir := NewDirectory(2, "battery", nil)
	ro := NewFile(3, "percent", ReadOnly)
	wo := NewFile(4, "empty", WriteOnly)

	assert.Equal(t, uint32(0o555), Attr(dir, 123).Perm)
	assert.Equal(t, uint64(0), Attr(dir, 123).Size)
	assert.Equal(t, uint32(0o444), Attr(ro, 3).Perm)
	assert.Equal(t, uint32(0o222), Attr(wo, 0).Perm)
}
