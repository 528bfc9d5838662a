// Copyright 2026 CheckoutFS Authors
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

// Package overlay implements the persistent overlay store: a directory tree
// of per-inode record files holding locally materialized directory listings
// and file contents, plus the inode number allocator that spans them.
package overlay

import (
	"io/fs"

	"checkoutfs/internal/objectstore"
)

// InodeNumber identifies an inode within a single overlay. Inode numbers are
// allocated monotonically and never reused within the life of an overlay.
type InodeNumber uint64

// RootInodeNumber is the fixed inode number of the checkout root directory.
const RootInodeNumber InodeNumber = 1

// File mode bits stored in directory entry records. These follow the POSIX
// S_IF* layout so Mode values round-trip through fs.FileMode conversions.
const (
	ModeMask    uint32 = 0170000
	ModeDir     uint32 = 0040000
	ModeFile    uint32 = 0100000
	ModeSymlink uint32 = 0120000
)

// DirEntry is one record in a directory's overlay listing. An entry either
// points at an unmodified source control object (Hash set, Materialized
// false) or at locally materialized state (Hash nil, Materialized true).
type DirEntry struct {
	Mode         uint32
	Ino          InodeNumber
	Hash         *objectstore.Hash
	Materialized bool
}

// IsDir reports whether the entry is a directory.
func (e DirEntry) IsDir() bool {
	return e.Mode&ModeMask == ModeDir
}

// Dtype returns the single-character type tag used in debug output:
// "d" for directories, "f" for regular files, "l" for symlinks.
func (e DirEntry) Dtype() string {
	switch e.Mode & ModeMask {
	case ModeDir:
		return "d"
	case ModeFile:
		return "f"
	case ModeSymlink:
		return "l"
	default:
		return "?"
	}
}

// Perms returns the permission bits of the entry mode.
func (e DirEntry) Perms() uint32 {
	return e.Mode &^ ModeMask
}

// FileMode converts the stored mode to an fs.FileMode.
func (e DirEntry) FileMode() fs.FileMode {
	m := fs.FileMode(e.Perms())
	switch e.Mode & ModeMask {
	case ModeDir:
		m |= fs.ModeDir
	case ModeSymlink:
		m |= fs.ModeSymlink
	}
	return m
}

// DirContents is an ordered directory listing. Iteration follows insertion
// order, which is also the order entries are serialized in.
type DirContents struct {
	names   []string
	entries map[string]DirEntry
}

// NewDirContents returns an empty listing.
func NewDirContents() *DirContents {
	return &DirContents{entries: make(map[string]DirEntry)}
}

// Len returns the number of entries.
func (d *DirContents) Len() int {
	return len(d.names)
}

// Names returns the entry names in insertion order. The returned slice is
// shared; callers must not modify it.
func (d *DirContents) Names() []string {
	return d.names
}

// Get returns the entry with the given name.
func (d *DirContents) Get(name string) (DirEntry, bool) {
	e, ok := d.entries[name]
	return e, ok
}

// Set adds or replaces the entry with the given name.
func (d *DirContents) Set(name string, e DirEntry) {
	if _, ok := d.entries[name]; !ok {
		d.names = append(d.names, name)
	}
	d.entries[name] = e
}

// Remove deletes the entry with the given name, reporting whether it existed.
func (d *DirContents) Remove(name string) bool {
	if _, ok := d.entries[name]; !ok {
		return false
	}
	delete(d.entries, name)
	for i, n := range d.names {
		if n == name {
			d.names = append(d.names[:i], d.names[i+1:]...)
			break
		}
	}
	return true
}

// Clone returns a deep copy of the listing.
func (d *DirContents) Clone() *DirContents {
	c := NewDirContents()
	for _, name := range d.names {
		e := d.entries[name]
		if e.Hash != nil {
			h := *e.Hash
			e.Hash = &h
		}
		c.Set(name, e)
	}
	return c
}
