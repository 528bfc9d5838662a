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

// Package vfs implements the in-memory inode layer over the overlay and
// object store: on-demand loading of directory trees, copy-up
// materialization of local changes, and uniform path resolution across
// loaded and unloaded state.
package vfs

import (
	"sync"
	"time"

	"checkoutfs/internal/objectstore"
	"checkoutfs/internal/overlay"
)

// Default modes assigned to entries loaded from source control trees, which
// carry only an entry type.
const (
	DefaultDirMode     = overlay.ModeDir | 0755
	DefaultFileMode    = overlay.ModeFile | 0644
	DefaultExecMode    = overlay.ModeFile | 0755
	DefaultSymlinkMode = overlay.ModeSymlink | 0777
)

func modeForEntryType(t objectstore.EntryType) uint32 {
	switch t {
	case objectstore.TypeTree:
		return DefaultDirMode
	case objectstore.TypeExecutableFile:
		return DefaultExecMode
	case objectstore.TypeSymlink:
		return DefaultSymlinkMode
	default:
		return DefaultFileMode
	}
}

// Dtype is the coarse file type exposed by attribute queries.
type Dtype int

const (
	DtypeUnknown Dtype = iota
	DtypeDir
	DtypeRegular
	DtypeSymlink
)

func (d Dtype) String() string {
	switch d {
	case DtypeDir:
		return "dir"
	case DtypeRegular:
		return "regular"
	case DtypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

func dtypeForMode(mode uint32) Dtype {
	switch mode & overlay.ModeMask {
	case overlay.ModeDir:
		return DtypeDir
	case overlay.ModeFile:
		return DtypeRegular
	case overlay.ModeSymlink:
		return DtypeSymlink
	default:
		return DtypeUnknown
	}
}

func dtypeForEntryType(t objectstore.EntryType) Dtype {
	switch t {
	case objectstore.TypeTree:
		return DtypeDir
	case objectstore.TypeSymlink:
		return DtypeSymlink
	default:
		return DtypeRegular
	}
}

// Inode is a loaded filesystem node, either a *TreeInode or a *FileInode.
type Inode interface {
	Number() overlay.InodeNumber
	Mode() uint32
	IsDir() bool
}

// EntryRecord is an immutable snapshot of a directory entry, used where a
// child is known to its parent but not loaded itself.
type EntryRecord struct {
	Mode         uint32
	Ino          overlay.InodeNumber
	Hash         *objectstore.Hash
	Materialized bool
}

// IsDir reports whether the record describes a directory.
func (r EntryRecord) IsDir() bool {
	return r.Mode&overlay.ModeMask == overlay.ModeDir
}

// entry is a directory entry inside a loaded TreeInode. node is nil until
// the child is loaded.
type entry struct {
	mode         uint32
	ino          overlay.InodeNumber
	hash         *objectstore.Hash
	materialized bool
	node         Inode
}

func (e *entry) isDir() bool {
	return e.mode&overlay.ModeMask == overlay.ModeDir
}

func (e *entry) record() EntryRecord {
	rec := EntryRecord{
		Mode:         e.mode,
		Ino:          e.ino,
		Materialized: e.materialized,
	}
	if e.hash != nil {
		h := *e.hash
		rec.Hash = &h
	}
	return rec
}

// FileInode is a loaded regular file or symlink. Materialized contents live
// in the overlay; pristine contents are fetched by hash.
type FileInode struct {
	mu           sync.RWMutex
	ino          overlay.InodeNumber
	mode         uint32
	hash         *objectstore.Hash
	materialized bool
	mtime        time.Time // zero until locally modified
}

func (f *FileInode) Number() overlay.InodeNumber { return f.ino }
func (f *FileInode) IsDir() bool                 { return false }

func (f *FileInode) Mode() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mode
}

// Materialized reports whether the file's contents live in the overlay.
func (f *FileInode) Materialized() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.materialized
}

func (f *FileInode) snapshot() (materialized bool, hash *objectstore.Hash, mtime time.Time) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.materialized, f.hash, f.mtime
}

func (f *FileInode) setMaterialized(mtime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.materialized = true
	f.hash = nil
	f.mtime = mtime
}

// TreeInode is a loaded directory. Entries keep their listing order.
type TreeInode struct {
	mu           sync.RWMutex
	ino          overlay.InodeNumber
	mode         uint32
	materialized bool
	names        []string
	entries      map[string]*entry
}

func newTreeInode(ino overlay.InodeNumber, mode uint32, materialized bool) *TreeInode {
	return &TreeInode{
		ino:          ino,
		mode:         mode,
		materialized: materialized,
		entries:      make(map[string]*entry),
	}
}

func (d *TreeInode) Number() overlay.InodeNumber { return d.ino }
func (d *TreeInode) IsDir() bool                 { return true }

func (d *TreeInode) Mode() uint32 {
	return d.mode
}

// Materialized reports whether the directory's listing lives in the overlay.
func (d *TreeInode) Materialized() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.materialized
}

// EntryNames returns the entry names in listing order.
func (d *TreeInode) EntryNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string{}, d.names...)
}

// Lookup returns a snapshot of the named entry.
func (d *TreeInode) Lookup(name string) (EntryRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[name]
	if !ok {
		return EntryRecord{}, false
	}
	return e.record(), true
}

// IsLoaded reports whether the named child has an inode in memory.
func (d *TreeInode) IsLoaded(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[name]
	return ok && e.node != nil
}

// lookupChild returns both the entry snapshot and the loaded child inode,
// if any. Used by resolution, which must not mutate anything.
func (d *TreeInode) lookupChild(name string) (EntryRecord, Inode, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[name]
	if !ok {
		return EntryRecord{}, nil, false
	}
	return e.record(), e.node, true
}

func (d *TreeInode) lookupEntry(name string) (*entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[name]
	return e, ok
}

func (d *TreeInode) addEntry(name string, e *entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[name]; !ok {
		d.names = append(d.names, name)
	}
	d.entries[name] = e
}

func (d *TreeInode) removeEntry(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
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

// setEntryMaterialized flips the named entry to materialized, dropping its
// source control hash.
func (d *TreeInode) setEntryMaterialized(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[name]; ok {
		e.materialized = true
		e.hash = nil
	}
}

// snapshotContents renders the directory as an overlay listing.
func (d *TreeInode) snapshotContents() *overlay.DirContents {
	d.mu.RLock()
	defer d.mu.RUnlock()
	contents := overlay.NewDirContents()
	for _, name := range d.names {
		e := d.entries[name]
		rec := overlay.DirEntry{
			Mode:         e.mode,
			Ino:          e.ino,
			Materialized: e.materialized,
		}
		if e.hash != nil {
			h := *e.hash
			rec.Hash = &h
		}
		contents.Set(name, rec)
	}
	return contents
}
