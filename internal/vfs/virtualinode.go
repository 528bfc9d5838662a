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

package vfs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"checkoutfs/internal/common"
	"checkoutfs/internal/objectstore"
	"checkoutfs/internal/overlay"
)

// ContainedType reports which representation backs a VirtualInode.
type ContainedType int

const (
	// ContainedInode: a loaded in-memory inode.
	ContainedInode ContainedType = iota
	// ContainedDirEntry: an entry record known to a loaded parent or an
	// overlay listing, whose own inode is not in memory.
	ContainedDirEntry
	// ContainedTree: an unloaded source control directory.
	ContainedTree
	// ContainedTreeEntry: an unloaded entry of a source control tree.
	ContainedTreeEntry
)

func (c ContainedType) String() string {
	switch c {
	case ContainedInode:
		return "inode"
	case ContainedDirEntry:
		return "direntry"
	case ContainedTree:
		return "tree"
	case ContainedTreeEntry:
		return "treeentry"
	default:
		return "unknown"
	}
}

// VirtualInode is a uniform handle over whatever representation a path
// resolves to: a loaded inode, a parent's entry record, or raw source
// control objects. Attribute queries work the same regardless of which
// representation backs the handle, so reads never force loading.
type VirtualInode struct {
	mount *Mount
	path  string
	ctype ContainedType

	inode    Inode                 // ContainedInode
	rec      EntryRecord           // ContainedDirEntry
	treeHash objectstore.Hash      // ContainedTree
	scmEntry objectstore.TreeEntry // ContainedTreeEntry
}

// GetVirtualInode resolves path without loading or materializing anything.
// Resolution is a pure read: repeating it returns an equivalent handle.
func (m *Mount) GetVirtualInode(ctx context.Context, path string) (VirtualInode, error) {
	m.structMu.RLock()
	defer m.structMu.RUnlock()

	parts, err := splitPath(path)
	if err != nil {
		return VirtualInode{}, err
	}
	if len(parts) == 0 {
		return VirtualInode{mount: m, path: "", ctype: ContainedInode, inode: m.root}, nil
	}

	cur := m.root
	for i, name := range parts {
		last := i == len(parts)-1
		sofar := joinParts(parts[:i+1])
		rec, node, ok := cur.lookupChild(name)
		if !ok {
			return VirtualInode{}, fmt.Errorf("%s: %w", sofar, common.ErrNotFound)
		}

		if node != nil {
			if last {
				return VirtualInode{mount: m, path: sofar, ctype: ContainedInode, inode: node}, nil
			}
			sub, isTree := node.(*TreeInode)
			if !isTree {
				return VirtualInode{}, fmt.Errorf("%s: %w", sofar, common.ErrNotDir)
			}
			cur = sub
			continue
		}

		switch {
		case rec.IsDir() && rec.Hash != nil:
			// Pristine unloaded directory: below here only source
			// control objects exist.
			if last {
				return VirtualInode{mount: m, path: sofar, ctype: ContainedTree, treeHash: *rec.Hash}, nil
			}
			return m.resolveInScm(ctx, *rec.Hash, parts, i+1)
		case rec.IsDir():
			// Materialized but unloaded: its listing lives in the
			// overlay and can be read without loading.
			if last {
				return VirtualInode{mount: m, path: sofar, ctype: ContainedDirEntry, rec: rec}, nil
			}
			return m.resolveInOverlay(ctx, rec.Ino, parts, i+1)
		default:
			if last {
				return VirtualInode{mount: m, path: sofar, ctype: ContainedDirEntry, rec: rec}, nil
			}
			return VirtualInode{}, fmt.Errorf("%s: %w", sofar, common.ErrNotDir)
		}
	}
	panic("unreachable")
}

// resolveInOverlay continues resolution through overlay listings, starting
// at the listing of ino with parts[from] next.
func (m *Mount) resolveInOverlay(ctx context.Context, ino overlay.InodeNumber, parts []string, from int) (VirtualInode, error) {
	for i := from; i < len(parts); i++ {
		name := parts[i]
		last := i == len(parts)-1
		sofar := joinParts(parts[:i+1])

		contents, err := m.overlay.LoadOverlayDir(ino)
		if err != nil {
			return VirtualInode{}, err
		}
		if contents == nil {
			return VirtualInode{}, fmt.Errorf("%s: %w", sofar, common.ErrNotFound)
		}
		oe, ok := contents.Get(name)
		if !ok {
			return VirtualInode{}, fmt.Errorf("%s: %w", sofar, common.ErrNotFound)
		}
		rec := EntryRecord{Mode: oe.Mode, Ino: oe.Ino, Hash: oe.Hash, Materialized: oe.Materialized}

		switch {
		case rec.IsDir() && rec.Hash != nil:
			if last {
				return VirtualInode{mount: m, path: sofar, ctype: ContainedTree, treeHash: *rec.Hash}, nil
			}
			return m.resolveInScm(ctx, *rec.Hash, parts, i+1)
		case rec.IsDir():
			if last {
				return VirtualInode{mount: m, path: sofar, ctype: ContainedDirEntry, rec: rec}, nil
			}
			ino = rec.Ino
		default:
			if last {
				return VirtualInode{mount: m, path: sofar, ctype: ContainedDirEntry, rec: rec}, nil
			}
			return VirtualInode{}, fmt.Errorf("%s: %w", sofar, common.ErrNotDir)
		}
	}
	panic("unreachable")
}

// resolveInScm continues resolution through source control trees, starting
// at treeHash with parts[from] next.
func (m *Mount) resolveInScm(ctx context.Context, treeHash objectstore.Hash, parts []string, from int) (VirtualInode, error) {
	for i := from; i < len(parts); i++ {
		name := parts[i]
		last := i == len(parts)-1
		sofar := joinParts(parts[:i+1])

		tree, err := m.store.GetTree(ctx, treeHash)
		if err != nil {
			return VirtualInode{}, fmt.Errorf("%s: %w", sofar, err)
		}
		te, ok := tree.Find(name)
		if !ok {
			return VirtualInode{}, fmt.Errorf("%s: %w", sofar, common.ErrNotFound)
		}

		if te.IsTree() {
			if last {
				return VirtualInode{mount: m, path: sofar, ctype: ContainedTree, treeHash: te.Hash}, nil
			}
			treeHash = te.Hash
			continue
		}
		if last {
			return VirtualInode{mount: m, path: sofar, ctype: ContainedTreeEntry, scmEntry: te}, nil
		}
		return VirtualInode{}, fmt.Errorf("%s: %w", sofar, common.ErrNotDir)
	}
	panic("unreachable")
}

// Path returns the checkout-relative path this handle resolved.
func (v VirtualInode) Path() string {
	return v.path
}

// ContainedType reports the backing representation.
func (v VirtualInode) ContainedType() ContainedType {
	return v.ctype
}

// Dtype returns the file type.
func (v VirtualInode) Dtype() Dtype {
	switch v.ctype {
	case ContainedInode:
		if v.inode.IsDir() {
			return DtypeDir
		}
		return dtypeForMode(v.inode.Mode())
	case ContainedDirEntry:
		return dtypeForMode(v.rec.Mode)
	case ContainedTree:
		return DtypeDir
	default:
		return dtypeForEntryType(v.scmEntry.Type)
	}
}

// IsDirectory reports whether the handle refers to a directory.
func (v VirtualInode) IsDirectory() bool {
	return v.Dtype() == DtypeDir
}

func (v VirtualInode) mode() uint32 {
	switch v.ctype {
	case ContainedInode:
		return v.inode.Mode()
	case ContainedDirEntry:
		return v.rec.Mode
	case ContainedTree:
		return DefaultDirMode
	default:
		return modeForEntryType(v.scmEntry.Type)
	}
}

// contentSource describes where a file's bytes live: the overlay (ino set)
// or the object store (hash set).
func (v VirtualInode) contentSource() (ino overlay.InodeNumber, hash *objectstore.Hash, err error) {
	switch v.ctype {
	case ContainedInode:
		f, ok := v.inode.(*FileInode)
		if !ok {
			return 0, nil, fmt.Errorf("%s: %w", v.path, common.ErrIsDir)
		}
		materialized, h, _ := f.snapshot()
		if materialized {
			return f.Number(), nil, nil
		}
		return 0, h, nil
	case ContainedDirEntry:
		if v.rec.IsDir() {
			return 0, nil, fmt.Errorf("%s: %w", v.path, common.ErrIsDir)
		}
		if v.rec.Materialized {
			return v.rec.Ino, nil, nil
		}
		return 0, v.rec.Hash, nil
	case ContainedTree:
		return 0, nil, fmt.Errorf("%s: %w", v.path, common.ErrIsDir)
	default:
		h := v.scmEntry.Hash
		return 0, &h, nil
	}
}

// FileContents returns the file's bytes.
func (v VirtualInode) FileContents(ctx context.Context) ([]byte, error) {
	ino, hash, err := v.contentSource()
	if err != nil {
		return nil, err
	}
	if hash != nil {
		return v.mount.store.GetBlob(ctx, *hash)
	}
	return v.mount.overlay.ReadOverlayFile(ino)
}

// GetSHA1 returns the content hash of a file. Directories report ErrIsDir.
func (v VirtualInode) GetSHA1(ctx context.Context) (objectstore.Hash, error) {
	ino, hash, err := v.contentSource()
	if err != nil {
		return objectstore.Hash{}, err
	}
	if hash != nil {
		md, err := v.mount.store.GetBlobMetadata(ctx, *hash)
		if err != nil {
			return objectstore.Hash{}, err
		}
		return md.SHA1, nil
	}
	data, err := v.mount.overlay.ReadOverlayFile(ino)
	if err != nil {
		return objectstore.Hash{}, err
	}
	return objectstore.ComputeHash(data), nil
}

// GetSize returns a file's size in bytes. Directories report ErrIsDir.
func (v VirtualInode) GetSize(ctx context.Context) (uint64, error) {
	ino, hash, err := v.contentSource()
	if err != nil {
		return 0, err
	}
	if hash != nil {
		md, err := v.mount.store.GetBlobMetadata(ctx, *hash)
		if err != nil {
			return 0, err
		}
		return md.Size, nil
	}
	size, err := v.mount.overlay.StatOverlayFile(ino)
	if err != nil {
		return 0, err
	}
	return uint64(size), nil
}

// StatInfo is the subset of stat data the resolution layer can answer.
type StatInfo struct {
	Size  int64
	Mode  uint32
	Mtime time.Time
}

// Stat returns stat data for the handle. Entries never locally modified
// report the last checkout time as their mtime; directories report size 0.
func (v VirtualInode) Stat(ctx context.Context) (StatInfo, error) {
	st := StatInfo{Mode: v.mode(), Mtime: v.mount.lastCheckoutTime}
	if v.IsDirectory() {
		return st, nil
	}
	size, err := v.GetSize(ctx)
	if err != nil {
		return StatInfo{}, err
	}
	st.Size = int64(size)
	if v.ctype == ContainedInode {
		if f, ok := v.inode.(*FileInode); ok {
			if _, _, mtime := f.snapshot(); !mtime.IsZero() {
				st.Mtime = mtime
			}
		}
	}
	return st, nil
}

// GetChildren returns a handle for every entry of a directory. Non-dirs
// report ErrNotDir.
func (v VirtualInode) GetChildren(ctx context.Context) (map[string]VirtualInode, error) {
	m := v.mount
	switch v.ctype {
	case ContainedInode:
		dir, ok := v.inode.(*TreeInode)
		if !ok {
			return nil, fmt.Errorf("%s: %w", v.path, common.ErrNotDir)
		}
		children := make(map[string]VirtualInode)
		for _, name := range dir.EntryNames() {
			rec, node, ok := dir.lookupChild(name)
			if !ok {
				continue
			}
			children[name] = m.childHandle(common.JoinPath(v.path, name), rec, node)
		}
		return children, nil

	case ContainedDirEntry:
		if !v.rec.IsDir() {
			return nil, fmt.Errorf("%s: %w", v.path, common.ErrNotDir)
		}
		contents, err := m.overlay.LoadOverlayDir(v.rec.Ino)
		if err != nil {
			return nil, err
		}
		children := make(map[string]VirtualInode)
		if contents == nil {
			return children, nil
		}
		for _, name := range contents.Names() {
			oe, _ := contents.Get(name)
			rec := EntryRecord{Mode: oe.Mode, Ino: oe.Ino, Hash: oe.Hash, Materialized: oe.Materialized}
			children[name] = m.childHandle(common.JoinPath(v.path, name), rec, nil)
		}
		return children, nil

	case ContainedTree:
		tree, err := m.store.GetTree(ctx, v.treeHash)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.path, err)
		}
		children := make(map[string]VirtualInode)
		for _, te := range tree.Entries {
			childPath := common.JoinPath(v.path, te.Name)
			if te.IsTree() {
				children[te.Name] = VirtualInode{mount: m, path: childPath, ctype: ContainedTree, treeHash: te.Hash}
			} else {
				children[te.Name] = VirtualInode{mount: m, path: childPath, ctype: ContainedTreeEntry, scmEntry: te}
			}
		}
		return children, nil

	default:
		return nil, fmt.Errorf("%s: %w", v.path, common.ErrNotDir)
	}
}

// childHandle classifies a child of a loaded directory or overlay listing.
// Unloaded pristine directories stay Trees; everything else known to a
// listing is a DirEntry.
func (m *Mount) childHandle(path string, rec EntryRecord, node Inode) VirtualInode {
	if node != nil {
		return VirtualInode{mount: m, path: path, ctype: ContainedInode, inode: node}
	}
	if rec.IsDir() && rec.Hash != nil {
		return VirtualInode{mount: m, path: path, ctype: ContainedTree, treeHash: *rec.Hash}
	}
	return VirtualInode{mount: m, path: path, ctype: ContainedDirEntry, rec: rec}
}

// AttrResult is one independently failable attribute.
type AttrResult[T any] struct {
	Value T
	Err   error
}

// Ok reports whether the attribute was computed.
func (r AttrResult[T]) Ok() bool {
	return r.Err == nil
}

func okAttr[T any](v T) AttrResult[T] {
	return AttrResult[T]{Value: v}
}

func errAttr[T any](err error) AttrResult[T] {
	return AttrResult[T]{Err: err}
}

// EntryAttributes carries the per-field results of an attribute query. A
// failure in one field leaves the others usable: a directory still has a
// type even though it has no content hash, and a blob whose fetch fails
// still resolves.
type EntryAttributes struct {
	SHA1 AttrResult[objectstore.Hash]
	Size AttrResult[uint64]
	Type AttrResult[Dtype]
}

// GetEntryAttributes computes sha1, size, and type for the handle, failing
// per-field rather than wholesale.
func (v VirtualInode) GetEntryAttributes(ctx context.Context) EntryAttributes {
	attrs := EntryAttributes{Type: okAttr(v.Dtype())}
	if v.IsDirectory() {
		err := fmt.Errorf("%s: %w", v.path, common.ErrIsDir)
		attrs.SHA1 = errAttr[objectstore.Hash](err)
		attrs.Size = errAttr[uint64](err)
		return attrs
	}
	sha, err := v.GetSHA1(ctx)
	if err != nil {
		attrs.SHA1 = errAttr[objectstore.Hash](err)
	} else {
		attrs.SHA1 = okAttr(sha)
	}
	size, err := v.GetSize(ctx)
	if err != nil {
		attrs.Size = errAttr[uint64](err)
	} else {
		attrs.Size = okAttr(size)
	}
	return attrs
}

// GetChildrenAttributes computes attributes for every child of a directory
// concurrently. Per-child failures land in that child's fields; only child
// enumeration itself can fail the call.
func (v VirtualInode) GetChildrenAttributes(ctx context.Context) (map[string]EntryAttributes, error) {
	children, err := v.GetChildren(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make(map[string]EntryAttributes, len(children))
	for name, child := range children {
		wg.Add(1)
		go func(name string, child VirtualInode) {
			defer wg.Done()
			attrs := child.GetEntryAttributes(ctx)
			mu.Lock()
			results[name] = attrs
			mu.Unlock()
		}(name, child)
	}
	wg.Wait()
	return results, nil
}
