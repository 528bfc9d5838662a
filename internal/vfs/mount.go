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

	log "github.com/sirupsen/logrus"

	"checkoutfs/internal/common"
	"checkoutfs/internal/objectstore"
	"checkoutfs/internal/overlay"
)

// Mount ties a checked-out commit (a root tree hash) to an overlay and an
// object store. The root directory is always loaded; everything below it
// loads on demand and materializes on first local modification.
type Mount struct {
	overlay  *overlay.Overlay
	store    *objectstore.ObjectStore
	rootHash objectstore.Hash

	// structMu serializes structural mutations (load, overwrite, unlink,
	// mkdir, unload). Resolution takes it shared.
	structMu sync.RWMutex

	root             *TreeInode
	lastCheckoutTime time.Time
	now              func() time.Time
}

// NewMount returns a mount over the given overlay and store, checked out at
// rootHash. No I/O happens until Initialize.
func NewMount(ov *overlay.Overlay, store *objectstore.ObjectStore, rootHash objectstore.Hash) *Mount {
	return &Mount{
		overlay:  ov,
		store:    store,
		rootHash: rootHash,
		now:      time.Now,
	}
}

// Root returns the root directory inode. Valid after Initialize.
func (m *Mount) Root() *TreeInode {
	return m.root
}

// LastCheckoutTime is the timestamp attributed to entries that have never
// been locally modified.
func (m *Mount) LastCheckoutTime() time.Time {
	return m.lastCheckoutTime
}

// Overlay returns the mount's overlay.
func (m *Mount) Overlay() *overlay.Overlay {
	return m.overlay
}

// Initialize brings up the overlay and loads the root directory. A root
// listing already present in the overlay wins over the checked-out tree;
// otherwise the root tree is fetched, assigned inode numbers, and persisted,
// so the root starts both loaded and materialized.
func (m *Mount) Initialize(ctx context.Context) error {
	if err := m.overlay.Initialize(ctx); err != nil {
		return err
	}
	m.lastCheckoutTime = m.now()

	contents, err := m.overlay.LoadOverlayDir(overlay.RootInodeNumber)
	if err != nil {
		return err
	}
	if contents != nil {
		m.root = m.treeFromOverlay(overlay.RootInodeNumber, DefaultDirMode, contents)
		return nil
	}

	tree, err := m.store.GetTree(ctx, m.rootHash)
	if err != nil {
		return fmt.Errorf("failed to load checkout root: %w", err)
	}
	m.root = m.treeFromScm(overlay.RootInodeNumber, DefaultDirMode, tree)
	m.root.materialized = true
	if err := m.overlay.SaveOverlayDir(overlay.RootInodeNumber, m.root.snapshotContents()); err != nil {
		return err
	}
	log.Debugf("[Mount] initialized at root %s", m.rootHash)
	return nil
}

// Close shuts the mount down, closing the overlay cleanly.
func (m *Mount) Close() error {
	return m.overlay.Close()
}

// treeFromOverlay builds a loaded directory from its overlay listing.
func (m *Mount) treeFromOverlay(ino overlay.InodeNumber, mode uint32, contents *overlay.DirContents) *TreeInode {
	d := newTreeInode(ino, mode, true)
	for _, name := range contents.Names() {
		rec, _ := contents.Get(name)
		e := &entry{
			mode:         rec.Mode,
			ino:          rec.Ino,
			materialized: rec.Materialized,
		}
		if rec.Hash != nil {
			h := *rec.Hash
			e.hash = &h
		}
		d.addEntry(name, e)
	}
	return d
}

// treeFromScm builds a loaded directory from a source control tree,
// allocating inode numbers for its entries. Allocation alone writes nothing;
// numbers become durable only when a listing mentioning them is saved.
func (m *Mount) treeFromScm(ino overlay.InodeNumber, mode uint32, tree *objectstore.Tree) *TreeInode {
	d := newTreeInode(ino, mode, false)
	for _, te := range tree.Entries {
		h := te.Hash
		d.addEntry(te.Name, &entry{
			mode: modeForEntryType(te.Type),
			ino:  m.overlay.AllocateInodeNumber(),
			hash: &h,
		})
	}
	return d
}

// loadChild ensures the named child of parent has an inode in memory.
// Loading is orthogonal to materialization: no flags change and nothing is
// written to the overlay.
func (m *Mount) loadChild(ctx context.Context, parent *TreeInode, name string) (Inode, error) {
	e, ok := parent.lookupEntry(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, common.ErrNotFound)
	}
	if e.node != nil {
		return e.node, nil
	}

	var node Inode
	switch {
	case e.isDir() && e.materialized:
		contents, err := m.overlay.LoadOverlayDir(e.ino)
		if err != nil {
			return nil, err
		}
		if contents == nil {
			// The listing was lost (crash recovery discarded it).
			// Present the directory as empty rather than failing
			// every operation under it.
			log.Warnf("[Mount] materialized dir %d has no overlay listing, treating as empty", e.ino)
			contents = overlay.NewDirContents()
		}
		node = m.treeFromOverlay(e.ino, e.mode, contents)
	case e.isDir():
		tree, err := m.store.GetTree(ctx, *e.hash)
		if err != nil {
			return nil, err
		}
		node = m.treeFromScm(e.ino, e.mode, tree)
	default:
		f := &FileInode{ino: e.ino, mode: e.mode, materialized: e.materialized}
		if e.hash != nil {
			h := *e.hash
			f.hash = &h
		}
		node = f
	}
	e.node = node
	return node, nil
}

// resolveChain loads every ancestor directory of parts and returns them,
// chain[i] being the directory containing parts[i]. parts must be non-empty.
func (m *Mount) resolveChain(ctx context.Context, parts []string) ([]*TreeInode, error) {
	chain := make([]*TreeInode, 0, len(parts))
	cur := m.root
	chain = append(chain, cur)
	for i := 0; i < len(parts)-1; i++ {
		node, err := m.loadChild(ctx, cur, parts[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", joinParts(parts[:i+1]), err)
		}
		sub, ok := node.(*TreeInode)
		if !ok {
			return nil, fmt.Errorf("%s: %w", joinParts(parts[:i+1]), common.ErrNotDir)
		}
		cur = sub
		chain = append(chain, cur)
	}
	return chain, nil
}

func joinParts(parts []string) string {
	return common.JoinPath(parts...)
}

// splitPath validates and splits a caller-supplied path.
func splitPath(path string) ([]string, error) {
	if err := common.ValidatePath(path); err != nil {
		return nil, err
	}
	return common.SplitPath(path), nil
}

// LoadInode loads the inode at path, loading every ancestor on the way. The
// root is returned for the empty path.
func (m *Mount) LoadInode(ctx context.Context, path string) (Inode, error) {
	m.structMu.Lock()
	defer m.structMu.Unlock()
	return m.loadInodeLocked(ctx, path)
}

func (m *Mount) loadInodeLocked(ctx context.Context, path string) (Inode, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return m.root, nil
	}
	chain, err := m.resolveChain(ctx, parts)
	if err != nil {
		return nil, err
	}
	node, err := m.loadChild(ctx, chain[len(chain)-1], parts[len(parts)-1])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return node, nil
}

// materializeChain persists chain[len-1]'s listing after a mutation and
// walks toward the root flipping materialized flags. The walk stops at the
// first directory that was already materialized: its own listing is still
// re-saved (an entry in it changed), but nothing above it is touched.
func (m *Mount) materializeChain(chain []*TreeInode, parts []string) error {
	for j := len(chain) - 1; j >= 0; j-- {
		dir := chain[j]
		was := dir.materialized
		dir.materialized = true
		if err := m.overlay.SaveOverlayDir(dir.ino, dir.snapshotContents()); err != nil {
			return err
		}
		if was {
			return nil
		}
		if j > 0 {
			chain[j-1].setEntryMaterialized(parts[j-1])
		}
	}
	return nil
}

// OverwriteFile replaces the contents of the file at path, creating it if
// absent. The file and its ancestors are loaded, the contents are written to
// the overlay, and materialization propagates upward.
func (m *Mount) OverwriteFile(ctx context.Context, path string, contents []byte) error {
	m.structMu.Lock()
	defer m.structMu.Unlock()

	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("%s: %w", path, common.ErrIsDir)
	}
	chain, err := m.resolveChain(ctx, parts)
	if err != nil {
		return err
	}
	parent := chain[len(chain)-1]
	name := parts[len(parts)-1]

	e, ok := parent.lookupEntry(name)
	if ok && e.isDir() {
		return fmt.Errorf("%s: %w", path, common.ErrIsDir)
	}
	if !ok {
		e = &entry{mode: DefaultFileMode, ino: m.overlay.AllocateInodeNumber()}
		parent.addEntry(name, e)
	}

	node, err := m.loadChild(ctx, parent, name)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	file := node.(*FileInode)

	if err := m.overlay.CreateOverlayFile(e.ino, contents); err != nil {
		return err
	}
	file.setMaterialized(m.now())
	parent.setEntryMaterialized(name)
	return m.materializeChain(chain, parts)
}

// Unlink removes the file or symlink at path. The parent directory is
// forced loaded and materialized; the child itself need not be loaded.
func (m *Mount) Unlink(ctx context.Context, path string) error {
	m.structMu.Lock()
	defer m.structMu.Unlock()

	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("%s: %w", path, common.ErrIsDir)
	}
	chain, err := m.resolveChain(ctx, parts)
	if err != nil {
		return err
	}
	parent := chain[len(chain)-1]
	name := parts[len(parts)-1]

	e, ok := parent.lookupEntry(name)
	if !ok {
		return fmt.Errorf("%s: %w", path, common.ErrNotFound)
	}
	if e.isDir() {
		return fmt.Errorf("%s: %w", path, common.ErrIsDir)
	}

	if e.materialized {
		if err := m.overlay.RemoveOverlayFile(e.ino); err != nil {
			return err
		}
	}
	parent.removeEntry(name)
	return m.materializeChain(chain, parts)
}

// Mkdir creates an empty directory at path. The new directory is born
// loaded and materialized.
func (m *Mount) Mkdir(ctx context.Context, path string) error {
	m.structMu.Lock()
	defer m.structMu.Unlock()

	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("%s: %w", path, common.ErrExists)
	}
	chain, err := m.resolveChain(ctx, parts)
	if err != nil {
		return err
	}
	parent := chain[len(chain)-1]
	name := parts[len(parts)-1]

	if _, ok := parent.lookupEntry(name); ok {
		return fmt.Errorf("%s: %w", path, common.ErrExists)
	}

	ino := m.overlay.AllocateInodeNumber()
	node := newTreeInode(ino, DefaultDirMode, true)
	if err := m.overlay.SaveOverlayDir(ino, node.snapshotContents()); err != nil {
		return err
	}
	parent.addEntry(name, &entry{
		mode:         DefaultDirMode,
		ino:          ino,
		materialized: true,
		node:         node,
	})
	return m.materializeChain(chain, parts)
}

// Rmdir removes the empty directory at path.
func (m *Mount) Rmdir(ctx context.Context, path string) error {
	m.structMu.Lock()
	defer m.structMu.Unlock()

	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("%s: cannot remove root", path)
	}
	chain, err := m.resolveChain(ctx, parts)
	if err != nil {
		return err
	}
	parent := chain[len(chain)-1]
	name := parts[len(parts)-1]

	e, ok := parent.lookupEntry(name)
	if !ok {
		return fmt.Errorf("%s: %w", path, common.ErrNotFound)
	}
	if !e.isDir() {
		return fmt.Errorf("%s: %w", path, common.ErrNotDir)
	}

	node, err := m.loadChild(ctx, parent, name)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if len(node.(*TreeInode).EntryNames()) > 0 {
		return fmt.Errorf("%s: %w", path, common.ErrNotEmpty)
	}

	if err := m.overlay.RemoveOverlayDir(e.ino); err != nil {
		return err
	}
	parent.removeEntry(name)
	return m.materializeChain(chain, parts)
}

// UnloadTree drops every loaded inode below the root. Overlay state is
// untouched: loading state is transient by design, while materialized state
// was already persisted by the mutation that created it. Uses an explicit
// stack; checkouts can be deep.
func (m *Mount) UnloadTree() {
	m.structMu.Lock()
	defer m.structMu.Unlock()

	stack := []*TreeInode{m.root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		dir.mu.Lock()
		for _, name := range dir.names {
			e := dir.entries[name]
			if sub, ok := e.node.(*TreeInode); ok {
				stack = append(stack, sub)
			}
			e.node = nil
		}
		dir.mu.Unlock()
	}
}

// FileContents returns the contents of the file at path, reading the
// overlay for materialized files and the object store otherwise.
func (m *Mount) FileContents(ctx context.Context, path string) ([]byte, error) {
	v, err := m.GetVirtualInode(ctx, path)
	if err != nil {
		return nil, err
	}
	return v.FileContents(ctx)
}
