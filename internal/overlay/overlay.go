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

package overlay

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"checkoutfs/internal/common"
	"checkoutfs/internal/util"
)

// Reserved file names at the overlay root. Everything else at the top level
// is expected to be a two-hex-digit shard directory.
const (
	infoFileName      = "info"
	nextInodeFileName = "next-inode-number"
	lockFileName      = "overlay.lock"
)

var infoHeaderIdentifier = [4]byte{'O', 'V', 'I', 'F'}

type overlayState int32

const (
	stateUninitialized overlayState = iota
	stateInitialized
	stateClosed
)

// Overlay is the persistent store for locally materialized state. It must be
// Initialized before use and Closed to record a clean shutdown; an overlay
// that was not closed cleanly rebuilds its inode allocator by scanning on the
// next Initialize.
//
// Record operations are safe for concurrent use. Initialize and Close are
// not, and must not race with record operations.
type Overlay struct {
	dir        string
	flk        *flock.Flock
	instanceID uuid.UUID

	mu    sync.Mutex // guards state transitions
	state overlayState

	// nextInode holds the next number to hand out. Only the value written
	// by Close is durable; after an unclean shutdown the counter is
	// re-derived from the record files themselves.
	nextInode atomic.Uint64

	cleanShutdown bool
}

// New returns an overlay rooted at dir. No I/O happens until Initialize.
func New(dir string) *Overlay {
	return &Overlay{dir: dir}
}

// Dir returns the overlay root directory.
func (o *Overlay) Dir() string {
	return o.dir
}

// InstanceID returns the identity recorded in the overlay info file. It is
// assigned when the overlay is first created and stable across restarts.
func (o *Overlay) InstanceID() uuid.UUID {
	return o.instanceID
}

// HadCleanShutdown reports whether the previous session closed cleanly.
// Meaningful only after Initialize; a freshly created overlay counts as
// clean.
func (o *Overlay) HadCleanShutdown() bool {
	return o.cleanShutdown
}

// Initialize acquires the overlay lock, loads or creates the info file, and
// establishes the inode allocator. The next-inode-number file is consumed
// when present; if it is missing or damaged the allocator is rebuilt by
// scanning every record reachable from the root plus all orphaned records.
func (o *Overlay) Initialize(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case stateInitialized:
		return fmt.Errorf("overlay %s: %w", o.dir, common.ErrAlreadyInitialized)
	case stateClosed:
		return fmt.Errorf("overlay %s: %w", o.dir, common.ErrClosed)
	}

	if err := os.MkdirAll(o.dir, 0755); err != nil {
		return fmt.Errorf("failed to create overlay directory: %w", err)
	}

	// A second process initializing the same overlay would corrupt the
	// allocator, so hold an exclusive lock for the life of the session.
	// Retry briefly in case another process is mid-release.
	o.flk = flock.New(filepath.Join(o.dir, lockFileName))
	err := util.Retry(ctx, func() error {
		locked, err := o.flk.TryLock()
		if err != nil {
			return fmt.Errorf("failed to lock overlay: %w", err)
		}
		if !locked {
			return fmt.Errorf("overlay %s is in use by another process", o.dir)
		}
		return nil
	}, util.LockRetryOptions(ctx)...)
	if err != nil {
		return err
	}

	if err := o.loadOrCreateInfoFile(); err != nil {
		o.flk.Unlock()
		return err
	}

	next, clean, err := o.establishNextInodeNumber()
	if err != nil {
		o.flk.Unlock()
		return err
	}
	o.nextInode.Store(uint64(next))
	o.cleanShutdown = clean

	// Remove the marker now that it has been consumed. While the session
	// is live the on-disk counter is stale by definition; only a clean
	// Close writes it back.
	if err := os.Remove(filepath.Join(o.dir, nextInodeFileName)); err != nil && !os.IsNotExist(err) {
		o.flk.Unlock()
		return fmt.Errorf("failed to remove next-inode-number file: %w", err)
	}

	o.state = stateInitialized
	log.Debugf("[Overlay] initialized %s: next inode %d, clean=%v", o.dir, next, clean)
	return nil
}

// Close writes the next-inode-number file, marking the shutdown clean, and
// releases the overlay lock. The overlay cannot be reused after Close.
func (o *Overlay) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != stateInitialized {
		return fmt.Errorf("overlay %s: %w", o.dir, common.ErrNotInitialized)
	}
	o.state = stateClosed

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], o.nextInode.Load())
	if err := o.atomicWrite(nextInodeFileName, buf[:]); err != nil {
		o.flk.Unlock()
		return fmt.Errorf("failed to write next-inode-number file: %w", err)
	}
	if err := o.flk.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock overlay: %w", err)
	}
	return nil
}

// AllocateInodeNumber returns a fresh inode number. Allocation alone is not
// durable; saved records and the clean-shutdown marker are what persist.
func (o *Overlay) AllocateInodeNumber() InodeNumber {
	if o.state != stateInitialized {
		panic("overlay: AllocateInodeNumber called before Initialize")
	}
	return InodeNumber(o.nextInode.Add(1) - 1)
}

// MaxInodeNumber returns the highest inode number allocated so far. A fresh
// overlay reports RootInodeNumber even though no record for it exists yet.
func (o *Overlay) MaxInodeNumber() InodeNumber {
	if o.state != stateInitialized {
		panic("overlay: MaxInodeNumber called before Initialize")
	}
	return InodeNumber(o.nextInode.Load() - 1)
}

func (o *Overlay) ensureInitialized() error {
	if o.state != stateInitialized {
		return fmt.Errorf("overlay %s: %w", o.dir, common.ErrNotInitialized)
	}
	return nil
}

// --- Directory records ---

// SaveOverlayDir persists the listing for a directory inode, replacing any
// previous record atomically.
func (o *Overlay) SaveOverlayDir(ino InodeNumber, contents *DirContents) error {
	if err := o.ensureInitialized(); err != nil {
		return err
	}
	data, err := serializeDirContents(contents)
	if err != nil {
		return fmt.Errorf("failed to serialize dir %d: %w", ino, err)
	}
	return o.atomicWrite(FilePath(ino), data)
}

// LoadOverlayDir reads the listing for a directory inode. A missing record
// is not an error: it returns (nil, nil), meaning the directory was never
// materialized (or was removed).
func (o *Overlay) LoadOverlayDir(ino InodeNumber) (*DirContents, error) {
	if err := o.ensureInitialized(); err != nil {
		return nil, err
	}
	return o.readDirRecord(ino)
}

// readDirRecord is LoadOverlayDir without the lifecycle check, usable during
// the recovery scan.
func (o *Overlay) readDirRecord(ino InodeNumber) (*DirContents, error) {
	data, err := os.ReadFile(filepath.Join(o.dir, FilePath(ino)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dir %d: %w", ino, err)
	}
	contents, err := deserializeDirContents(data)
	if err != nil {
		return nil, fmt.Errorf("dir %d: %w", ino, err)
	}
	return contents, nil
}

// RemoveOverlayDir deletes the record for a directory inode. Removing a
// record that does not exist is a no-op.
func (o *Overlay) RemoveOverlayDir(ino InodeNumber) error {
	if err := o.ensureInitialized(); err != nil {
		return err
	}
	return o.removeRecord(ino)
}

// --- File records ---

// CreateOverlayFile writes the contents for a file inode, replacing any
// previous record atomically.
func (o *Overlay) CreateOverlayFile(ino InodeNumber, contents []byte) error {
	if err := o.ensureInitialized(); err != nil {
		return err
	}
	data := serializeHeader(headerIdentifierFile)
	data = append(data, contents...)
	return o.atomicWrite(FilePath(ino), data)
}

// OpenFile opens a file inode's record for reading. The handle is positioned
// at the start of the record; callers must seek past HeaderLength before
// reading logical content. A missing record reports ErrNotFound.
func (o *Overlay) OpenFile(ino InodeNumber) (*os.File, error) {
	if err := o.ensureInitialized(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(o.dir, FilePath(ino)))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file %d: %w", ino, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file %d: %w", ino, err)
	}
	header := make([]byte, HeaderLength)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("file %d: %w: record shorter than header", ino, common.ErrCorrupted)
	}
	if err := validateHeader(header, headerIdentifierFile); err != nil {
		f.Close()
		return nil, fmt.Errorf("file %d: %w", ino, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rewind file %d: %w", ino, err)
	}
	return f, nil
}

// ReadOverlayFile returns the contents of a file inode's record. A missing
// record reports ErrNotFound.
func (o *Overlay) ReadOverlayFile(ino InodeNumber) ([]byte, error) {
	f, err := o.OpenFile(ino)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(HeaderLength, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek file %d: %w", ino, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %d: %w", ino, err)
	}
	return data, nil
}

// StatOverlayFile returns the content size of a file inode's record.
func (o *Overlay) StatOverlayFile(ino InodeNumber) (int64, error) {
	if err := o.ensureInitialized(); err != nil {
		return 0, err
	}
	fi, err := os.Stat(filepath.Join(o.dir, FilePath(ino)))
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("file %d: %w", ino, common.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	size := fi.Size() - HeaderLength
	if size < 0 {
		return 0, fmt.Errorf("file %d: %w: record shorter than header", ino, common.ErrCorrupted)
	}
	return size, nil
}

// RemoveOverlayFile deletes the record for a file inode. Removing a record
// that does not exist is a no-op.
func (o *Overlay) RemoveOverlayFile(ino InodeNumber) error {
	if err := o.ensureInitialized(); err != nil {
		return err
	}
	return o.removeRecord(ino)
}

func (o *Overlay) removeRecord(ino InodeNumber) error {
	err := os.Remove(filepath.Join(o.dir, FilePath(ino)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove record %d: %w", ino, err)
	}
	return nil
}

// DiscardShutdownMarker removes the next-inode-number file from an overlay
// directory, forcing the next Initialize through the full recovery scan.
// Intended for operator tooling; the overlay must not be open.
func DiscardShutdownMarker(dir string) error {
	err := os.Remove(filepath.Join(dir, nextInodeFileName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// --- Info file and allocator recovery ---

// loadOrCreateInfoFile reads the overlay identity record, creating it on
// first use. Unlike per-inode records, damage here is fatal: without a valid
// info file nothing identifies this directory as an overlay at all.
func (o *Overlay) loadOrCreateInfoFile() error {
	path := filepath.Join(o.dir, infoFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		o.instanceID = uuid.New()
		buf := serializeHeader(infoHeaderIdentifier)
		copy(buf[8:24], o.instanceID[:])
		return o.atomicWrite(infoFileName, buf)
	}
	if err != nil {
		return fmt.Errorf("failed to read overlay info: %w", err)
	}
	if err := validateHeader(data, infoHeaderIdentifier); err != nil {
		return fmt.Errorf("overlay info: %w", err)
	}
	o.instanceID = uuid.UUID(data[8:24])
	return nil
}

// establishNextInodeNumber decides the allocator's starting value. The
// returned bool reports whether this counts as a clean start.
func (o *Overlay) establishNextInodeNumber() (InodeNumber, bool, error) {
	data, err := os.ReadFile(filepath.Join(o.dir, nextInodeFileName))
	if err == nil {
		if len(data) == 8 {
			next := binary.LittleEndian.Uint64(data)
			if next > uint64(RootInodeNumber) {
				return InodeNumber(next), true, nil
			}
		}
		log.Warnf("[Overlay] next-inode-number file is invalid (%d bytes), rescanning", len(data))
	} else if !os.IsNotExist(err) {
		return 0, false, fmt.Errorf("failed to read next-inode-number file: %w", err)
	}

	// No trustworthy marker. Rebuild the allocator from on-disk evidence.
	// Records can exist without a root record (a crash before the root
	// listing was ever saved still leaves orphans behind), so freshness
	// means no records at all, not a missing root.
	max, found := o.scanForMaxInodeNumber()
	if !found {
		return RootInodeNumber + 1, true, nil
	}
	log.Infof("[Overlay] unclean shutdown detected in %s, scan found max inode number %d", o.dir, max)
	return max + 1, false, nil
}

// scanForMaxInodeNumber walks every directory record reachable from the root
// with an explicit work stack, then sweeps the shard directories for records
// no listing references. The scan never fails outright: a record that cannot
// be read still counts the inode number its parent assigned it, and the walk
// carries on through the damage. The bool reports whether any record was
// found at all; a fresh overlay has none.
func (o *Overlay) scanForMaxInodeNumber() (InodeNumber, bool) {
	max := RootInodeNumber
	found := false
	note := func(ino InodeNumber) {
		if ino > max {
			max = ino
		}
	}

	visited := map[InodeNumber]bool{RootInodeNumber: true}
	stack := []InodeNumber{RootInodeNumber}
	for len(stack) > 0 {
		ino := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		contents, err := o.readDirRecord(ino)
		if err != nil {
			log.Warnf("[Overlay] skipping unreadable dir record %d during scan: %v", ino, err)
			found = true
			continue
		}
		if contents == nil {
			continue
		}
		found = true
		for _, name := range contents.Names() {
			e, _ := contents.Get(name)
			note(e.Ino)
			if e.IsDir() && !visited[e.Ino] {
				visited[e.Ino] = true
				stack = append(stack, e.Ino)
			}
		}
	}

	// Orphan sweep: records can exist without any listing pointing at them
	// (the parent's save never happened before the crash). Their inode
	// numbers must still never be reissued.
	tops, err := os.ReadDir(o.dir)
	if err != nil {
		log.Warnf("[Overlay] failed to list overlay root during scan: %v", err)
		return max, found
	}
	for _, top := range tops {
		if !top.IsDir() {
			continue
		}
		shard, ok := parseShardName(top.Name())
		if !ok {
			continue
		}
		files, err := os.ReadDir(filepath.Join(o.dir, top.Name()))
		if err != nil {
			log.Warnf("[Overlay] failed to list shard %s during scan: %v", top.Name(), err)
			continue
		}
		for _, f := range files {
			ino, ok := parseInodeFileName(shard, f.Name())
			if !ok {
				continue
			}
			found = true
			note(ino)
			// An orphaned directory record still pins the numbers of the
			// entries it lists, even though nothing reaches it anymore.
			if !visited[ino] {
				for _, child := range o.sweepDirEntryNumbers(ino) {
					note(child)
				}
			}
		}
	}
	return max, found
}

// sweepDirEntryNumbers returns the entry inode numbers of a record if it is
// a readable directory record, and nothing otherwise. File records and
// damaged records are silently skipped; the sweep has already counted the
// record's own number.
func (o *Overlay) sweepDirEntryNumbers(ino InodeNumber) []InodeNumber {
	data, err := os.ReadFile(filepath.Join(o.dir, FilePath(ino)))
	if err != nil || len(data) < HeaderLength || [4]byte(data[0:4]) != headerIdentifierDir {
		return nil
	}
	contents, err := deserializeDirContents(data)
	if err != nil {
		return nil
	}
	nums := make([]InodeNumber, 0, contents.Len())
	for _, name := range contents.Names() {
		e, _ := contents.Get(name)
		nums = append(nums, e.Ino)
	}
	return nums
}

// --- Low-level file helpers ---

// atomicWrite writes data to a temp file in the destination directory and
// renames it into place, creating the shard directory if needed.
func (o *Overlay) atomicWrite(relPath string, data []byte) error {
	dst := filepath.Join(o.dir, relPath)
	dstDir := filepath.Dir(dst)
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dstDir, err)
	}
	tmp, err := os.CreateTemp(dstDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", relPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", relPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", relPath, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename into %s: %w", relPath, err)
	}
	return nil
}
