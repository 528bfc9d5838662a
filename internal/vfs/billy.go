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
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/go-git/go-billy/v5"

	"checkoutfs/internal/common"
	"checkoutfs/internal/overlay"
)

// BillyFS exposes a mount as a read-only billy.Filesystem, letting existing
// billy consumers (exporters, archivers, test harnesses) walk a checkout
// without knowing about loading or materialization. Every access goes
// through VirtualInode resolution, so browsing never loads inodes.
type BillyFS struct {
	mount *Mount
}

// NewBillyFS returns a read-only filesystem view of m.
func NewBillyFS(m *Mount) *BillyFS {
	return &BillyFS{mount: m}
}

var _ billy.Filesystem = (*BillyFS)(nil)

func (b *BillyFS) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyFS) OpenFile(filename string, flag int, _ os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, fmt.Errorf("%s: %w", filename, common.ErrReadOnly)
	}
	ctx := context.Background()
	v, err := b.mount.GetVirtualInode(ctx, filename)
	if err != nil {
		return nil, err
	}
	if v.IsDirectory() {
		return nil, fmt.Errorf("%s: %w", filename, common.ErrIsDir)
	}
	data, err := v.FileContents(ctx)
	if err != nil {
		return nil, err
	}
	return &billyFile{name: filename, reader: bytes.NewReader(data)}, nil
}

func (b *BillyFS) Stat(filename string) (os.FileInfo, error) {
	ctx := context.Background()
	v, err := b.mount.GetVirtualInode(ctx, filename)
	if err != nil {
		return nil, err
	}
	return b.fileInfo(ctx, v)
}

func (b *BillyFS) Lstat(filename string) (os.FileInfo, error) {
	return b.Stat(filename)
}

func (b *BillyFS) ReadDir(p string) ([]os.FileInfo, error) {
	ctx := context.Background()
	v, err := b.mount.GetVirtualInode(ctx, p)
	if err != nil {
		return nil, err
	}
	children, err := v.GetChildren(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(children))
	for _, child := range children {
		fi, err := b.fileInfo(ctx, child)
		if err != nil {
			return nil, err
		}
		infos = append(infos, fi)
	}
	return infos, nil
}

func (b *BillyFS) Readlink(link string) (string, error) {
	ctx := context.Background()
	v, err := b.mount.GetVirtualInode(ctx, link)
	if err != nil {
		return "", err
	}
	if v.Dtype() != DtypeSymlink {
		return "", fmt.Errorf("%s: not a symlink", link)
	}
	target, err := v.FileContents(ctx)
	if err != nil {
		return "", err
	}
	return string(target), nil
}

func (b *BillyFS) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyFS) Root() string {
	return "/"
}

func (b *BillyFS) Chroot(_ string) (billy.Filesystem, error) {
	return nil, fmt.Errorf("chroot: %w", common.ErrReadOnly)
}

// Mutating operations are rejected wholesale.

func (b *BillyFS) Create(filename string) (billy.File, error) {
	return nil, fmt.Errorf("%s: %w", filename, common.ErrReadOnly)
}

func (b *BillyFS) Rename(oldpath, _ string) error {
	return fmt.Errorf("%s: %w", oldpath, common.ErrReadOnly)
}

func (b *BillyFS) Remove(filename string) error {
	return fmt.Errorf("%s: %w", filename, common.ErrReadOnly)
}

func (b *BillyFS) TempFile(_, _ string) (billy.File, error) {
	return nil, common.ErrReadOnly
}

func (b *BillyFS) MkdirAll(filename string, _ os.FileMode) error {
	return fmt.Errorf("%s: %w", filename, common.ErrReadOnly)
}

func (b *BillyFS) Symlink(_, link string) error {
	return fmt.Errorf("%s: %w", link, common.ErrReadOnly)
}

func (b *BillyFS) fileInfo(ctx context.Context, v VirtualInode) (os.FileInfo, error) {
	st, err := v.Stat(ctx)
	if err != nil {
		return nil, err
	}
	return &billyFileInfo{
		name:  path.Base("/" + v.Path()),
		size:  st.Size,
		mode:  fileModeFor(st.Mode),
		mtime: st.Mtime,
		isDir: v.IsDirectory(),
	}, nil
}

func fileModeFor(mode uint32) fs.FileMode {
	m := fs.FileMode(mode &^ overlay.ModeMask)
	switch mode & overlay.ModeMask {
	case overlay.ModeDir:
		m |= fs.ModeDir
	case overlay.ModeSymlink:
		m |= fs.ModeSymlink
	}
	return m
}

// billyFile is a fully buffered read-only file handle.
type billyFile struct {
	name   string
	reader *bytes.Reader
}

var _ billy.File = (*billyFile)(nil)

func (f *billyFile) Name() string { return f.name }

func (f *billyFile) Read(p []byte) (int, error) {
	return f.reader.Read(p)
}

func (f *billyFile) ReadAt(p []byte, off int64) (int, error) {
	return f.reader.ReadAt(p, off)
}

func (f *billyFile) Seek(offset int64, whence int) (int64, error) {
	return f.reader.Seek(offset, whence)
}

func (f *billyFile) Close() error { return nil }

func (f *billyFile) Write([]byte) (int, error) {
	return 0, fmt.Errorf("%s: %w", f.name, common.ErrReadOnly)
}

func (f *billyFile) Truncate(int64) error {
	return fmt.Errorf("%s: %w", f.name, common.ErrReadOnly)
}

func (f *billyFile) Lock() error   { return nil }
func (f *billyFile) Unlock() error { return nil }

// billyFileInfo implements os.FileInfo for BillyFS.
type billyFileInfo struct {
	name  string
	size  int64
	mode  fs.FileMode
	mtime time.Time
	isDir bool
}

func (fi *billyFileInfo) Name() string       { return fi.name }
func (fi *billyFileInfo) Size() int64        { return fi.size }
func (fi *billyFileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *billyFileInfo) ModTime() time.Time { return fi.mtime }
func (fi *billyFileInfo) IsDir() bool        { return fi.isDir }
func (fi *billyFileInfo) Sys() interface{}   { return nil }
