package vfs

import (
	"context"
	"io"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkoutfs/internal/common"
)

func TestBillyOpenAndRead(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	fs := NewBillyFS(env.mount)

	f, err := fs.Open("root_dirA/child_fileA1")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "root_dirA/child_fileA1", f.Name())

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "root_dirA/child_fileA1 contents", string(data))

	// ReadAt and Seek work on the buffered handle.
	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "root_", string(buf))
	off, err := f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), off)
}

func TestBillyOpenErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	fs := NewBillyFS(env.mount)

	_, err := fs.Open("missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = fs.Open("root_dirA")
	assert.ErrorIs(t, err, common.ErrIsDir)
	_, err = fs.OpenFile("root_fileA", os.O_WRONLY, 0644)
	assert.ErrorIs(t, err, common.ErrReadOnly)
}

func TestBillyReadDir(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	fs := NewBillyFS(env.mount)

	infos, err := fs.ReadDir("root_dirA")
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"child_dirA", "child_fileA1", "child_fileA2"}, names)

	for _, fi := range infos {
		if fi.Name() == "child_dirA" {
			assert.True(t, fi.IsDir())
		} else {
			assert.False(t, fi.IsDir())
		}
	}
}

func TestBillyStat(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	fs := NewBillyFS(env.mount)

	fi, err := fs.Stat("root_fileA")
	require.NoError(t, err)
	assert.Equal(t, "root_fileA", fi.Name())
	assert.Equal(t, int64(len("root_fileA contents")), fi.Size())
	assert.False(t, fi.IsDir())
	assert.Equal(t, env.mount.LastCheckoutTime(), fi.ModTime())

	fi, err = fs.Stat("root_dirA")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestBillyReadlink(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	fs := NewBillyFS(env.mount)

	target, err := fs.Readlink("root_link")
	require.NoError(t, err)
	assert.Equal(t, "root_fileA", target)

	_, err = fs.Readlink("root_fileA")
	assert.Error(t, err)
}

func TestBillyRejectsWrites(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	fs := NewBillyFS(env.mount)

	_, err := fs.Create("new")
	assert.ErrorIs(t, err, common.ErrReadOnly)
	assert.ErrorIs(t, fs.Remove("root_fileA"), common.ErrReadOnly)
	assert.ErrorIs(t, fs.Rename("root_fileA", "x"), common.ErrReadOnly)
	assert.ErrorIs(t, fs.MkdirAll("a/b", 0755), common.ErrReadOnly)
	assert.ErrorIs(t, fs.Symlink("a", "b"), common.ErrReadOnly)

	f, err := fs.Open("root_fileA")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write([]byte("x"))
	assert.ErrorIs(t, err, common.ErrReadOnly)
	assert.ErrorIs(t, f.Truncate(0), common.ErrReadOnly)
}

func TestBillySeesLocalEdits(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	fs := NewBillyFS(env.mount)
	ctx := context.Background()

	require.NoError(t, env.mount.OverwriteFile(ctx, "root_fileB", []byte("edited")))
	f, err := fs.Open("root_fileB")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "edited", string(data))

	fi, err := fs.Stat("root_fileB")
	require.NoError(t, err)
	assert.Equal(t, int64(6), fi.Size())
}
