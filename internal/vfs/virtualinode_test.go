package vfs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkoutfs/internal/common"
	"checkoutfs/internal/objectstore"
)

func TestDtypeAcrossShapes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.mount
	ctx := context.Background()

	assert.Equal(t, DtypeDir, resolve(t, m, "").Dtype())
	assert.Equal(t, DtypeRegular, resolve(t, m, "root_fileA").Dtype())
	assert.Equal(t, DtypeSymlink, resolve(t, m, "root_link").Dtype())
	assert.Equal(t, DtypeDir, resolve(t, m, "root_dirA").Dtype())
	assert.Equal(t, DtypeRegular, resolve(t, m, "root_dirA/child_fileA1").Dtype())

	// Shapes change as state loads, the answers must not.
	_, err := m.LoadInode(ctx, "root_dirA/child_fileA1")
	require.NoError(t, err)
	assert.Equal(t, DtypeDir, resolve(t, m, "root_dirA").Dtype())
	assert.Equal(t, DtypeRegular, resolve(t, m, "root_dirA/child_fileA1").Dtype())
	assert.True(t, resolve(t, m, "root_dirA").IsDirectory())
	assert.False(t, resolve(t, m, "root_fileA").IsDirectory())
}

func TestGetSHA1(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.mount
	ctx := context.Background()

	// Pristine file, never loaded.
	want := objectstore.ComputeHash([]byte("root_fileA contents"))
	got, err := resolve(t, m, "root_fileA").GetSHA1(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Same file after loading: same answer through a different shape.
	_, err = m.LoadInode(ctx, "root_fileA")
	require.NoError(t, err)
	got, err = resolve(t, m, "root_fileA").GetSHA1(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Scm entry under an unloaded tree.
	want = objectstore.ComputeHash([]byte("root_dirA/child_fileA1 contents"))
	got, err = resolve(t, m, "root_dirA/child_fileA1").GetSHA1(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Materialized file hashes its overlay contents.
	require.NoError(t, m.OverwriteFile(ctx, "root_fileB", []byte("local edit")))
	got, err = resolve(t, m, "root_fileB").GetSHA1(ctx)
	require.NoError(t, err)
	assert.Equal(t, objectstore.ComputeHash([]byte("local edit")), got)
}

func TestGetSHA1OnDirectoriesFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.mount
	ctx := context.Background()

	for _, path := range []string{"", "root_dirA", "root_dirA/child_dirA"} {
		_, err := resolve(t, m, path).GetSHA1(ctx)
		assert.ErrorIs(t, err, common.ErrIsDir, "GetSHA1(%q)", path)
		_, err = resolve(t, m, path).GetSize(ctx)
		assert.ErrorIs(t, err, common.ErrIsDir, "GetSize(%q)", path)
	}
}

func TestGetEntryAttributes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.mount
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		attrs := resolve(t, m, "root_fileA").GetEntryAttributes(ctx)
		require.True(t, attrs.SHA1.Ok())
		require.True(t, attrs.Size.Ok())
		require.True(t, attrs.Type.Ok())
		assert.Equal(t, objectstore.ComputeHash([]byte("root_fileA contents")), attrs.SHA1.Value)
		assert.Equal(t, uint64(len("root_fileA contents")), attrs.Size.Value)
		assert.Equal(t, DtypeRegular, attrs.Type.Value)
	})

	t.Run("directory has a type but no content attributes", func(t *testing.T) {
		attrs := resolve(t, m, "root_dirA").GetEntryAttributes(ctx)
		assert.ErrorIs(t, attrs.SHA1.Err, common.ErrIsDir)
		assert.ErrorIs(t, attrs.Size.Err, common.ErrIsDir)
		require.True(t, attrs.Type.Ok())
		assert.Equal(t, DtypeDir, attrs.Type.Value)
	})

	t.Run("fetch failure is per-field", func(t *testing.T) {
		boom := errors.New("backing store down")
		env.fake.SetFault(env.blobs["root_fileB"], boom)
		defer env.fake.ClearFault(env.blobs["root_fileB"])

		attrs := resolve(t, m, "root_fileB").GetEntryAttributes(ctx)
		assert.ErrorIs(t, attrs.SHA1.Err, boom)
		assert.ErrorIs(t, attrs.Size.Err, boom)
		require.True(t, attrs.Type.Ok(), "type does not need the blob")
		assert.Equal(t, DtypeRegular, attrs.Type.Value)
	})
}

func TestGetChildren(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.mount
	ctx := context.Background()

	t.Run("loaded root", func(t *testing.T) {
		children, err := resolve(t, m, "").GetChildren(ctx)
		require.NoError(t, err)
		require.Len(t, children, 5)
		assert.Equal(t, ContainedDirEntry, children["root_fileA"].ContainedType())
		assert.Equal(t, ContainedTree, children["root_dirA"].ContainedType())
	})

	t.Run("unloaded tree", func(t *testing.T) {
		children, err := resolve(t, m, "root_dirA").GetChildren(ctx)
		require.NoError(t, err)
		require.Len(t, children, 3)
		assert.Equal(t, ContainedTreeEntry, children["child_fileA1"].ContainedType())
		assert.Equal(t, ContainedTree, children["child_dirA"].ContainedType())
	})

	t.Run("files have no children", func(t *testing.T) {
		_, err := resolve(t, m, "root_fileA").GetChildren(ctx)
		assert.ErrorIs(t, err, common.ErrNotDir)
		_, err = resolve(t, m, "root_dirA/child_fileA1").GetChildren(ctx)
		assert.ErrorIs(t, err, common.ErrNotDir)
	})
}

func TestGetChildrenOfMaterializedUnloadedDir(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.mount
	ctx := context.Background()

	require.NoError(t, m.OverwriteFile(ctx, "root_dirA/child_fileA1", []byte("local")))
	m.UnloadTree()

	children, err := resolve(t, m, "root_dirA").GetChildren(ctx)
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, ContainedDirEntry, children["child_fileA1"].ContainedType())
	assert.Equal(t, ContainedTree, children["child_dirA"].ContainedType())
}

func TestGetChildrenAttributesIsolatesFailures(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.mount
	ctx := context.Background()

	boom := errors.New("blob fetch fault")
	env.fake.SetFault(env.blobs["root_dirA/child_fileA1"], boom)
	defer env.fake.ClearFault(env.blobs["root_dirA/child_fileA1"])

	results, err := resolve(t, m, "root_dirA").GetChildrenAttributes(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// The faulted sibling fails its content fields only.
	assert.ErrorIs(t, results["child_fileA1"].SHA1.Err, boom)
	assert.ErrorIs(t, results["child_fileA1"].Size.Err, boom)
	assert.Equal(t, DtypeRegular, results["child_fileA1"].Type.Value)

	// Its siblings are unaffected.
	require.True(t, results["child_fileA2"].SHA1.Ok())
	assert.Equal(t, objectstore.ComputeHash([]byte("root_dirA/child_fileA2 contents")),
		results["child_fileA2"].SHA1.Value)
	assert.ErrorIs(t, results["child_dirA"].SHA1.Err, common.ErrIsDir)
	assert.Equal(t, DtypeDir, results["child_dirA"].Type.Value)
}

func TestStat(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.mount
	ctx := context.Background()
	checkout := m.LastCheckoutTime()

	t.Run("pristine file uses checkout time", func(t *testing.T) {
		st, err := resolve(t, m, "root_fileA").Stat(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(len("root_fileA contents")), st.Size)
		assert.Equal(t, DefaultFileMode, st.Mode)
		assert.Equal(t, checkout, st.Mtime)
	})

	t.Run("directories have size zero", func(t *testing.T) {
		st, err := resolve(t, m, "root_dirA").Stat(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), st.Size)
		assert.Equal(t, DefaultDirMode, st.Mode)
		assert.Equal(t, checkout, st.Mtime)
	})

	t.Run("materialized file uses modification time", func(t *testing.T) {
		env.advanceClock(90 * time.Second)
		require.NoError(t, m.OverwriteFile(ctx, "root_fileB", []byte("abc")))
		st, err := resolve(t, m, "root_fileB").Stat(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), st.Size)
		assert.Equal(t, env.clock, st.Mtime)
		assert.NotEqual(t, checkout, st.Mtime)
	})
}
