package overlay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpInodes(t *testing.T) {
	t.Parallel()
	o := testOverlay(t)

	fileA := o.AllocateInodeNumber()  // 2
	subdir := o.AllocateInodeNumber() // 3
	fileB := o.AllocateInodeNumber()  // 4
	link := o.AllocateInodeNumber()   // 5

	require.NoError(t, o.SaveOverlayDir(RootInodeNumber, dirWith(map[string]DirEntry{
		"file_a": {Mode: ModeFile | 0644, Ino: fileA, Materialized: true},
		"subdir": {Mode: ModeDir | 0755, Ino: subdir, Materialized: true},
	}, "file_a", "subdir")))
	require.NoError(t, o.SaveOverlayDir(subdir, dirWith(map[string]DirEntry{
		"file_b": {Mode: ModeFile | 0644, Ino: fileB, Materialized: true},
		"link":   {Mode: ModeSymlink | 0777, Ino: link, Materialized: true},
	}, "file_b", "link")))

	out, err := o.DumpInodes(RootInodeNumber, nil)
	require.NoError(t, err)

	want := "/\n" +
		"  Inode number: 1\n" +
		"  Entries (2 total):\n" +
		"            2 f  644 file_a\n" +
		"            3 d  755 subdir\n" +
		"subdir\n" +
		"  Inode number: 3\n" +
		"  Entries (2 total):\n" +
		"            4 f  644 file_b\n" +
		"            5 l  777 link\n"
	assert.Equal(t, want, out)
}

func TestDumpInodesDepthFirst(t *testing.T) {
	t.Parallel()
	o := testOverlay(t)

	dirA := o.AllocateInodeNumber() // 2
	dirB := o.AllocateInodeNumber() // 3
	dirAX := o.AllocateInodeNumber() // 4

	require.NoError(t, o.SaveOverlayDir(RootInodeNumber, dirWith(map[string]DirEntry{
		"dir_a": {Mode: ModeDir | 0755, Ino: dirA, Materialized: true},
		"dir_b": {Mode: ModeDir | 0755, Ino: dirB, Materialized: true},
	}, "dir_a", "dir_b")))
	require.NoError(t, o.SaveOverlayDir(dirA, dirWith(map[string]DirEntry{
		"x": {Mode: ModeDir | 0755, Ino: dirAX, Materialized: true},
	}, "x")))
	require.NoError(t, o.SaveOverlayDir(dirAX, NewDirContents()))
	require.NoError(t, o.SaveOverlayDir(dirB, NewDirContents()))

	out, err := o.DumpInodes(RootInodeNumber, nil)
	require.NoError(t, err)

	// dir_a's whole subtree comes before dir_b. Anchor each match to a
	// block header so entry lines mentioning the same name don't count.
	order := []string{
		"/\n  Inode number:",
		"\ndir_a\n  Inode number:",
		"\ndir_a/x\n  Inode number:",
		"\ndir_b\n  Inode number:",
	}
	pos := -1
	for _, block := range order {
		next := strings.Index(out, block)
		assert.Greater(t, next, pos, "block %q out of order", block)
		pos = next
	}
}

func TestDumpInodesUnsavedSubdir(t *testing.T) {
	t.Parallel()
	o := testOverlay(t)

	subdir := o.AllocateInodeNumber()
	require.NoError(t, o.SaveOverlayDir(RootInodeNumber, dirWith(map[string]DirEntry{
		"pending": {Mode: ModeDir | 0755, Ino: subdir, Materialized: true},
	}, "pending")))

	out, err := o.DumpInodes(RootInodeNumber, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "pending\n  Inode number: 2\n")
	assert.NotContains(t, out, "pending\n  Inode number: 2\n  Entries")
}

func TestDumpInodesFiltered(t *testing.T) {
	t.Parallel()
	o := testOverlay(t)

	fileA := o.AllocateInodeNumber()
	subdir := o.AllocateInodeNumber()
	require.NoError(t, o.SaveOverlayDir(RootInodeNumber, dirWith(map[string]DirEntry{
		"file_a": {Mode: ModeFile | 0644, Ino: fileA, Materialized: true},
		"subdir": {Mode: ModeDir | 0755, Ino: subdir, Materialized: true},
	}, "file_a", "subdir")))
	require.NoError(t, o.SaveOverlayDir(subdir, NewDirContents()))

	out, err := o.DumpInodes(RootInodeNumber, func(path string, isDir bool) bool {
		return path == "subdir"
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Entries (1 total):")
	assert.Contains(t, out, "file_a")
	assert.NotContains(t, out, "subdir")
}
