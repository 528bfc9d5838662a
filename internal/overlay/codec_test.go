package overlay

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkoutfs/internal/common"
	"checkoutfs/internal/objectstore"
)

func testHash(b byte) *objectstore.Hash {
	var h objectstore.Hash
	for i := range h {
		h[i] = b
	}
	return &h
}

func TestDirContentsRoundTrip(t *testing.T) {
	t.Parallel()

	contents := NewDirContents()
	contents.Set("one", DirEntry{Mode: ModeFile | 0644, Ino: 11, Hash: testHash(0x11)})
	contents.Set("two", DirEntry{Mode: ModeDir | 0755, Ino: 12, Materialized: true})
	contents.Set("three", DirEntry{Mode: ModeSymlink | 0777, Ino: 13, Hash: testHash(0x13)})
	contents.Set("four", DirEntry{Mode: ModeFile | 0755, Ino: 14, Materialized: true})

	data, err := serializeDirContents(contents)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), HeaderLength)

	got, err := deserializeDirContents(data)
	require.NoError(t, err)
	require.Equal(t, contents.Names(), got.Names(), "entry order must survive")
	for _, name := range contents.Names() {
		want, _ := contents.Get(name)
		e, ok := got.Get(name)
		require.True(t, ok, "entry %q missing", name)
		assert.Equal(t, want, e, "entry %q", name)
	}
}

func TestDirContentsRoundTripEmpty(t *testing.T) {
	t.Parallel()

	data, err := serializeDirContents(NewDirContents())
	require.NoError(t, err)
	assert.Len(t, data, HeaderLength+4)

	got, err := deserializeDirContents(data)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestDeserializeDirContentsCorruption(t *testing.T) {
	t.Parallel()

	contents := NewDirContents()
	contents.Set("a", DirEntry{Mode: ModeFile | 0644, Ino: 2, Hash: testHash(1)})
	valid, err := serializeDirContents(contents)
	require.NoError(t, err)

	t.Run("truncated header", func(t *testing.T) {
		t.Parallel()
		_, err := deserializeDirContents(valid[:HeaderLength-1])
		assert.ErrorIs(t, err, common.ErrCorrupted)
	})

	t.Run("wrong identifier", func(t *testing.T) {
		t.Parallel()
		data := append([]byte{}, valid...)
		copy(data[0:4], headerIdentifierFile[:])
		_, err := deserializeDirContents(data)
		assert.ErrorIs(t, err, common.ErrCorrupted)
	})

	t.Run("unsupported version", func(t *testing.T) {
		t.Parallel()
		data := append([]byte{}, valid...)
		binary.LittleEndian.PutUint32(data[4:8], 99)
		_, err := deserializeDirContents(data)
		assert.ErrorIs(t, err, common.ErrCorrupted)
	})

	t.Run("truncated entry", func(t *testing.T) {
		t.Parallel()
		_, err := deserializeDirContents(valid[:len(valid)-5])
		assert.ErrorIs(t, err, common.ErrCorrupted)
	})

	t.Run("trailing garbage", func(t *testing.T) {
		t.Parallel()
		data := append(append([]byte{}, valid...), 0xde, 0xad)
		_, err := deserializeDirContents(data)
		assert.ErrorIs(t, err, common.ErrCorrupted)
	})

	t.Run("missing entry count", func(t *testing.T) {
		t.Parallel()
		_, err := deserializeDirContents(valid[:HeaderLength+2])
		assert.ErrorIs(t, err, common.ErrCorrupted)
	})
}

func TestDirContentsOrderedOps(t *testing.T) {
	t.Parallel()

	d := NewDirContents()
	d.Set("b", DirEntry{Ino: 2})
	d.Set("a", DirEntry{Ino: 3})
	d.Set("c", DirEntry{Ino: 4})
	assert.Equal(t, []string{"b", "a", "c"}, d.Names())

	// Replacing keeps position.
	d.Set("a", DirEntry{Ino: 30})
	assert.Equal(t, []string{"b", "a", "c"}, d.Names())
	e, ok := d.Get("a")
	require.True(t, ok)
	assert.Equal(t, InodeNumber(30), e.Ino)

	assert.True(t, d.Remove("b"))
	assert.False(t, d.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, d.Names())
	assert.Equal(t, 2, d.Len())
}

func TestDirContentsClone(t *testing.T) {
	t.Parallel()

	d := NewDirContents()
	d.Set("x", DirEntry{Mode: ModeFile | 0644, Ino: 5, Hash: testHash(7)})
	c := d.Clone()

	// Mutating the clone's hash must not touch the original.
	e, _ := c.Get("x")
	e.Hash[0] = 0xff
	orig, _ := d.Get("x")
	assert.Equal(t, byte(7), orig.Hash[0])

	c.Set("y", DirEntry{Ino: 6})
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, 2, c.Len())
}
