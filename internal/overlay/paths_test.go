package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ino  InodeNumber
		want string
	}{
		{1, "01/1"},
		{15, "0f/15"},
		{16, "10/16"},
		{255, "ff/255"},
		{256, "00/256"},
		{1234, "d2/1234"},
		{0xdeadbeef, "ef/3735928559"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FilePath(tt.ino), "FilePath(%d)", tt.ino)
	}
}

func TestParseShardName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want uint64
		ok   bool
	}{
		{"00", 0, true},
		{"0f", 15, true},
		{"ff", 255, true},
		{"d2", 210, true},
		{"f", 0, false},
		{"100", 0, false},
		{"zz", 0, false},
		{"info", 0, false},
		{"overlay.lock", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseShardName(tt.name)
		assert.Equal(t, tt.ok, ok, "parseShardName(%q) ok", tt.name)
		if tt.ok {
			assert.Equal(t, tt.want, got, "parseShardName(%q)", tt.name)
		}
	}
}

func TestParseInodeFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		shard uint64
		name  string
		want  InodeNumber
		ok    bool
	}{
		{0x01, "1", 1, true},
		{0x0f, "15", 15, true},
		{0xd2, "1234", 1234, true},
		{0x01, "2", 0, false},    // wrong shard
		{0x01, ".tmp-1", 0, false},
		{0x00, "0", 0, false},
		{0x01, "x1", 0, false},
		{0x01, "", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseInodeFileName(tt.shard, tt.name)
		assert.Equal(t, tt.ok, ok, "parseInodeFileName(%#x, %q) ok", tt.shard, tt.name)
		if tt.ok {
			assert.Equal(t, tt.want, got, "parseInodeFileName(%#x, %q)", tt.shard, tt.name)
		}
	}
}
