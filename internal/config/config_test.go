package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "overlay", cfg.OverlayDir)
	assert.Equal(t, "localstore.db", cfg.CachePath)
	assert.Equal(t, "info", cfg.Logging)
	assert.Empty(t, cfg.RootHash)
	assert.Empty(t, cfg.ExcludeFile)
}

func TestLoadAppliesDefaultsToPartialConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	data := []byte("root-hash: 0123456789abcdef0123456789abcdef01234567\nlogging: debug\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", cfg.RootHash)
	assert.Equal(t, "debug", cfg.Logging)
	assert.Equal(t, "overlay", cfg.OverlayDir, "missing fields get defaults")
}

func TestLoadRejectsMalformedYaml(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{{nope"), 0600))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	cfg := &Config{
		RootHash:    "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		OverlayDir:  "custom-overlay",
		Logging:     "trace",
		ExcludeFile: ".dumpignore",
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Save(dir))

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
