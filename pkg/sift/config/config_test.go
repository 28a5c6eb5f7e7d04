package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sift/pkg/sift/types"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPath, cfg.DefaultPath)
	assert.Equal(t, DefaultExclusions, cfg.Exclude)
	assert.True(t, cfg.Scan.Recurse)
	assert.Equal(t, DefaultHashSizeLimit, cfg.Scan.HashSizeLimit)
	assert.Equal(t, DefaultBackend, cfg.Index.Backend)
	assert.Equal(t, DefaultStaleness, cfg.Index.Staleness)
	assert.Equal(t, DefaultTopN, cfg.Stats.TopN)
	assert.Equal(t, DefaultDebounce, cfg.Daemon.Debounce)
	assert.Equal(t, "warn", cfg.Logging.Components["watcher"])
}

func TestLoad_FromFile(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, "config", "sift")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
default_path: /srv/media
exclude:
  - "**/*.tmp"
scan:
  recurse: false
  include_hidden: true
  hash_size_limit: 1MiB
index:
  backend: sqlite
  path: ~/idx.db
  staleness: directories
daemon:
  debounce: 500ms
`), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/media", cfg.DefaultPath)
	assert.Equal(t, []string{"**/*.tmp"}, cfg.Exclude)
	assert.Equal(t, "sqlite", cfg.Index.Backend)
	assert.Equal(t, filepath.Join(home, "idx.db"), cfg.IndexPath())
	assert.Equal(t, "directories", cfg.Index.Staleness)
	assert.Equal(t, 500*time.Millisecond, cfg.Daemon.Debounce)

	opts, err := cfg.ScanOptions()
	require.NoError(t, err)
	assert.False(t, opts.Recurse)
	assert.True(t, opts.IncludeHidden)
	assert.Equal(t, int64(types.MiB), opts.HashSizeLimit)
	assert.Equal(t, 1, opts.EffectiveDepth())
}

func TestLoad_EnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("SIFT_INDEX_BACKEND", "sqlite")
	t.Setenv("SIFT_STATS_TOP_N", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Index.Backend)
	assert.Equal(t, 3, cfg.Stats.TopN)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "backend", env: map[string]string{"SIFT_INDEX_BACKEND": "leveldb"}},
		{name: "staleness", env: map[string]string{"SIFT_INDEX_STALENESS": "sometimes"}},
		{name: "hash limit", env: map[string]string{"SIFT_SCAN_HASH_SIZE_LIMIT": "lots"}},
		{name: "top n", env: map[string]string{"SIFT_STATS_TOP_N": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoggingConfig(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{
		Level:    "debug",
		Format:   "json",
		Rotation: RotationConfig{MaxSize: "1MiB", MaxBackups: 7},
	}}

	lc := cfg.LoggingConfig()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, int64(types.MiB), lc.Rotation.MaxSize)
	assert.Equal(t, 7, lc.Rotation.MaxBackups)
}

func TestIndexPathDefaults(t *testing.T) {
	cfg := &Config{Index: IndexConfig{Backend: "badger"}}
	assert.Equal(t, filepath.Join(DataDir(), "index"), cfg.IndexPath())

	cfg.Index.Backend = "sqlite"
	assert.Equal(t, filepath.Join(DataDir(), "index.sqlite"), cfg.IndexPath())
}

func TestWriteDefault(t *testing.T) {
	home := isolate(t)

	path, created, err := WriteDefault()
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, filepath.Join(home, "config", "sift", "config.yaml"), path)

	// The written file must load back to the defaults.
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultExclusions, cfg.Exclude)
	assert.Equal(t, DefaultDebounce, cfg.Daemon.Debounce)

	_, created, err = WriteDefault()
	require.NoError(t, err)
	assert.False(t, created)
}

func TestExpandPath(t *testing.T) {
	home := isolate(t)

	got, err := ExpandPath("~/data")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), got)

	got, err = ExpandPath("/abs/~x")
	require.NoError(t, err)
	assert.Equal(t, "/abs/~x", got)
}

func TestDefaultBinaryPath(t *testing.T) {
	home := isolate(t)
	t.Setenv("GOPATH", "")
	gobin := filepath.Join(home, "gobin")
	t.Setenv("GOBIN", gobin)

	assert.Empty(t, DefaultBinaryPath())

	fallback := filepath.Join(home, "go", "bin", DaemonBinary)
	require.NoError(t, os.MkdirAll(filepath.Dir(fallback), 0o755))
	require.NoError(t, os.WriteFile(fallback, []byte("#!/bin/sh\n"), 0o755))
	assert.Equal(t, fallback, DefaultBinaryPath())

	preferred := filepath.Join(gobin, DaemonBinary)
	require.NoError(t, os.MkdirAll(gobin, 0o755))
	require.NoError(t, os.WriteFile(preferred, []byte("#!/bin/sh\n"), 0o755))
	assert.Equal(t, preferred, DefaultBinaryPath())
}
