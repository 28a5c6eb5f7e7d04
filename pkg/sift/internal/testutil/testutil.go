// Package testutil builds fake trees and stores for package tests.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sift/pkg/sift/scanner"
	"github.com/jamesainslie/sift/pkg/sift/store/badgerstore"
)

// MemTree builds an in-memory tree under root. Keys ending in "/" are
// directories, everything else is a file with the given content.
func MemTree(t *testing.T, root string, layout map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(root, 0o755))
	for p, content := range layout {
		full := filepath.Join(root, p)
		if strings.HasSuffix(p, "/") {
			require.NoError(t, fs.MkdirAll(full, 0o755))
			continue
		}
		require.NoError(t, fs.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, afero.WriteFile(fs, full, []byte(content), 0o644))
	}
	return fs
}

// DiskTree builds the same layout in a temporary directory and returns its
// path.
func DiskTree(t *testing.T, layout map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for p, content := range layout {
		full := filepath.Join(root, p)
		if strings.HasSuffix(p, "/") {
			require.NoError(t, os.MkdirAll(full, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

// Touch moves the mtime of path forward by d.
func Touch(t *testing.T, fs afero.Fs, path string, d time.Duration) {
	t.Helper()
	info, err := fs.Stat(path)
	require.NoError(t, err)
	mt := info.ModTime().Add(d)
	require.NoError(t, fs.Chtimes(path, mt, mt))
}

// Store opens an in-memory badger store closed at test cleanup.
func Store(t *testing.T) *badgerstore.Store {
	t.Helper()
	st, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// ScanOptions returns recursive scanner options over fs with a small stat
// concurrency.
func ScanOptions(fs afero.Fs) scanner.Options {
	opts := scanner.DefaultOptions()
	opts.Fs = fs
	opts.StatConcurrency = 4
	return opts
}

// HookFs calls OnOpen before every Open. Lstat is not forwarded, so walks
// fall back to Stat.
type HookFs struct {
	afero.Fs
	OnOpen func(name string) error
}

// Open runs the hook and then opens name.
func (h *HookFs) Open(name string) (afero.File, error) {
	if h.OnOpen != nil {
		if err := h.OnOpen(name); err != nil {
			return nil, err
		}
	}
	return h.Fs.Open(name)
}
