package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sift/pkg/sift/logging"
)

func TestRotatingWriterRotatesAtMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sift.log")
	w, err := logging.NewRotatingWriter(path, logging.RotationConfig{MaxSize: 100, MaxBackups: 2})
	require.NoError(t, err)
	defer w.Close()

	line := []byte(strings.Repeat("x", 59) + "\n")
	for range 5 {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{path + ".1", path + ".2"}, w.Backups())
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(100))
}

func TestRotatingWriterAppendsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sift.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	w, err := logging.NewRotatingWriter(path, logging.RotationConfig{})
	require.NoError(t, err)
	_, err = w.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(data))
}

func TestRotatingWriterClosed(t *testing.T) {
	w, err := logging.NewRotatingWriter(filepath.Join(t.TempDir(), "a.log"), logging.RotationConfig{})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	require.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingWriterConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sift.log")
	w, err := logging.NewRotatingWriter(path, logging.RotationConfig{MaxSize: 1 << 20})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, _ = w.Write([]byte("0123456789\n"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(8*100*11), info.Size())
}
