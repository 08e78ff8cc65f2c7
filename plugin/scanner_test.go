package plugin

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLoader wraps the builtin loader and counts probes, to verify
// the fingerprint cache.
type countingLoader struct {
	inner  *BuiltinLoader
	probes atomic.Int32
}

func newCountingLoader() *countingLoader {
	return &countingLoader{inner: NewBuiltinLoader()}
}

func (l *countingLoader) Probe(path string) (Info, error) {
	l.probes.Add(1)
	return l.inner.Probe(path)
}

func (l *countingLoader) Instantiate(path string) (Instance, error) {
	return l.inner.Instantiate(path)
}

func TestScannerFindsPluginFiles(t *testing.T) {
	dir := t.TempDir()
	writePluginFile(t, dir, "phantom_gain.so")
	writePluginFile(t, dir, "phantom_comp.so")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir.so"), 0o755))

	scanner := NewScannerWithDirs(NewBuiltinLoader(), []string{dir})
	found, err := scanner.Scan()

	require.NoError(t, err)
	require.Len(t, found, 2)
	// Results come back sorted by path.
	assert.Equal(t, "Phantom Compressor", found[0].Name)
	assert.Equal(t, "Phantom Gain", found[1].Name)
	assert.Equal(t, filepath.Join(dir, "phantom_gain.so"), found[1].Path)
}

func TestScannerSkipsMissingDirs(t *testing.T) {
	scanner := NewScannerWithDirs(NewBuiltinLoader(), []string{"/nonexistent/vst"})

	found, err := scanner.Scan()

	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestScannerSkipsUnprobeableFiles(t *testing.T) {
	dir := t.TempDir()
	writePluginFile(t, dir, "phantom_gain.so")
	writePluginFile(t, dir, "broken.so")

	scanner := NewScannerWithDirs(NewBuiltinLoader(), []string{dir})
	found, err := scanner.Scan()

	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Phantom Gain", found[0].Name)
}

func TestScannerFingerprintCache(t *testing.T) {
	dir := t.TempDir()
	path := writePluginFile(t, dir, "phantom_gain.so")
	loader := newCountingLoader()
	scanner := NewScannerWithDirs(loader, []string{dir})

	_, err := scanner.Scan()
	require.NoError(t, err)
	require.Equal(t, int32(1), loader.probes.Load())

	// Unchanged file: the cached probe is reused.
	_, err = scanner.Scan()
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.probes.Load())
	assert.Equal(t, 1, scanner.CachedCount())

	// Changed contents invalidate the fingerprint.
	require.NoError(t, os.WriteFile(path, []byte("rebuilt"), 0o644))
	_, err = scanner.Scan()
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.probes.Load())
}

func TestScannerWatchInvalidatesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writePluginFile(t, dir, "phantom_gain.so")
	scanner := NewScannerWithDirs(NewBuiltinLoader(), []string{dir})
	defer scanner.Close()

	_, err := scanner.Scan()
	require.NoError(t, err)
	require.Equal(t, 1, scanner.CachedCount())

	var changes atomic.Int32
	scanner.OnChange = func() { changes.Add(1) }
	require.NoError(t, scanner.Watch())

	require.NoError(t, os.WriteFile(path, []byte("rebuilt"), 0o644))

	require.Eventually(t, func() bool { return changes.Load() > 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, scanner.CachedCount())
}

func TestScannerCloseWithoutWatch(t *testing.T) {
	scanner := NewScannerWithDirs(NewBuiltinLoader(), nil)
	assert.NoError(t, scanner.Close())
}

func TestDefaultSearchDirs(t *testing.T) {
	dirs := DefaultSearchDirs()

	assert.Contains(t, dirs, "/usr/lib/vst")
	assert.Contains(t, dirs, "/usr/lib/lxvst")
	assert.GreaterOrEqual(t, len(dirs), 4)
}
