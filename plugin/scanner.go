package plugin

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// DefaultSearchDirs returns the well-known plugin directories, user
// locations first.
func DefaultSearchDirs() []string {
	dirs := []string{
		"/usr/lib/vst",
		"/usr/local/lib/vst",
		"/usr/lib/lxvst",
		"/usr/local/lib/lxvst",
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append([]string{
			filepath.Join(home, ".vst"),
			filepath.Join(home, ".local", "lib", "vst"),
		}, dirs...)
	}
	return dirs
}

// cacheEntry pairs a probed Info with the fingerprint of the file it
// was probed from.
type cacheEntry struct {
	fingerprint [blake2b.Size256]byte
	info        Info
}

// Scanner discovers plugin files in a fixed set of directories.
//
// Scan walks the directories, probes every .so file through the loader
// and caches results keyed by a BLAKE2b-256 content fingerprint, so an
// unchanged file is never re-probed. An optional fsnotify watcher
// invalidates cache entries when plugin directories change.
type Scanner struct {
	loader Loader
	dirs   []string

	mu    sync.Mutex
	cache map[string]cacheEntry

	watcher  *fsnotify.Watcher
	watchOff chan struct{}

	// OnChange, when set before Watch, is called after a watched
	// directory changes and the affected cache entries are dropped.
	OnChange func()
}

// NewScanner creates a scanner over the default directories plus any
// extras.
func NewScanner(loader Loader, extraDirs ...string) *Scanner {
	dirs := append(DefaultSearchDirs(), extraDirs...)
	return &Scanner{
		loader: loader,
		dirs:   dirs,
		cache:  make(map[string]cacheEntry),
	}
}

// NewScannerWithDirs creates a scanner over exactly the given
// directories, for configurations that replace the defaults.
func NewScannerWithDirs(loader Loader, dirs []string) *Scanner {
	return &Scanner{
		loader: loader,
		dirs:   append([]string(nil), dirs...),
		cache:  make(map[string]cacheEntry),
	}
}

// Scan walks the search directories and returns the discovered
// plugins, sorted by path. Directories that do not exist are skipped
// silently; unreadable or unprobeable files are skipped with a warning.
func (s *Scanner) Scan() ([]Info, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Scanner.Scan",
		"dirs":     len(s.dirs),
	}).Debug("Scanning plugin directories")

	var found []Info
	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".so" {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			info, err := s.probeCached(path)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Scanner.Scan",
					"path":     path,
					"error":    err.Error(),
				}).Warn("Skipping unprobeable plugin file")
				continue
			}
			found = append(found, info)
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })

	logrus.WithFields(logrus.Fields{
		"function": "Scanner.Scan",
		"plugins":  len(found),
	}).Info("Plugin scan completed")

	return found, nil
}

// probeCached probes a file unless its fingerprint matches the cache.
func (s *Scanner) probeCached(path string) (Info, error) {
	fingerprint, err := fingerprintFile(path)
	if err != nil {
		return Info{}, err
	}

	s.mu.Lock()
	entry, hit := s.cache[path]
	s.mu.Unlock()
	if hit && entry.fingerprint == fingerprint {
		return entry.info, nil
	}

	info, err := s.loader.Probe(path)
	if err != nil {
		return Info{}, err
	}
	info.Path = path

	s.mu.Lock()
	s.cache[path] = cacheEntry{fingerprint: fingerprint, info: info}
	s.mu.Unlock()
	return info, nil
}

// fingerprintFile hashes a file's contents with BLAKE2b-256.
func fingerprintFile(path string) ([blake2b.Size256]byte, error) {
	var fingerprint [blake2b.Size256]byte

	f, err := os.Open(path)
	if err != nil {
		return fingerprint, err
	}
	defer f.Close()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return fingerprint, err
	}
	if _, err := io.Copy(hasher, f); err != nil {
		return fingerprint, err
	}
	copy(fingerprint[:], hasher.Sum(nil))
	return fingerprint, nil
}

// CachedCount returns the number of cached probe results.
func (s *Scanner) CachedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// Watch starts an fsnotify watcher over the search directories that
// exist. Directory events drop the affected cache entries and trigger
// the OnChange callback.
func (s *Scanner) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	watched := 0
	for _, dir := range s.dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Scanner.Watch",
				"dir":      dir,
				"error":    err.Error(),
			}).Warn("Cannot watch plugin directory")
			continue
		}
		watched++
	}

	s.watcher = watcher
	s.watchOff = make(chan struct{})
	go s.watchLoop()

	logrus.WithFields(logrus.Fields{
		"function": "Scanner.Watch",
		"watched":  watched,
	}).Info("Plugin directory watcher started")

	return nil
}

// watchLoop invalidates cache entries on filesystem events.
func (s *Scanner) watchLoop() {
	for {
		select {
		case <-s.watchOff:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.mu.Lock()
			delete(s.cache, event.Name)
			s.mu.Unlock()

			logrus.WithFields(logrus.Fields{
				"function": "Scanner.watchLoop",
				"path":     event.Name,
				"op":       event.Op.String(),
			}).Debug("Plugin directory changed, cache entry dropped")

			if s.OnChange != nil {
				s.OnChange()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "Scanner.watchLoop",
				"error":    err.Error(),
			}).Warn("Plugin directory watcher error")
		}
	}
}

// Close stops the watcher if one is running.
func (s *Scanner) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.watchOff)
	return s.watcher.Close()
}
