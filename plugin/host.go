// Package plugin hosts third-party audio effects without letting them
// touch the real-time deadline.
//
// A Loader probes plugin files and instantiates effect instances; the
// Host tracks loaded handles; the Executor runs exactly one instance on
// a dedicated worker goroutine, exchanging buffers with the real-time
// thread through bounded channels with sequence-numbered requests. The
// Scanner discovers plugin files in the well-known directories.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Instance is one loaded effect instance. An instance is exclusively
// owned by the executor worker goroutine that created it; nothing else
// may call Process or Release.
type Instance interface {
	// Info describes the instance.
	Info() Info

	// Process transforms one quantum of mono samples in place. This is
	// the call the executor isolates: it may be slow, blocking, or
	// reentrant-unsafe.
	Process(samples []float32) error

	// SetParameter adjusts a parameter by index.
	SetParameter(index int32, value float32) error

	// Release frees the instance's resources. Always called on the
	// worker goroutine that owns the instance.
	Release() error
}

// Loader probes plugin files and produces instances from them.
type Loader interface {
	// Probe reads metadata without instantiating.
	Probe(path string) (Info, error)

	// Instantiate loads the plugin and returns a live instance. Called
	// on the executor worker goroutine so a slow native load cannot
	// touch the real-time thread.
	Instantiate(path string) (Instance, error)
}

// Handle is an opaque, exclusively-owned reference to a loaded plugin.
//
// The Host creates handles; exactly one Executor may acquire one.
// After Unload every operation fails with ErrPluginUnavailable.
type Handle struct {
	id   uuid.UUID
	path string
	info Info

	mu       sync.Mutex
	owned    bool
	unloaded bool
}

// ID returns the handle's unique identifier, used for log correlation.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Info returns the probed plugin metadata.
func (h *Handle) Info() Info {
	return h.info
}

// Path returns the plugin file location.
func (h *Handle) Path() string {
	return h.path
}

// acquire claims exclusive ownership for an executor.
func (h *Handle) acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.unloaded {
		return ErrPluginUnavailable
	}
	if h.owned {
		return ErrHandleOwned
	}
	h.owned = true
	return nil
}

// release returns ownership, e.g. when an executor shuts down.
func (h *Handle) release() {
	h.mu.Lock()
	h.owned = false
	h.mu.Unlock()
}

// invalidate marks the handle permanently unusable.
func (h *Handle) invalidate() {
	h.mu.Lock()
	h.unloaded = true
	h.mu.Unlock()
}

// valid reports whether the handle can still back an executor.
func (h *Handle) valid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.unloaded
}

// Host validates and tracks loaded plugins.
type Host struct {
	loader Loader

	mu      sync.RWMutex
	handles map[uuid.UUID]*Handle
}

// NewHost creates a plugin host over the given loader.
func NewHost(loader Loader) *Host {
	return &Host{
		loader:  loader,
		handles: make(map[uuid.UUID]*Handle),
	}
}

// Load validates a plugin file and returns a handle for it.
//
// Parameters:
//   - path: Plugin file location; must exist and carry the .so extension
//
// Returns:
//   - *Handle: Handle carrying the probed metadata
//   - error: ErrPluginLoad when the file is missing, malformed or
//     reports no audio outputs
func (h *Host) Load(path string) (*Handle, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Host.Load",
		"path":     path,
	}).Info("Loading plugin")

	if filepath.Ext(path) != ".so" {
		return nil, fmt.Errorf("%w: %s: not a plugin library", ErrPluginLoad, path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPluginLoad, path, err)
	}

	info, err := h.loader.Probe(path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Host.Load",
			"path":     path,
			"error":    err.Error(),
		}).Error("Plugin probe failed")
		return nil, fmt.Errorf("%w: probing %s: %v", ErrPluginLoad, path, err)
	}
	if info.Outputs < 1 {
		return nil, fmt.Errorf("%w: %s reports no audio outputs", ErrPluginLoad, path)
	}

	handle := &Handle{
		id:   uuid.New(),
		path: path,
		info: info,
	}

	h.mu.Lock()
	h.handles[handle.id] = handle
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Host.Load",
		"path":     path,
		"name":     info.Name,
		"vendor":   info.Vendor,
		"category": info.Category.String(),
		"handle":   handle.id.String(),
	}).Info("Plugin loaded")

	return handle, nil
}

// Unload invalidates a handle. Any executor still attached to it keeps
// its already-instantiated instance until its own teardown; new
// acquisitions fail with ErrPluginUnavailable.
func (h *Host) Unload(handle *Handle) error {
	if handle == nil {
		return ErrPluginUnavailable
	}

	h.mu.Lock()
	_, known := h.handles[handle.id]
	delete(h.handles, handle.id)
	h.mu.Unlock()

	if !known {
		return ErrPluginUnavailable
	}
	handle.invalidate()

	logrus.WithFields(logrus.Fields{
		"function": "Host.Unload",
		"handle":   handle.id.String(),
	}).Info("Plugin unloaded")

	return nil
}

// Loaded returns the number of live handles.
func (h *Host) Loaded() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handles)
}

// Loader returns the host's loader, for executor construction.
func (h *Host) Loader() Loader {
	return h.loader
}

// BuiltinLoader serves effect implementations compiled into the binary,
// keyed by plugin file basename. It stands in for a native plugin
// loader in tests and on systems without external plugins; the probe
// and instantiate contract is identical.
type BuiltinLoader struct {
	mu        sync.RWMutex
	factories map[string]func() Instance
}

// NewBuiltinLoader creates a loader with the stock effects registered.
func NewBuiltinLoader() *BuiltinLoader {
	l := &BuiltinLoader{factories: make(map[string]func() Instance)}
	l.Register("phantom_gain.so", func() Instance { return NewGainPlugin() })
	l.Register("phantom_comp.so", func() Instance { return NewCompressorPlugin(48000) })
	return l
}

// Register maps a plugin file basename to an instance factory.
func (l *BuiltinLoader) Register(basename string, factory func() Instance) {
	l.mu.Lock()
	l.factories[basename] = factory
	l.mu.Unlock()
}

// Probe returns metadata for a registered builtin.
func (l *BuiltinLoader) Probe(path string) (Info, error) {
	l.mu.RLock()
	factory, ok := l.factories[filepath.Base(path)]
	l.mu.RUnlock()
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownPlugin, filepath.Base(path))
	}

	instance := factory()
	info := instance.Info()
	info.Path = path
	_ = instance.Release()
	return info, nil
}

// Instantiate creates a fresh instance of a registered builtin.
func (l *BuiltinLoader) Instantiate(path string) (Instance, error) {
	l.mu.RLock()
	factory, ok := l.factories[filepath.Base(path)]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, filepath.Base(path))
	}
	return factory(), nil
}
