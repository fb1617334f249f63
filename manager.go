package worker

import (
	"sync"

	"github.com/jsworker/runtime/internal/scriptcache"
)

// Manager owns a mapping from WorkerID to Worker, protected by one
// mutex held only for the delegation itself, never while an engine
// evaluates (spec.md §4.3/§5).
type Manager struct {
	mu       sync.Mutex
	workers  map[WorkerID]*Worker
	factory  EngineFactory
	cfg      Config
	opts     []Option
	callback Callbacks
	cache    *scriptcache.Cache
}

// ManagerOption mutates a Manager at construction time, following the
// Config Option convention.
type ManagerOption func(*Manager)

// WithEngineFactory overrides the engine backend new workers use.
// Defaults to DefaultEngineFactory (selected by the v8 build tag).
func WithEngineFactory(f EngineFactory) ManagerOption {
	return func(m *Manager) { m.factory = f }
}

// WithWorkerOptions sets the Config options applied to every worker this
// manager creates.
func WithWorkerOptions(opts ...Option) ManagerOption {
	return func(m *Manager) { m.opts = opts }
}

// WithScriptCache backs CreateWorker with a content-hash-keyed cache of
// bundled source at dbPath (created if absent), so recreating a worker
// with identical source — even after a restart — skips re-bundling.
// Additive: CreateWorker's contract (spec.md §4.3) is unchanged whether
// or not this option is set.
func WithScriptCache(dbPath string) ManagerOption {
	return func(m *Manager) {
		cache, err := scriptcache.Open(dbPath)
		if err != nil {
			// Degrade to no cache rather than fail NewManager, which has
			// no error return; CreateWorker still bundles on every call.
			return
		}
		m.cache = cache
	}
}

// NewManager constructs an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		workers: make(map[WorkerID]*Worker),
		factory: DefaultEngineFactory,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetMessageCallback replaces the on_message callback. Visible only to
// workers created afterwards — captured at each worker's construction.
func (m *Manager) SetMessageCallback(cb func(id WorkerID, text string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback.OnMessage = cb
}

// SetBinaryMessageCallback replaces the on_binary_message callback.
func (m *Manager) SetBinaryMessageCallback(cb func(id WorkerID, data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback.OnBinaryMessage = cb
}

// SetConsoleCallback replaces the on_console callback.
func (m *Manager) SetConsoleCallback(cb func(id WorkerID, level, text string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback.OnConsole = cb
}

// SetErrorCallback replaces the on_error callback.
func (m *Manager) SetErrorCallback(cb func(id WorkerID, message string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback.OnError = cb
}

// CreateWorker constructs a worker under id, bundles and loads src, and
// registers it. Fails with AlreadyExists if id is already present; on
// script failure the half-constructed worker is terminated and the
// failure is reported as ScriptLoadFailed (spec.md §4.3).
func (m *Manager) CreateWorker(id WorkerID, src string) error {
	m.mu.Lock()
	if _, exists := m.workers[id]; exists {
		m.mu.Unlock()
		return errAlreadyExists(id)
	}
	factory, opts, cb, cache := m.factory, m.opts, m.callback, m.cache
	m.mu.Unlock()

	bundled, err := m.bundleWithCache(cache, src)
	if err != nil {
		return errScriptLoadFailed(id, err.Error())
	}

	w, err := NewWorker(id, factory, cb, opts...)
	if err != nil {
		return errScriptLoadFailed(id, err.Error())
	}

	if !w.LoadScript(bundled) {
		w.Terminate()
		return errScriptLoadFailed(id, "script evaluation failed")
	}

	m.mu.Lock()
	if _, exists := m.workers[id]; exists {
		m.mu.Unlock()
		w.Terminate()
		return errAlreadyExists(id)
	}
	m.workers[id] = w
	m.mu.Unlock()
	return nil
}

// bundleWithCache bundles src, consulting cache first when one is
// configured. A cache miss bundles normally and stores the result; a
// lookup error is treated as a miss and a store error is ignored, so
// neither fails the call.
func (m *Manager) bundleWithCache(cache *scriptcache.Cache, src string) (string, error) {
	if cache == nil {
		return bundleSource(src)
	}
	if bundled, ok, err := cache.Lookup(src); err == nil && ok {
		return bundled, nil
	}
	bundled, err := bundleSource(src)
	if err != nil {
		return "", err
	}
	_ = cache.Store(src, bundled)
	return bundled, nil
}

// TerminateWorker removes and terminates id, reporting whether it was
// present.
func (m *Manager) TerminateWorker(id WorkerID) bool {
	m.mu.Lock()
	w, ok := m.workers[id]
	if ok {
		delete(m.workers, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	w.Terminate()
	return true
}

// TerminateAll terminates every worker, then clears the map.
func (m *Manager) TerminateAll() {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[WorkerID]*Worker)
	m.mu.Unlock()

	for _, w := range workers {
		w.Terminate()
	}
}

// PostMessage delegates to the worker's text-message path. Returns false
// if the worker is absent or not running.
func (m *Manager) PostMessage(id WorkerID, text string) bool {
	w, ok := m.lookup(id)
	if !ok {
		return false
	}
	return w.PostMessageText(text)
}

// PostMessageBinary delegates to the worker's structured-clone path.
// Returns false if the worker is absent or not running.
func (m *Manager) PostMessageBinary(id WorkerID, data []byte) bool {
	w, ok := m.lookup(id)
	if !ok {
		return false
	}
	return w.PostMessageBinary(data)
}

// EvalScript delegates to the worker's synchronous evaluator.
func (m *Manager) EvalScript(id WorkerID, src string) (string, error) {
	w, ok := m.lookup(id)
	if !ok {
		return "", errWorkerNotFound(id)
	}
	return w.EvalScript(src)
}

// HasWorker reports whether id is registered, running or not.
func (m *Manager) HasWorker(id WorkerID) bool {
	_, ok := m.lookup(id)
	return ok
}

// IsWorkerRunning reports whether id is registered and its event loop is
// active.
func (m *Manager) IsWorkerRunning(id WorkerID) bool {
	w, ok := m.lookup(id)
	return ok && w.IsRunning()
}

// Close terminates every worker and releases the script cache, if one
// was configured via WithScriptCache.
func (m *Manager) Close() error {
	m.TerminateAll()
	m.mu.Lock()
	cache := m.cache
	m.cache = nil
	m.mu.Unlock()
	if cache != nil {
		return cache.Close()
	}
	return nil
}

func (m *Manager) lookup(id WorkerID) (*Worker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	return w, ok
}
