//go:build !v8

package worker

import "github.com/jsworker/runtime/internal/quickjsengine"

// DefaultEngineFactory builds the QuickJS-backed ScriptEngine, the
// default (no-cgo-surprises) backend used when the v8 build tag is not
// set.
func DefaultEngineFactory(cfg Config) (ScriptEngine, error) {
	return quickjsengine.New(quickjsengine.Config{MemoryLimitMB: cfg.MemoryLimitMB})
}
