//go:build v8

package worker

import "github.com/jsworker/runtime/internal/v8engine"

// DefaultEngineFactory builds the V8-backed ScriptEngine, selected when
// this module is built with -tags v8.
func DefaultEngineFactory(cfg Config) (ScriptEngine, error) {
	return v8engine.New(v8engine.Config{MemoryLimitMB: cfg.MemoryLimitMB})
}
