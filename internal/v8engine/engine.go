//go:build v8

// Package v8engine provides the V8-backed ScriptEngine: one isolate and
// context per worker, created fresh (no pooling — a worker's engine
// lives as long as the worker does, unlike the teacher's per-request
// pool of pre-warmed isolates).
package v8engine

import (
	v8 "github.com/tommie/v8go"
)

// Config configures a single engine instance.
type Config struct {
	MemoryLimitMB int
}

// Engine is a single V8 isolate+context pair, implementing
// worker.ScriptEngine via the embedded *v8Runtime.
type Engine struct {
	*v8Runtime
	iso *v8.Isolate
	ctx *v8.Context
}

// New constructs a fresh V8 isolate and context.
func New(cfg Config) (*Engine, error) {
	var iso *v8.Isolate
	if cfg.MemoryLimitMB > 0 {
		heapSize := uint64(cfg.MemoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)
	rt := &v8Runtime{iso: iso, ctx: ctx}
	return &Engine{v8Runtime: rt, iso: iso, ctx: ctx}, nil
}

// Close releases the isolate and context. Must be called exactly once,
// from the worker's own thread, after its event loop has exited.
func (e *Engine) Close() error {
	e.ctx.Close()
	e.iso.Dispose()
	return nil
}
