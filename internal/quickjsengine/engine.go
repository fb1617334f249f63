//go:build !v8

// Package quickjsengine provides the QuickJS-backed ScriptEngine: one VM
// per worker, created fresh (no pooling — a worker's engine lives as long
// as the worker does, unlike the teacher's per-request pool of pre-warmed
// VMs).
package quickjsengine

import (
	"fmt"

	"modernc.org/quickjs"
)

// Config configures a single engine instance.
type Config struct {
	MemoryLimitMB int
}

// Engine is a single QuickJS VM, implementing worker.ScriptEngine via the
// embedded *qjsRuntime.
type Engine struct {
	*qjsRuntime
	vm *quickjs.VM
}

// New constructs a fresh QuickJS VM.
func New(cfg Config) (*Engine, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}

	if cfg.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(cfg.MemoryLimitMB) * 1024 * 1024)
	}

	rt := &qjsRuntime{vm: vm}
	if err := rt.initBinaryTransfer(); err != nil {
		vm.Close()
		return nil, fmt.Errorf("initializing binary transfer: %w", err)
	}

	return &Engine{qjsRuntime: rt, vm: vm}, nil
}

// Close releases the VM. Must be called exactly once, from the worker's own
// thread, after its event loop has exited.
func (e *Engine) Close() error {
	e.vm.Close()
	return nil
}
