package worker

import "github.com/jsworker/runtime/internal/core"

// ScriptEngine is the surface a Worker drives. It is deliberately thin:
// everything the event loop needs is evaluate-a-string, register-a-Go-
// function, set-a-global, and pump-the-microtask-queue. The embedded
// script engine itself is an external collaborator (V8 or QuickJS today);
// new backends only need to satisfy this interface.
type ScriptEngine interface {
	core.JSRuntime
	core.BinaryTransferer

	// Close releases the engine's native resources. Called exactly once,
	// from the worker's own thread, after the event loop has exited.
	Close() error
}

// EngineFactory constructs a ScriptEngine for a single worker. The
// returned engine is touched only from the thread that called the
// factory — see Worker's event loop — except by Worker.EvalScript, which
// runs it on the calling thread while holding the worker's engine mutex.
type EngineFactory func(cfg Config) (ScriptEngine, error)
