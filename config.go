package worker

import "time"

// Config holds per-worker runtime configuration. It replaces the
// teacher's EngineConfig, trading fetch/pool fields for the event-loop
// knobs this spec actually needs.
type Config struct {
	// MemoryLimitMB bounds the engine's heap, where the backend supports
	// it (V8 does; QuickJS enforces it via its own memory limit API).
	MemoryLimitMB int
	// InitTimeout bounds how long NewWorker waits for engine
	// initialization before reporting failure.
	InitTimeout time.Duration
	// MaxScriptSizeKB bounds the bundled script size LoadScript accepts.
	MaxScriptSizeKB int
	// EnableTrace turns on the optional brotli-compressed message trace
	// recorder (internal/trace). Off by default.
	EnableTrace bool
	// TracePath, when EnableTrace is true, is the file the trace recorder
	// appends to.
	TracePath string
}

// DefaultConfig returns the configuration NewWorker starts from before
// applying its options.
func DefaultConfig() Config {
	return Config{
		MemoryLimitMB:   128,
		InitTimeout:     5 * time.Second,
		MaxScriptSizeKB: 10 * 1024,
	}
}

// Option mutates a Config. Following the teacher's pool.go setup-function
// convention, options compose left to right over DefaultConfig.
type Option func(*Config)

// WithMemoryLimitMB overrides the per-worker engine memory limit.
func WithMemoryLimitMB(mb int) Option {
	return func(c *Config) { c.MemoryLimitMB = mb }
}

// WithInitTimeout overrides how long worker construction waits for the
// engine to initialize.
func WithInitTimeout(d time.Duration) Option {
	return func(c *Config) { c.InitTimeout = d }
}

// WithMaxScriptSizeKB overrides the maximum accepted bundled script size.
func WithMaxScriptSizeKB(kb int) Option {
	return func(c *Config) { c.MaxScriptSizeKB = kb }
}

// WithTrace enables the message trace recorder, appending to path.
func WithTrace(path string) Option {
	return func(c *Config) { c.EnableTrace = true; c.TracePath = path }
}

func applyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
