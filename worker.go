package worker

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jsworker/runtime/clone"
	"github.com/jsworker/runtime/internal/trace"
)

// Callbacks are the host-supplied hooks a Worker invokes from its own
// thread. Callers must make these thread-safe themselves — a Manager
// typically shares one set across every worker it creates.
type Callbacks struct {
	OnMessage       func(id WorkerID, text string)
	OnBinaryMessage func(id WorkerID, data []byte)
	OnConsole       func(id WorkerID, level, text string)
	OnError         func(id WorkerID, message string)
}

func (c Callbacks) fillDefaults() Callbacks {
	if c.OnMessage == nil {
		c.OnMessage = func(WorkerID, string) {}
	}
	if c.OnBinaryMessage == nil {
		c.OnBinaryMessage = func(WorkerID, []byte) {}
	}
	if c.OnConsole == nil {
		c.OnConsole = func(WorkerID, string, string) {}
	}
	if c.OnError == nil {
		c.OnError = func(WorkerID, string) {}
	}
	return c
}

// Worker owns a single script engine's lifetime: one dedicated OS thread,
// one ScriptEngine, one TaskQueue, driven by the event loop in run/loop.
// The engine is touched only from that thread, except eval_script, which
// acquires engineMu to run synchronously from the calling thread.
type Worker struct {
	id    WorkerID
	cfg   Config
	queue *TaskQueue

	onMessage       func(WorkerID, string)
	onBinaryMessage func(WorkerID, []byte)
	onConsole       func(WorkerID, string, string)
	onError         func(WorkerID, string)

	engineMu sync.Mutex
	engine   ScriptEngine

	tracer *trace.Recorder

	running        atomic.Bool
	closeRequested atomic.Bool
	nextID         atomic.Uint64

	initialized chan struct{}
	initErr     error

	terminateOnce sync.Once
	wg            sync.WaitGroup
}

// NewWorker constructs and starts a worker, blocking until its engine has
// initialized (successfully or not) or cfg.InitTimeout elapses. Matches
// spec.md §4.2: the constructor spawns the worker thread and blocks the
// caller until the worker publishes initialized=true.
func NewWorker(id WorkerID, factory EngineFactory, cb Callbacks, opts ...Option) (*Worker, error) {
	if err := validateWorkerID(id); err != nil {
		return nil, err
	}
	cb = cb.fillDefaults()
	w := &Worker{
		id:              id,
		cfg:             applyOptions(opts...),
		queue:           NewTaskQueue(),
		onMessage:       cb.OnMessage,
		onBinaryMessage: cb.OnBinaryMessage,
		onConsole:       cb.OnConsole,
		onError:         cb.OnError,
		initialized:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run(factory)

	select {
	case <-w.initialized:
	case <-time.After(w.cfg.InitTimeout):
		return w, errRuntimeUnavailable(id)
	}
	if !w.running.Load() {
		return w, errScriptEvaluationError(id, errDetail(w.initErr))
	}
	return w, nil
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ID returns the worker's identifier.
func (w *Worker) ID() WorkerID { return w.id }

// IsRunning reports whether the worker's event loop is still active.
func (w *Worker) IsRunning() bool { return w.running.Load() }

// run is the body of the worker's dedicated OS thread: engine
// construction, bootstrap installation, the event loop, then teardown.
func (w *Worker) run(factory EngineFactory) {
	defer w.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	engine, err := factory(w.cfg)
	if err != nil {
		w.initErr = fmt.Errorf("constructing script engine: %w", err)
		close(w.initialized)
		return
	}
	w.engine = engine

	if w.cfg.EnableTrace {
		rec, err := trace.Open(w.cfg.TracePath, 0)
		if err != nil {
			w.initErr = fmt.Errorf("opening trace recorder: %w", err)
			_ = engine.Close()
			w.engine = nil
			close(w.initialized)
			return
		}
		w.tracer = rec
	}

	if err := installBootstrap(w); err != nil {
		w.initErr = err
		_ = engine.Close()
		w.engine = nil
		close(w.initialized)
		return
	}

	w.running.Store(true)
	close(w.initialized)

	w.loop()

	w.running.Store(false)
	w.engineMu.Lock()
	if w.engine != nil {
		_ = w.engine.Close()
		w.engine = nil
	}
	w.engineMu.Unlock()

	if w.tracer != nil {
		_ = w.tracer.Close()
	}
}

// loop implements the five-step event loop from spec.md §4.2.
func (w *Worker) loop() {
	for {
		if !w.running.Load() || w.closeRequested.Load() {
			return
		}

		wait := w.queue.TimeUntilNext()
		if wait > time.Second {
			wait = time.Second
		}

		task, ok := w.queue.Dequeue(wait)
		if !ok {
			continue
		}

		w.engineMu.Lock()
		w.runTaskSafely(task)
		w.engine.RunMicrotasks()
		w.engineMu.Unlock()

		if !w.running.Load() || w.closeRequested.Load() {
			return
		}
	}
}

// runTaskSafely executes a task's thunk, converting any panic into an
// on_error callback rather than letting it escape the loop (spec.md §4.2
// step 4: "never let an error escape the loop").
func (w *Worker) runTaskSafely(task *Task) {
	defer func() {
		if r := recover(); r != nil {
			w.onError(w.id, fmt.Sprintf("panic in %s task: %v", task.Type, r))
		}
	}()
	task.Execute()
}

// LoadScript evaluates src on the worker thread and reports whether it
// succeeded. Routed through the task queue as an Immediate task rather
// than a dedicated condvar slot, so it composes with the rest of the
// event loop instead of needing its own wakeup path.
func (w *Worker) LoadScript(src string) bool {
	if !w.running.Load() {
		return false
	}
	if limit := w.cfg.MaxScriptSizeKB * 1024; limit > 0 && len(src) > limit {
		w.onError(w.id, fmt.Sprintf("script size %d bytes exceeds limit of %d KB", len(src), w.cfg.MaxScriptSizeKB))
		return false
	}
	done := make(chan bool, 1)
	task := &Task{Type: TaskImmediate, ID: w.nextID.Add(1)}
	task.Execute = func() {
		if err := w.engine.Eval(src); err != nil {
			w.onError(w.id, err.Error())
			done <- false
			return
		}
		done <- true
	}
	w.queue.Enqueue(task)

	select {
	case ok := <-done:
		return ok
	case <-time.After(w.cfg.InitTimeout):
		return false
	}
}

// PostMessageText enqueues a text message: text is parsed as JSON and the
// resulting value (number, string, bool, null, or plain object/array) is
// delivered to the worker's onmessage handlers as e.data. Returns false if
// not running.
func (w *Worker) PostMessageText(text string) bool {
	if !w.running.Load() {
		return false
	}
	if w.tracer != nil {
		_ = w.tracer.RecordText(string(w.id), trace.DirectionInbound, text)
	}
	task := &Task{Type: TaskMessage, ID: w.nextID.Add(1)}
	task.Execute = func() {
		lit, err := json.Marshal(text)
		if err != nil {
			w.onError(w.id, err.Error())
			return
		}
		if err := w.engine.Eval(fmt.Sprintf("__handleMessage(JSON.parse(%s))", lit)); err != nil {
			w.onError(w.id, err.Error())
		}
	}
	w.queue.Enqueue(task)
	return true
}

// PostMessageBinary enqueues a structured-clone message: data is parsed
// with the clone reader, reconstructed into a live script value via
// __cloneDecode, then delivered to onmessage. Returns false if not
// running.
func (w *Worker) PostMessageBinary(data []byte) bool {
	if !w.running.Load() {
		return false
	}
	if w.tracer != nil {
		_ = w.tracer.RecordBinary(string(w.id), trace.DirectionInbound, data)
	}
	task := &Task{Type: TaskMessage, ID: w.nextID.Add(1)}
	task.Execute = func() {
		v, err := clone.Read(data)
		if err != nil {
			w.onError(w.id, err.Error())
			return
		}
		wire, err := encodeBridgeJSON(w.engine, v)
		if err != nil {
			w.onError(w.id, err.Error())
			return
		}
		lit, err := json.Marshal(wire)
		if err != nil {
			w.onError(w.id, err.Error())
			return
		}
		if err := w.engine.Eval(fmt.Sprintf("__handleMessage(__cloneDecode(%s))", lit)); err != nil {
			w.onError(w.id, err.Error())
		}
	}
	w.queue.Enqueue(task)
	return true
}

// EvalScript synchronously evaluates src from the calling thread,
// stringifying the completion value per spec.md §6.3. Serialized against
// in-worker task execution by the engine mutex.
func (w *Worker) EvalScript(src string) (string, error) {
	if !w.running.Load() {
		return "", errRuntimeUnavailable(w.id)
	}

	w.engineMu.Lock()
	defer w.engineMu.Unlock()

	if w.engine == nil {
		return "", errRuntimeUnavailable(w.id)
	}

	lit, err := json.Marshal(src)
	if err != nil {
		return "", errScriptEvaluationError(w.id, err.Error())
	}
	if err := w.engine.Eval(fmt.Sprintf("globalThis.__evalResult = eval(%s);", lit)); err != nil {
		return "", errScriptEvaluationError(w.id, err.Error())
	}
	w.engine.RunMicrotasks()

	result, err := w.engine.EvalString("__stringifyEvalResult(globalThis.__evalResult)")
	if err != nil {
		return "", errScriptEvaluationError(w.id, err.Error())
	}
	return result, nil
}

// Terminate idempotently stops the worker: flips running false, requests
// close, shuts down the task queue (unblocking a pending Dequeue), and
// joins the worker thread, which releases the engine handle itself
// before reporting done. Safe to call from any host thread, any number
// of times.
func (w *Worker) Terminate() {
	w.terminateOnce.Do(func() {
		w.running.Store(false)
		w.closeRequested.Store(true)
		w.queue.Shutdown()
		w.wg.Wait()
	})
}

// requestClose implements the worker-initiated close() surface: the loop
// exits at its next iteration boundary, after any in-flight task
// finishes; queued tasks are dropped (spec.md §4.2).
func (w *Worker) requestClose() {
	w.closeRequested.Store(true)
}

// scheduleTimer registers a new timer task, firing once at now+delay. Its
// id doubles as the task id for cancellation and, for repeating timers,
// is reused across every subsequent re-enqueue.
func (w *Worker) scheduleTimer(delay time.Duration, repeating bool) uint64 {
	id := w.nextID.Add(1)
	task := &Task{Type: TaskTimer, ID: id}
	task.Execute = func() { w.fireTimer(task, delay, repeating) }
	w.queue.EnqueueDelayed(task, delay)
	return id
}

// fireTimer runs a timer's stored JS callback, then — for a repeating
// timer not cancelled during this very firing — re-enqueues the next
// occurrence computed from this firing's scheduled time, not its
// completion time (spec.md §4.2/§9).
func (w *Worker) fireTimer(task *Task, interval time.Duration, repeating bool) {
	if err := w.engine.Eval(timerFireJS(task.ID, repeating)); err != nil {
		w.onError(w.id, err.Error())
	}
	if !repeating {
		return
	}
	if w.queue.ConsumeCancelled(task.ID) || !w.running.Load() {
		return
	}

	next := &Task{Type: TaskTimer, ID: task.ID}
	next.Execute = func() { w.fireTimer(next, interval, repeating) }
	w.queue.EnqueueDelayedAt(next, task.RunAt.Add(interval))
}

// cancelTimer marks a timer id cancelled, resolved lazily at its next
// dequeue or re-enqueue decision.
func (w *Worker) cancelTimer(id uint64) {
	w.queue.Cancel(id)
}
