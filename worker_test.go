package worker

import (
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jsworker/runtime/clone"
)

func testCallbacks(t *testing.T) (Callbacks, *sync.Mutex, *[]string, *[][]byte, *[]string) {
	var mu sync.Mutex
	var messages []string
	var binaryMessages [][]byte
	var errs []string

	cb := Callbacks{
		OnMessage: func(id WorkerID, text string) {
			mu.Lock()
			defer mu.Unlock()
			messages = append(messages, text)
		},
		OnBinaryMessage: func(id WorkerID, data []byte) {
			mu.Lock()
			defer mu.Unlock()
			cp := append([]byte(nil), data...)
			binaryMessages = append(binaryMessages, cp)
		},
		OnError: func(id WorkerID, msg string) {
			mu.Lock()
			defer mu.Unlock()
			errs = append(errs, msg)
			t.Logf("worker %s reported error: %s", id, msg)
		},
	}
	return cb, &mu, &messages, &binaryMessages, &errs
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestWorker_EchoPlusOne(t *testing.T) {
	cb, mu, messages, _, _ := testCallbacks(t)
	w, err := NewWorker(WorkerID("echo"), DefaultEngineFactory, cb)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Terminate()

	if !w.LoadScript(`self.onmessage = function(e) { postMessage(e.data + 1); };`) {
		t.Fatalf("LoadScript failed")
	}
	if !w.PostMessageText("41") {
		t.Fatalf("PostMessageText failed")
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*messages) == 1
	})

	mu.Lock()
	got := (*messages)[0]
	mu.Unlock()
	if got != "42" {
		t.Fatalf("expected %q, got %q", "42", got)
	}
}

func TestWorker_BinaryCloneDoubling(t *testing.T) {
	cb, mu, _, binaryMessages, _ := testCallbacks(t)
	w, err := NewWorker(WorkerID("doubler"), DefaultEngineFactory, cb)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Terminate()

	script := `
self.onmessage = function(e) {
	self.postMessage({ doubled: e.data.n * 2 });
};`
	if !w.LoadScript(script) {
		t.Fatalf("LoadScript failed")
	}

	payload := clone.Object()
	payload.Set("n", clone.Number(21))
	data, err := clone.Write(payload)
	if err != nil {
		t.Fatalf("clone.Write: %v", err)
	}
	if !w.PostMessageBinary(data) {
		t.Fatalf("PostMessageBinary failed")
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*binaryMessages) == 1
	})

	mu.Lock()
	reply := (*binaryMessages)[0]
	mu.Unlock()

	v, err := clone.Read(reply)
	if err != nil {
		t.Fatalf("clone.Read: %v", err)
	}
	if v.Tag != clone.TagObject || len(v.Props) != 1 || v.Props[0].Key != "doubled" {
		t.Fatalf("unexpected reply shape: %+v", v)
	}
	if v.Props[0].Value.Int32 != 42 && v.Props[0].Value.Float != 42 {
		t.Fatalf("expected doubled value 42, got %+v", v.Props[0].Value)
	}
}

func TestWorker_TimersAndCloseSequencing(t *testing.T) {
	cb, mu, messages, _, _ := testCallbacks(t)
	w, err := NewWorker(WorkerID("timers"), DefaultEngineFactory, cb)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Terminate()

	script := `
var count = 0;
var id = setInterval(function() {
	count++;
	postMessage("tick " + count);
	if (count >= 2) {
		clearInterval(id);
		setTimeout(function() {
			postMessage("done");
			close();
		}, 5);
	}
}, 10);`
	if !w.LoadScript(script) {
		t.Fatalf("LoadScript failed")
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*messages) == 3
	})

	mu.Lock()
	got := append([]string(nil), *messages...)
	mu.Unlock()
	want := []string{"tick 1", "tick 2", "done"}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("message %d: expected %q, got %q (all: %v)", i, w, got[i], got)
		}
	}

	waitFor(t, time.Second, func() bool { return !w.IsRunning() })
}

func TestWorker_EvalScriptStringification(t *testing.T) {
	cb, _, _, _, _ := testCallbacks(t)
	w, err := NewWorker(WorkerID("eval"), DefaultEngineFactory, cb)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Terminate()

	if !w.LoadScript(`// empty worker`) {
		t.Fatalf("LoadScript failed")
	}

	cases := []struct {
		src  string
		want string
	}{
		{`"hello"`, "hello"},
		{`true`, "true"},
		{`false`, "false"},
		{`null`, "null"},
		{`undefined`, "undefined"},
		{`1 + 2`, "3"},
		{`({a:1})`, `{"a":1}`},
	}
	for _, c := range cases {
		got, err := w.EvalScript(c.src)
		if err != nil {
			t.Fatalf("EvalScript(%q): %v", c.src, err)
		}
		if got != c.want {
			t.Errorf("EvalScript(%q) = %q, want %q", c.src, got, c.want)
		}
	}
}

func TestWorker_UncloneableValueSurfacesAsError(t *testing.T) {
	cb, mu, _, _, errs := testCallbacks(t)
	w, err := NewWorker(WorkerID("uncloneable"), DefaultEngineFactory, cb)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Terminate()

	if !w.LoadScript(`self.onmessage = function(e) {};`) {
		t.Fatalf("LoadScript failed")
	}

	if !w.PostMessageText(`"go"`) {
		t.Fatalf("PostMessageText failed")
	}

	// Cloning a Function throws synchronously inside postMessage, so the
	// script evaluation itself fails and is reported via on_error rather
	// than crashing the worker.
	if w.LoadScript(`postMessage(function(){});`) {
		t.Fatalf("expected LoadScript to report failure for an uncloneable postMessage value")
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*errs) >= 1
	})

	mu.Lock()
	joined := strings.Join(*errs, "; ")
	mu.Unlock()
	if !strings.Contains(strings.ToLower(joined), "clone") && !strings.Contains(strings.ToLower(joined), "function") {
		t.Fatalf("expected a clone/function related error, got: %s", joined)
	}
}

func TestWorker_CyclicObjectBinaryRoundTrip(t *testing.T) {
	cb, mu, _, binaryMessages, _ := testCallbacks(t)
	w, err := NewWorker(WorkerID("cyclic"), DefaultEngineFactory, cb)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Terminate()

	script := `
self.onmessage = function(e) {
	var obj = e.data;
	self.postMessage({ identical: obj.self === obj });
};`
	if !w.LoadScript(script) {
		t.Fatalf("LoadScript failed")
	}

	cyclic := clone.Object()
	cyclic.Set("self", cyclic)
	data, err := clone.Write(cyclic)
	if err != nil {
		t.Fatalf("clone.Write: %v", err)
	}
	if !w.PostMessageBinary(data) {
		t.Fatalf("PostMessageBinary failed")
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*binaryMessages) == 1
	})

	mu.Lock()
	reply := (*binaryMessages)[0]
	mu.Unlock()

	v, err := clone.Read(reply)
	if err != nil {
		t.Fatalf("clone.Read: %v", err)
	}
	if v.Tag != clone.TagObject || len(v.Props) != 1 || v.Props[0].Key != "identical" {
		t.Fatalf("unexpected reply shape: %+v", v)
	}
	if v.Props[0].Value.Tag != clone.TagBoolTrue {
		t.Fatalf("expected cyclic self-reference to round-trip as identical, got %+v", v.Props[0].Value)
	}
}

func TestWorker_TerminateIsIdempotent(t *testing.T) {
	cb, _, _, _, _ := testCallbacks(t)
	w, err := NewWorker(WorkerID("term"), DefaultEngineFactory, cb)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	w.Terminate()
	w.Terminate()
	if w.IsRunning() {
		t.Fatalf("expected worker to report not running after Terminate")
	}
}

func TestWorker_IntervalSchedulingBase(t *testing.T) {
	cb, mu, messages, _, _ := testCallbacks(t)
	w, err := NewWorker(WorkerID("interval-base"), DefaultEngineFactory, cb)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Terminate()

	// A handler that sleeps is simulated by doing enough synchronous work
	// that if rescheduling were "from completion time", the next tick
	// would land measurably later. With a 100ms interval and 150ms of
	// work per tick, ticks start at about 100, 250 and 400ms when each
	// fire is scheduled from the previous scheduled time, and at about
	// 100, 350 and 600ms when scheduled from completion.
	script := `
var n = 0;
var start = Date.now();
var id = setInterval(function() {
	n++;
	postMessage(String(Date.now() - start));
	var busyUntil = Date.now() + 150;
	while (Date.now() < busyUntil) {}
	if (n >= 3) { clearInterval(id); }
}, 100);`
	if !w.LoadScript(script) {
		t.Fatalf("LoadScript failed")
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*messages) == 3
	})

	mu.Lock()
	third, err := strconv.Atoi((*messages)[2])
	mu.Unlock()
	if err != nil {
		t.Fatalf("parsing third tick time: %v", err)
	}
	if third >= 500 {
		t.Fatalf("expected the third tick to start about 400ms after start (rescheduled from the previous scheduled time), got %dms", third)
	}
}
