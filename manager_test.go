package worker

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestManager_CreateWorkerAndDeliverMessages(t *testing.T) {
	m := NewManager()
	defer m.Close()

	var mu sync.Mutex
	var received []string
	m.SetMessageCallback(func(id WorkerID, text string) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, text)
	})

	id := WorkerID("w1")
	if err := m.CreateWorker(id, `self.onmessage = function(e) { postMessage("got:" + e.data); };`); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}
	if !m.HasWorker(id) {
		t.Fatalf("expected HasWorker true after creation")
	}
	if !m.IsWorkerRunning(id) {
		t.Fatalf("expected IsWorkerRunning true after creation")
	}

	if !m.PostMessage(id, `"hi"`) {
		t.Fatalf("PostMessage failed")
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	got := received[0]
	mu.Unlock()
	if got != "got:hi" {
		t.Fatalf("expected %q, got %q", "got:hi", got)
	}
}

func TestManager_CreateWorkerAlreadyExists(t *testing.T) {
	m := NewManager()
	defer m.Close()

	id := WorkerID("dup")
	if err := m.CreateWorker(id, `self.onmessage = function(e) {};`); err != nil {
		t.Fatalf("first CreateWorker: %v", err)
	}
	err := m.CreateWorker(id, `self.onmessage = function(e) {};`)
	if err == nil {
		t.Fatalf("expected second CreateWorker with the same id to fail")
	}
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestManager_TerminateWorkerAndTerminateAll(t *testing.T) {
	m := NewManager()
	defer m.Close()

	ids := []WorkerID{"a", "b", "c"}
	for _, id := range ids {
		if err := m.CreateWorker(id, `self.onmessage = function(e) {};`); err != nil {
			t.Fatalf("CreateWorker(%s): %v", id, err)
		}
	}

	if !m.TerminateWorker("a") {
		t.Fatalf("expected TerminateWorker(a) to report true")
	}
	if m.TerminateWorker("a") {
		t.Fatalf("expected second TerminateWorker(a) to report false")
	}
	if m.HasWorker("a") {
		t.Fatalf("expected HasWorker(a) false after termination")
	}

	m.TerminateAll()
	for _, id := range ids {
		if m.HasWorker(id) {
			t.Fatalf("expected HasWorker(%s) false after TerminateAll", id)
		}
	}
}

func TestManager_PostMessageToUnknownWorkerFails(t *testing.T) {
	m := NewManager()
	defer m.Close()

	if m.PostMessage("ghost", "hi") {
		t.Fatalf("expected PostMessage to an unregistered worker to fail")
	}
	if m.PostMessageBinary("ghost", []byte{0x01}) {
		t.Fatalf("expected PostMessageBinary to an unregistered worker to fail")
	}
	if _, err := m.EvalScript("ghost", "1+1"); !errors.Is(err, ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound, got %v", err)
	}
}

func TestManager_ScriptCacheSkipsRebundling(t *testing.T) {
	m := NewManager(WithScriptCache(":memory:"))
	defer m.Close()

	src := `self.onmessage = function(e) { postMessage("bundled"); };`

	if err := m.CreateWorker("first", src); err != nil {
		t.Fatalf("CreateWorker(first): %v", err)
	}
	// The first CreateWorker stored the bundled output, so the second
	// CreateWorker with the same source finds it and skips the bundler.
	// Worker behavior is identical either way; what is checked is that
	// the entry is there to hit and that creation still works.
	if bundled, ok, err := m.cache.Lookup(src); err != nil || !ok || bundled == "" {
		t.Fatalf("expected a cached bundle for src after the first CreateWorker, got ok=%v err=%v", ok, err)
	}
	if err := m.CreateWorker("second", src); err != nil {
		t.Fatalf("CreateWorker(second): %v", err)
	}

	if !m.HasWorker("first") || !m.HasWorker("second") {
		t.Fatalf("expected both workers to be registered")
	}
}

func TestManager_ConsoleAndErrorCallbacks(t *testing.T) {
	m := NewManager()
	defer m.Close()

	var mu sync.Mutex
	var consoleMsgs []string
	var errMsgs []string
	m.SetConsoleCallback(func(id WorkerID, level, text string) {
		mu.Lock()
		defer mu.Unlock()
		consoleMsgs = append(consoleMsgs, level+":"+text)
	})
	m.SetErrorCallback(func(id WorkerID, message string) {
		mu.Lock()
		defer mu.Unlock()
		errMsgs = append(errMsgs, message)
	})

	if err := m.CreateWorker("logger", `console.log("hello", "world"); setTimeout(function() { throw new Error("boom"); }, 0);`); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(consoleMsgs) == 1 && len(errMsgs) == 1
	})

	mu.Lock()
	got := consoleMsgs[0]
	gotErr := errMsgs[0]
	mu.Unlock()
	if got != "log:hello world" {
		t.Fatalf("expected %q, got %q", "log:hello world", got)
	}
	if !strings.Contains(gotErr, "boom") {
		t.Fatalf("expected the error callback to report %q, got %q", "boom", gotErr)
	}
}
