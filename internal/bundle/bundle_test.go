//go:build !v8

package bundle

import (
	"strings"
	"testing"

	"github.com/jsworker/runtime/internal/quickjsengine"
)

func TestTransform_PlainScriptPassesThroughUnchanged(t *testing.T) {
	src := `self.onmessage = function(e) { postMessage(e.data); };`
	got, err := Transform(src)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got != src {
		t.Fatalf("expected plain script unchanged, got %q", got)
	}
}

// runTransformed feeds transformed source through a real QuickJS VM, then
// invokes globalThis.onmessage (as the worker surface would) and returns
// whatever it assigned to globalThis.__result__, proving the handler is
// actually reachable rather than merely present as text in the output.
func runTransformed(t *testing.T, transformed string) string {
	t.Helper()
	eng, err := quickjsengine.New(quickjsengine.Config{})
	if err != nil {
		t.Fatalf("quickjsengine.New: %v", err)
	}
	defer eng.Close()

	if err := eng.Eval(transformed); err != nil {
		t.Fatalf("evaluating transformed source: %v", err)
	}
	if err := eng.Eval(`
		if (typeof globalThis.onmessage !== "function") {
			throw new Error("globalThis.onmessage was never installed");
		}
		globalThis.onmessage({data: "ping"});
	`); err != nil {
		t.Fatalf("invoking globalThis.onmessage: %v", err)
	}
	got, err := eng.EvalString("globalThis.__result__")
	if err != nil {
		t.Fatalf("reading __result__: %v", err)
	}
	return got
}

func TestTransform_ExportDefaultObjectWiresOnmessage(t *testing.T) {
	src := `export default {
	onmessage: function(e) { globalThis.__result__ = "handled:" + e.data; }
};`
	got, err := Transform(src)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got == src {
		t.Fatalf("expected ESM source to be rewritten")
	}
	if !strings.Contains(got, "__worker_export__") {
		t.Fatalf("expected rewritten output to reference __worker_export__, got: %s", got)
	}

	if result := runTransformed(t, got); result != "handled:ping" {
		t.Fatalf("expected the bundled export default's onmessage to fire and set __result__ to %q, got %q", "handled:ping", result)
	}
}

// TestRewriteExportDefault_InstallerWiresOnmessage drives the regex
// fallback's own output end to end, independent of whether esbuild happens
// to accept the source first: rewriteExportDefault's direct assignment to
// globalThis.__worker_export__, with installExportHandlerJS appended, must
// wire onmessage on its own, since this is the combination Transform's
// fallback branch relies on once esbuild rejects a script outright.
func TestRewriteExportDefault_InstallerWiresOnmessage(t *testing.T) {
	src := "export default { onmessage: function(e) { globalThis.__result__ = \"fallback:\" + e.data; } };"
	rewritten := rewriteExportDefault(src)
	if rewritten == src {
		t.Fatalf("expected rewriteExportDefault to rewrite the export default line")
	}

	got := rewritten + "\n" + installExportHandlerJS
	if result := runTransformed(t, got); result != "fallback:ping" {
		t.Fatalf("expected the fallback-wired onmessage to fire and set __result__ to %q, got %q", "fallback:ping", result)
	}
}

func TestRewriteExportDefault_FallbackRegex(t *testing.T) {
	src := "export default { onmessage: function(e) {} };"
	got := rewriteExportDefault(src)
	if got == src {
		t.Fatalf("expected rewriteExportDefault to rewrite the export default line")
	}
	if strings.Contains(got, "export default") {
		t.Fatalf("expected export default to be removed, got: %s", got)
	}
	if !strings.Contains(got, "globalThis.__worker_export__ =") {
		t.Fatalf("expected assignment to __worker_export__, got: %s", got)
	}
}

func TestNeedsTransform(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{`self.onmessage = function(e) {};`, false},
		{`export default {};`, true},
		{`import { x } from "y";`, true},
		{`export { x };`, true},
	}
	for _, c := range cases {
		if got := needsTransform(c.src); got != c.want {
			t.Errorf("needsTransform(%q) = %v, want %v", c.src, got, c.want)
		}
	}
}

