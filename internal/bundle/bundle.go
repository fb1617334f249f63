// Package bundle transpiles a worker's ESM/CommonJS source into a plain
// script a ScriptEngine can evaluate directly. Unlike the teacher's
// file-based BundleWorkerScript (which bundles a _worker.js entry point
// and its on-disk imports), this module has no filesystem module graph —
// a worker's source arrives as a single in-memory string — so only
// esbuild's single-file transform is used, not its bundler.
package bundle

import (
	"fmt"
	"regexp"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// reExportDefault matches "export default" at the start of a line,
// grounded on pool.go's wrapESModule pattern 1 (the same regex, same name).
var reExportDefault = regexp.MustCompile(`(?m)^export\s+default\s+`)

// needsTransform reports whether source uses ESM import/export syntax
// that a plain script evaluator can't parse directly.
func needsTransform(source string) bool {
	return strings.Contains(source, "export ") ||
		strings.Contains(source, "export{") ||
		strings.Contains(source, "import ") ||
		strings.Contains(source, "import{")
}

// Transform converts ESM worker source into a plain script exposing its
// default export (if any) as globalThis.__worker_export__, generalizing
// the teacher's export-default-as-fetch-handler convention to this
// runtime's message-handler convention: if the resulting export carries
// an `onmessage` or `message` property, it is installed as the worker's
// onmessage handler. Plain scripts with no ESM syntax pass through
// unchanged.
func Transform(source string) (string, error) {
	if !needsTransform(source) {
		return source, nil
	}

	// GlobalName makes esbuild's IIFE output assign the module's exports
	// object (default export under .default) to globalThis.__worker_export__
	// instead of discarding it, which is what installExportHandlerJS reads;
	// grounded on the teacher's WrapESModule (internal/webapi/polyfills.go),
	// which does the same for globalThis.__worker_module__.
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:     esbuild.LoaderJS,
		Format:     esbuild.FormatIIFE,
		GlobalName: "globalThis.__worker_export__",
		Target:     esbuild.ES2022,
	})

	if len(result.Errors) == 0 {
		return string(result.Code) + "\n" + installExportHandlerJS, nil
	}

	// esbuild's IIFE format rejects top-level exports outright; fall back
	// to the teacher's regex rewrite of "export default" into a plain
	// assignment, then retry the transform for any remaining import/export
	// syntax (named exports, bare imports). The installer is appended on
	// every successful path, not just the recursive one, since the plain
	// rewrite alone already satisfies it.
	rewritten := rewriteExportDefault(source)
	if rewritten == source {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("transforming worker script: %s", strings.Join(msgs, "; "))
	}

	if !needsTransform(rewritten) {
		return rewritten + "\n" + installExportHandlerJS, nil
	}

	result = esbuild.Transform(rewritten, esbuild.TransformOptions{
		Loader:     esbuild.LoaderJS,
		Format:     esbuild.FormatIIFE,
		GlobalName: "globalThis.__worker_export__",
		Target:     esbuild.ES2022,
	})
	if len(result.Errors) == 0 {
		return string(result.Code) + "\n" + installExportHandlerJS, nil
	}
	msgs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		msgs = append(msgs, e.Text)
	}
	return "", fmt.Errorf("transforming worker script: %s", strings.Join(msgs, "; "))
}

func rewriteExportDefault(source string) string {
	if loc := reExportDefault.FindStringIndex(source); loc != nil {
		return source[:loc[0]] + "globalThis.__worker_export__ = " + source[loc[1]:]
	}
	return source
}

// installExportHandlerJS wires a transformed default export's onmessage
// (or message) method, if present, to the worker surface's onmessage.
// globalThis.__worker_export__ is either the default export itself (the
// regex-rewrite path assigns it directly) or an ESM namespace object
// carrying it under .default (esbuild's GlobalName output), so both
// shapes are unwrapped before looking for the handler.
const installExportHandlerJS = `
(function() {
	var exp = globalThis.__worker_export__;
	if (!exp) return;
	if (exp.default !== undefined) exp = exp.default;
	var handler = exp.onmessage || exp.message;
	if (typeof handler === "function") {
		globalThis.onmessage = handler.bind(exp);
	}
})();
`
