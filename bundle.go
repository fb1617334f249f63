package worker

import "github.com/jsworker/runtime/internal/bundle"

// bundleSource transpiles ESM/CommonJS worker source into a plain script,
// per SPEC_FULL.md's bundling addition. Plain scripts with no ESM syntax
// pass through unchanged.
func bundleSource(src string) (string, error) {
	return bundle.Transform(src)
}
