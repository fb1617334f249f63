package worker

import "github.com/jsworker/runtime/clone"

// Re-exported so callers that hold on to a clone.Value (e.g. a custom
// EngineFactory or test helper) don't need to import the clone package
// directly for the common constructors.

type CloneValue = clone.Value
type CloneTag = clone.Tag
type CloneError = clone.CloneError

var (
	CloneWrite = clone.Write
	CloneRead  = clone.Read
)
