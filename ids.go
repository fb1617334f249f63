package worker

import (
	"fmt"

	"github.com/google/uuid"
)

// WorkerID is an opaque, non-empty string, unique within a Manager for a
// worker's lifetime (spec.md §3). Any non-empty string is a valid id;
// NewWorkerID is a convenience for callers who don't want to choose one.
type WorkerID string

// NewWorkerID returns a fresh random id, for callers that don't need a
// caller-chosen name.
func NewWorkerID() WorkerID {
	return WorkerID(uuid.NewString())
}

func validateWorkerID(id WorkerID) error {
	if id == "" {
		return fmt.Errorf("worker id must not be empty")
	}
	return nil
}
