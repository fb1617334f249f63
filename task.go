package worker

import "time"

// TaskType classifies why a task was scheduled, per spec.md §3.
type TaskType int

const (
	TaskMessage TaskType = iota
	TaskTimer
	TaskImmediate
	TaskClose
)

func (t TaskType) String() string {
	switch t {
	case TaskMessage:
		return "Message"
	case TaskTimer:
		return "Timer"
	case TaskImmediate:
		return "Immediate"
	case TaskClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// Task is a single unit of work owned, at any moment, by exactly one of:
// the caller that created it, the queue that holds it, or the event loop
// currently executing it.
type Task struct {
	Type    TaskType
	ID      uint64
	RunAt   time.Time
	Execute func()

	// seq breaks ties between delayed tasks sharing the same RunAt,
	// preserving FIFO order among equal timestamps (spec.md §4.1).
	seq uint64
	// heapIndex is maintained by container/heap; unused by callers.
	heapIndex int
}
