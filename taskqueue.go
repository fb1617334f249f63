package worker

import (
	"container/heap"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/exp/constraints"
)

// lessOrdered is the generic ordering primitive delayedHeap.Less
// delegates to, bounded by constraints.Ordered so it applies equally to
// the int64 run_at instant and the uint64 insertion sequence.
func lessOrdered[T constraints.Ordered](a, b T) bool { return a < b }

// delayedHeap is a container/heap.Interface over *Task, ordered by RunAt
// then by insertion sequence, so equal timestamps preserve FIFO order
// (spec.md §4.1).
type delayedHeap []*Task

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	ai, aj := h[i].RunAt.UnixNano(), h[j].RunAt.UnixNano()
	if ai == aj {
		return lessOrdered(h[i].seq, h[j].seq)
	}
	return lessOrdered(ai, aj)
}
func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex, h[j].heapIndex = i, j
}
func (h *delayedHeap) Push(x any) {
	t := x.(*Task)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// TaskQueue is the thread-safe priority queue described in spec.md §4.1:
// a FIFO of immediate tasks and a min-heap of delayed tasks, a set of
// cancelled ids resolved lazily at dequeue, and a shutdown flag, all
// protected by one mutex and one condvar.
type TaskQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	immediate []*Task
	delayed   delayedHeap
	cancelled *bitset.BitSet
	shutdown  bool
	nextSeq   uint64
}

// NewTaskQueue constructs an empty, running TaskQueue.
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{cancelled: bitset.New(64)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue schedules task to run as soon as it reaches the front of the
// immediate FIFO. RunAt is set to now for callers that inspect it.
func (q *TaskQueue) Enqueue(task *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task.RunAt = time.Now()
	task.seq = q.nextSeq
	q.nextSeq++
	q.immediate = append(q.immediate, task)
	q.cond.Broadcast()
}

// EnqueueDelayed schedules task to run no earlier than now+delay.
func (q *TaskQueue) EnqueueDelayed(task *Task, delay time.Duration) {
	q.EnqueueDelayedAt(task, time.Now().Add(delay))
}

// EnqueueDelayedAt schedules task to run no earlier than runAt. Used by
// setInterval's rescheduling, which computes the next fire from the
// previous fire's scheduling time rather than from now (spec.md §4.2/§9).
func (q *TaskQueue) EnqueueDelayedAt(task *Task, runAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task.RunAt = runAt
	task.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.delayed, task)
	q.cond.Broadcast()
}

// Cancel marks id cancelled. Idempotent; always "succeeds" because
// cancellation is resolved lazily at dequeue, per spec.md §4.1.
func (q *TaskQueue) Cancel(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled.Set(uint(id))
}

// Dequeue blocks until a runnable task is ready, maxWait elapses, or the
// queue is shut down, implementing the five-step selection rule from
// spec.md §4.1. Returns (task, true) or (nil, false).
func (q *TaskQueue) Dequeue(maxWait time.Duration) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	deadline := time.Now().Add(maxWait)
	for {
		if q.shutdown {
			return nil, false
		}

		for len(q.immediate) > 0 {
			t := q.immediate[0]
			q.immediate = q.immediate[1:]
			if q.cancelled.Test(uint(t.ID)) {
				q.cancelled.Clear(uint(t.ID))
				continue
			}
			return t, true
		}

		for q.delayed.Len() > 0 && q.cancelled.Test(uint(q.delayed[0].ID)) {
			t := heap.Pop(&q.delayed).(*Task)
			q.cancelled.Clear(uint(t.ID))
		}

		now := time.Now()
		if q.delayed.Len() > 0 && !q.delayed[0].RunAt.After(now) {
			return heap.Pop(&q.delayed).(*Task), true
		}

		wakeAt := deadline
		if q.delayed.Len() > 0 && q.delayed[0].RunAt.Before(wakeAt) {
			wakeAt = q.delayed[0].RunAt
		}
		wait := wakeAt.Sub(now)
		if wait <= 0 {
			return nil, false
		}
		q.condWaitUntil(wakeAt)
	}
}

// condWaitUntil blocks on the condvar until another call broadcasts
// (Enqueue, EnqueueDelayed, Cancel's sibling calls, or Shutdown) or until
// wakeAt passes, whichever comes first. The mutex must be held on entry
// and is held again on return.
func (q *TaskQueue) condWaitUntil(wakeAt time.Time) {
	timer := time.AfterFunc(time.Until(wakeAt), func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()
	q.cond.Wait()
}

// TimeUntilNext reports how long until the next task becomes runnable: 0
// if anything is immediately ready, otherwise the gap until the earliest
// delayed task, otherwise time.Duration's maximum value.
func (q *TaskQueue) TimeUntilNext() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.immediate) > 0 {
		return 0
	}
	now := time.Now()
	for q.delayed.Len() > 0 {
		top := q.delayed[0]
		if q.cancelled.Test(uint(top.ID)) {
			heap.Pop(&q.delayed)
			q.cancelled.Clear(uint(top.ID))
			continue
		}
		if !top.RunAt.After(now) {
			return 0
		}
		return top.RunAt.Sub(now)
	}
	return time.Duration(1<<63 - 1)
}

// ConsumeCancelled reports whether id has been cancelled, clearing the
// mark if so. A repeating timer's thunk calls this immediately after
// firing to decide whether a cancellation observed during this firing
// should prevent the next re-enqueue (spec.md §4.2/§5).
func (q *TaskQueue) ConsumeCancelled(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancelled.Test(uint(id)) {
		q.cancelled.Clear(uint(id))
		return true
	}
	return false
}

// Shutdown sets the shutdown flag and wakes every waiter. Pending tasks
// are dropped, not drained, per spec.md §4.1.
func (q *TaskQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutdown = true
	q.cond.Broadcast()
}
