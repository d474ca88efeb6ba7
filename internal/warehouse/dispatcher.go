package warehouse

import (
	"sync"
	"sync/atomic"
)

// Dispatcher is a FIFO queue of open tasks, each with its own concurrency
// cap. Loaders block in Acquire until a task has spare capacity or the
// dispatcher is shut down; a task is removed only once it is marked
// complete and its last active loader has called Finish.
//
// Locking: one mutex guards the queue and the completion bookkeeping.
// active counts are atomic so a loader can check "am I the last worker"
// without holding the lock, but the decision to mark-complete-then-remove
// is always made under it.
type Dispatcher struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    []*Task
	stopping bool
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Enqueue appends a task and wakes one waiting loader.
func (d *Dispatcher) Enqueue(t *Task) {
	d.mu.Lock()
	d.tasks = append(d.tasks, t)
	d.mu.Unlock()
	d.cond.Signal()
}

// Acquire blocks until a task with spare capacity exists, or the
// dispatcher is shut down (in which case it returns nil). The returned
// task's active count has already been incremented; the caller must pair
// the call with exactly one Finish.
func (d *Dispatcher) Acquire() *Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	task := d.acquireLocked()
	for task == nil && !d.stopping {
		d.cond.Wait()
		task = d.acquireLocked()
	}
	if d.stopping {
		return nil
	}
	return task
}

func (d *Dispatcher) acquireLocked() *Task {
	for _, t := range d.tasks {
		if t == nil || t.isCompleted() {
			continue
		}
		if t.active() < t.MaxParallelLoaders {
			atomic.AddInt32(&t.activeLoaders, 1)
			return t
		}
	}
	return nil
}

// Finish decrements the task's active count. If the task is complete and
// this was its last active loader, the task is removed from the queue.
// Wakes every waiter, since capacity may have opened on more than one task.
func (d *Dispatcher) Finish(t *Task) {
	if t == nil {
		return
	}

	d.mu.Lock()
	atomic.AddInt32(&t.activeLoaders, -1)
	if t.isCompleted() && t.active() == 0 {
		d.removeLocked(t)
	}
	d.mu.Unlock()
	d.cond.Broadcast()
}

func (d *Dispatcher) removeLocked(t *Task) {
	for i, other := range d.tasks {
		if other == t {
			d.tasks = append(d.tasks[:i], d.tasks[i+1:]...)
			return
		}
	}
}

// Shutdown sets the terminal flag and wakes every waiter so loaders can
// observe it and exit.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.stopping = true
	d.mu.Unlock()
	d.cond.Broadcast()
}

// Size returns the current task count. Advisory only — used by managers to
// throttle order generation under backpressure.
func (d *Dispatcher) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

// ActiveTaskCount returns how many open tasks currently have at least one
// active loader, for the active-task gauge.
func (d *Dispatcher) ActiveTaskCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.tasks {
		if t != nil && t.active() > 0 {
			n++
		}
	}
	return n
}
