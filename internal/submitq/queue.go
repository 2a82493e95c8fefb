// Package submitq implements a blocking submission queue: Put, Get
// (blocking), TaskDone, Join, with a nil sentinel reserved for pool
// shutdown.
package submitq

import (
	"container/list"
	"sync"

	"github.com/mwiebe/procpool/pkg/task"
)

// Queue is an unbounded, blocking FIFO of *task.Task (Put/Get/TaskDone/
// Join). A nil Task is the reserved shutdown sentinel: the scheduler
// loop treats a nil Get result as "stop".
type Queue struct {
	mu         sync.Mutex
	notEmpty   *sync.Cond
	items      *list.List
	unfinished int
	wg         sync.WaitGroup
}

// New creates an empty Queue.
func New() *Queue {
	q := &Queue{items: list.New()}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Put appends t (or nil, the shutdown sentinel) to the queue and wakes one
// blocked Get.
func (q *Queue) Put(t *task.Task) {
	q.mu.Lock()
	q.items.PushBack(t)
	q.unfinished++
	q.wg.Add(1)
	q.mu.Unlock()
	q.notEmpty.Signal()
}

// Get blocks until an item is available and returns it, removing it from
// the queue. A nil return is the shutdown sentinel.
func (q *Queue) Get() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 {
		q.notEmpty.Wait()
	}
	front := q.items.Front()
	q.items.Remove(front)
	return front.Value.(*task.Task)
}

// TaskDone marks one previously-Get item as fully processed. Must be
// called exactly once per item retrieved via Get (including the shutdown
// sentinel and cancelled-before-start items, which the scheduler loop
// marks done without dispatching).
func (q *Queue) TaskDone() {
	q.mu.Lock()
	q.unfinished--
	q.mu.Unlock()
	q.wg.Done()
}

// Join blocks until every Put item has had a matching TaskDone call.
func (q *Queue) Join() {
	q.wg.Wait()
}

// Len reports the number of items currently queued (not yet Get).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
