package crawler

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("job queue closed")

// JobQueue is a concurrency-safe priority queue of crawl jobs. Lower
// priority values are popped first; equal priorities pop in insertion
// order. Every popped job carries a Ticket that must be completed exactly
// once; Wait blocks until all pushed jobs have been completed.
type JobQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   jobHeap
	seq     uint64
	pending int
	closed  bool
	maxLen  int
}

// NewJobQueue constructs an empty JobQueue.
func NewJobQueue() *JobQueue {
	q := &JobQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a job.
func (q *JobQueue) Push(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.seq++
	heap.Push(&q.items, queuedJob{job: job, seq: q.seq})
	q.pending++
	if len(q.items) > q.maxLen {
		q.maxLen = len(q.items)
	}
	q.cond.Broadcast()
	return nil
}

// Pop removes the most urgent job, waiting up to timeout for one to
// arrive. The returned Ticket must have Done called exactly once; callers
// should defer it immediately. ok is false on timeout or after Close
// drained the queue.
func (q *JobQueue) Pop(timeout time.Duration) (Job, *Ticket, bool) {
	deadline := time.Now().Add(timeout)
	wakeup := time.AfterFunc(timeout, func() { q.cond.Broadcast() })
	defer wakeup.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed || !time.Now().Before(deadline) {
			return Job{}, nil, false
		}
		q.cond.Wait()
	}
	item := heap.Pop(&q.items).(queuedJob)
	return item.job, &Ticket{queue: q}, true
}

// Len returns the current number of queued jobs.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// MaxLen returns the high-water mark of the queue length.
func (q *JobQueue) MaxLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxLen
}

// Wait blocks until every pushed job has been popped and completed.
func (q *JobQueue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		q.cond.Wait()
	}
}

// Close rejects further pushes and wakes blocked poppers.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Ticket acknowledges completion of one popped job. Done is safe to call
// multiple times but takes effect once, so it can sit in a defer while the
// processing path also completes it on success.
type Ticket struct {
	queue *JobQueue
	once  sync.Once
}

// Done marks the popped job as finished.
func (t *Ticket) Done() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.queue.mu.Lock()
		defer t.queue.mu.Unlock()
		if t.queue.pending > 0 {
			t.queue.pending--
		}
		t.queue.cond.Broadcast()
	})
}

type queuedJob struct {
	job Job
	seq uint64
}

type jobHeap []queuedJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority < h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(queuedJob)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
