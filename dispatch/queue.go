package dispatch

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/teranos/foreman/errors"
)

// Queue is the priority queue of pending jobs. Pop order is priority
// descending, then created_at ascending, then admission order.
//
// Removal only tombstones: the heap entry stays behind and is discarded
// lazily when it surfaces, so Remove is an O(1) map delete. The live map
// is the source of truth for membership; a surfaced heap entry counts
// only when it is still the instance the live map points at (the same ID
// may be re-admitted later by a retry).
type Queue struct {
	mu      sync.Mutex
	heap    jobHeap
	live    map[string]*Job
	nextSeq uint64
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{
		live: make(map[string]*Job),
	}
}

// Enqueue admits a job and returns its 1-based queue position. Jobs whose
// ID is already queued are rejected with ErrDuplicateID.
func (q *Queue) Enqueue(job *Job) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.live[job.ID]; exists {
		return 0, errors.Wrapf(errors.ErrDuplicateID, "job %s", job.ID)
	}

	job.seq = q.nextSeq
	q.nextSeq++
	q.live[job.ID] = job
	heap.Push(&q.heap, job)

	return q.positionLocked(job), nil
}

// Dequeue removes and returns the next job, or nil when the queue is
// empty. Tombstoned heap entries are discarded along the way.
func (q *Queue) Dequeue() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.heap.Len() > 0 {
		job := heap.Pop(&q.heap).(*Job)
		if q.live[job.ID] == job {
			delete(q.live, job.ID)
			return job
		}
	}
	return nil
}

// Peek returns a copy of the next job without removing it, or nil when
// the queue is empty. Dead heap tops are cleaned up as a side effect.
func (q *Queue) Peek() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.heap.Len() > 0 {
		job := q.heap[0]
		if q.live[job.ID] == job {
			return job.Clone()
		}
		heap.Pop(&q.heap)
	}
	return nil
}

// Remove takes a job out of the queue by ID. The heap entry is left as a
// tombstone. Returns the removed job and whether it was queued.
func (q *Queue) Remove(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.live[id]
	if !ok {
		return nil, false
	}
	delete(q.live, id)
	return job, true
}

// Get returns a copy of a queued job by ID
func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.live[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// Size returns the number of live queued jobs
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live)
}

// List returns copies of all queued jobs in pop order, head first
func (q *Queue) List() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*Job, 0, len(q.live))
	for _, job := range q.live {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobLess(jobs[i], jobs[j]) })

	out := make([]*Job, len(jobs))
	for i, job := range jobs {
		out[i] = job.Clone()
	}
	return out
}

// Position returns the 1-based queue position of a job, where position 1
// is the next job to dispatch. Returns -1 when the job is not queued.
func (q *Queue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.live[id]
	if !ok {
		return -1
	}
	return q.positionLocked(job)
}

// Clear drops every queued job and returns the removed jobs in pop order
func (q *Queue) Clear() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*Job, 0, len(q.live))
	for _, job := range q.live {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobLess(jobs[i], jobs[j]) })

	q.live = make(map[string]*Job)
	q.heap = q.heap[:0]
	return jobs
}

// positionLocked counts the live jobs ordered ahead of the given one.
// O(n) over the live map; queues are bounded by max_queue_size.
func (q *Queue) positionLocked(job *Job) int {
	pos := 1
	for _, other := range q.live {
		if other != job && jobLess(other, job) {
			pos++
		}
	}
	return pos
}

// jobLess reports whether a dispatches before b
func jobLess(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

// jobHeap implements heap.Interface over jobs in pop order
type jobHeap []*Job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return jobLess(h[i], h[j]) }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) {
	*h = append(*h, x.(*Job))
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
