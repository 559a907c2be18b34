package dispatch

import "sync"

// waiterRegistry tracks synchronous submitters blocked until their job
// reaches a terminal state. Channels carry one buffered slot so a signal
// never blocks the dispatcher, and each waiter fires at most once.
//
// Sync submission registers BEFORE the job is enqueued; a job that fails
// faster than the submitter can start waiting still finds its record in
// the channel buffer.
type waiterRegistry struct {
	mu      sync.Mutex
	waiting map[string]chan *Job
}

func newWaiterRegistry() *waiterRegistry {
	return &waiterRegistry{
		waiting: make(map[string]chan *Job),
	}
}

// Register returns the channel that will carry the job's terminal record.
// Registering the same ID twice returns the original channel.
func (r *waiterRegistry) Register(id string) <-chan *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.waiting[id]; ok {
		return ch
	}
	ch := make(chan *Job, 1)
	r.waiting[id] = ch
	return ch
}

// Signal delivers the terminal record to a registered waiter and retires
// the registration. A second signal for the same ID, or a signal for an
// ID nobody waits on, is a no-op.
func (r *waiterRegistry) Signal(id string, job *Job) {
	r.mu.Lock()
	ch, ok := r.waiting[id]
	if ok {
		delete(r.waiting, id)
	}
	r.mu.Unlock()

	if ok {
		ch <- job
	}
}

// Drop abandons a registration without delivering anything. Used when a
// synchronous submitter gives up before the job finishes.
func (r *waiterRegistry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiting, id)
}

// Len returns the number of outstanding registrations
func (r *waiterRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}
