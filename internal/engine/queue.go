// Package engine implements the orchestration core over a shared, persisted
// object graph: a tree of queue-affine contexts, save propagation up the
// ancestor chain with durable-identifier promotion, background fetch
// execution with caller-side translation, and did-save notification bridging
// between independently acting contexts.
package engine

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Queue is a serial execution queue. Operations submitted to the same queue
// run one at a time in submission order; distinct queues run concurrently.
// There is no cancellation: a submitted operation always runs, even after
// Close is requested (Close drains the backlog first).
type Queue struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	ops    []func()
	closed bool

	inFlight atomic.Int32
	worker   atomic.Uint64
	done     chan struct{}
}

// goroutineID parses the numeric id out of the runtime.Stack header
// ("goroutine 123 [running]:"); the runtime offers no public accessor.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	id, _ := strconv.ParseUint(s, 10, 64)
	return id
}

// NewQueue starts a serial queue with the given diagnostic name.
func NewQueue(name string) *Queue {
	q := &Queue{name: name, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Name returns the queue's diagnostic name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) run() {
	defer close(q.done)
	q.worker.Store(goroutineID())
	for {
		q.mu.Lock()
		for len(q.ops) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.ops) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		op := q.ops[0]
		q.ops = q.ops[1:]
		q.mu.Unlock()

		q.inFlight.Add(1)
		op()
		q.inFlight.Add(-1)
	}
}

// Async submits fn and returns immediately. The backlog is unbounded so the
// caller is never blocked. Submitting to a closed queue is a silent no-op;
// the configuration error surfaces at first use of whatever the op would
// have produced.
func (q *Queue) Async(fn func()) {
	q.enqueue(fn)
}

func (q *Queue) enqueue(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.ops = append(q.ops, fn)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

// Sync runs fn on the queue and blocks the caller until it has completed.
// Sync is reentrant: when called from an operation already running on this
// queue, fn executes inline, so a continuation delivered on a context's own
// queue can keep using that context. The return reports whether fn ran;
// submitting to a closed queue from any other goroutine is a no-op.
func (q *Queue) Sync(fn func()) bool {
	if q.worker.Load() == goroutineID() {
		fn()
		return true
	}
	ran := make(chan struct{})
	ok := q.enqueue(func() {
		defer close(ran)
		fn()
	})
	if !ok {
		return false
	}
	<-ran
	return true
}

// Executing reports whether an operation is running on the queue right now.
// Combined with serial execution this lets tests assert queue affinity from
// inside an operation body.
func (q *Queue) Executing() bool {
	return q.inFlight.Load() > 0
}

// Backlog returns the number of operations waiting to run.
func (q *Queue) Backlog() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Close drains the backlog and stops the queue. It blocks until the worker
// goroutine has exited. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Signal()
	}
	q.mu.Unlock()
	<-q.done
}
