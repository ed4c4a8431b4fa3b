// Package scheduler implements the Scheduler / Worker Pool (spec.md §4.9):
// a fixed-size worker pool with a bounded priority FIFO queue, per-job-type
// exclusivity tracking, and per-task timeouts with hard cancellation.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/orcherr"
)

var logger = l3.Get()

// Task is one unit of work submitted to the pool.
type Task struct {
	// JobType identifies the task for exclusivity bookkeeping (spec.md
	// §4.9 "Per-type mutex").
	JobType string
	// Priority orders queued submissions; higher runs first, FIFO within
	// a priority (spec.md §4.9 "Priority").
	Priority int
	// Timeout bounds the task body's execution; exceeding it cancels the
	// task's context and the worker reports orcherr.KindJobTimeout.
	Timeout time.Duration
	// Run is the task body. It must observe ctx cancellation for hard
	// stop/timeout to have any effect (spec.md §5 cancellation token
	// propagation requirement).
	Run func(ctx context.Context) error
}

// Pool is the bounded concurrent executor.
type Pool interface {
	// Submit enqueues task for execution. Returns orcherr.ErrQueueFull
	// (wrapping KindQueueFull) if the bounded queue is already full.
	Submit(task Task) error
	// SubmitExclusive behaves like Submit, but the "is another task of
	// task.JobType already running or queued" check and the enqueue
	// happen as one atomic operation under the pool's lock, closing the
	// TOCTOU window a separate IsRunning-then-Submit call pair would
	// leave open (spec.md §4.9 "Per-type mutex"). admitted is false,
	// with a nil error, when another non-terminal task of the same type
	// already holds the slot; the task is not enqueued in that case.
	SubmitExclusive(task Task) (admitted bool, err error)
	// IsRunning reports whether at least one non-terminal task of jobType
	// is currently queued or executing — the per-type exclusivity check
	// the Job Manager consults before admitting an exclusive job type.
	IsRunning(jobType string) bool
	// Start launches the fixed worker set.
	Start()
	// Stop waits up to grace for in-flight tasks to finish, then returns.
	Stop(grace time.Duration)
}

// priorityItem is one entry in the submission heap.
type priorityItem struct {
	task  Task
	seq   int64 // insertion order, for FIFO-within-priority
	index int
}

type taskHeap []*priorityItem

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	item := x.(*priorityItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type pool struct {
	workers    int
	queueSize  int
	mu         sync.Mutex
	cond       *sync.Cond
	queue      taskHeap
	seq        int64
	running    map[string]int // jobType -> count of in-flight/queued tasks
	stopCh     chan struct{}
	wg         sync.WaitGroup
	inFlight   sync.WaitGroup
}

// New constructs a Pool with the given worker count and bounded queue
// capacity.
func New(workers, queueSize int) Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &pool{
		workers:   workers,
		queueSize: queueSize,
		running:   make(map[string]int),
		stopCh:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enqueueLocked(task)
}

func (p *pool) SubmitExclusive(task Task) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[task.JobType] > 0 {
		return false, nil
	}
	if err := p.enqueueLocked(task); err != nil {
		return false, err
	}
	return true, nil
}

// enqueueLocked must be called with p.mu held.
func (p *pool) enqueueLocked(task Task) error {
	if len(p.queue) >= p.queueSize+p.workers {
		return orcherr.ErrQueueFull
	}

	p.seq++
	heap.Push(&p.queue, &priorityItem{task: task, seq: p.seq})
	p.running[task.JobType]++
	p.cond.Signal()
	return nil
}

func (p *pool) IsRunning(jobType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[jobType] > 0
}

func (p *pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
}

func (p *pool) runWorker() {
	defer p.wg.Done()
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		p.execute(task)
	}
}

func (p *pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 {
		select {
		case <-p.stopCh:
			return Task{}, false
		default:
		}
		p.cond.Wait()
		select {
		case <-p.stopCh:
			return Task{}, false
		default:
		}
	}
	item := heap.Pop(&p.queue).(*priorityItem)
	return item.task, true
}

func (p *pool) execute(task Task) {
	p.inFlight.Add(1)
	defer p.inFlight.Done()
	defer func() {
		p.mu.Lock()
		p.running[task.JobType]--
		if p.running[task.JobType] <= 0 {
			delete(p.running, task.JobType)
		}
		p.mu.Unlock()
	}()

	ctx := context.Background()
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- task.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.WarnF("scheduler: task %s finished with error: %v", task.JobType, err)
		}
	case <-ctx.Done():
		logger.ErrorF("scheduler: task %s exceeded its deadline", task.JobType)
		<-done // wait for the body to observe cancellation and return
	}
}

func (p *pool) Stop(grace time.Duration) {
	close(p.stopCh)
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		logger.WarnF("scheduler: stop grace period elapsed with workers still draining")
	}
}
