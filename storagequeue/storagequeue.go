// Package storagequeue implements the Async Storage Queue (spec.md §4.5):
// three bounded priority FIFOs drained by a fixed worker pool that batches
// raw response records into the persistence layer, with retry-with-
// priority-escalation and a bounded drain on shutdown.
package storagequeue

import (
	"context"
	"sync"
	"time"

	"github.com/trailcast/orchestrator/collections"
	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/model"
)

var logger = l3.Get()

// Callback is invoked when an item is ultimately dropped after exhausting
// retries. Optional; nil means the drop is only logged.
type Callback func(rec *model.RawAPIResponseRecord, err error)

// BatchStorer is the persistence seam the queue drains into.
type BatchStorer interface {
	StoreBatch(ctx context.Context, recs []*model.RawAPIResponseRecord) error
}

// Config configures the queue's capacity and worker behavior.
type Config struct {
	QueueSize     int // total budget across all three priority lanes
	WorkerCount   int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	DrainDeadline time.Duration // bound on Stop()'s best-effort drain
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 3000
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.DrainDeadline <= 0 {
		c.DrainDeadline = 10 * time.Second
	}
	return c
}

// Queue is the Async Storage Queue contract.
type Queue interface {
	// Enqueue attempts to add rec at the given priority lane. It returns
	// false if that lane is at capacity, in which case the caller must
	// fall back to synchronous storage (spec.md §4.5 "Acceptance").
	Enqueue(rec *model.RawAPIResponseRecord, priority model.StoragePriority, cb Callback) bool
	Start()
	// Stop halts acceptance, drains remaining items up to the configured
	// deadline, and logs how many items were dropped undrained.
	Stop()
}

type item struct {
	rec        *model.RawAPIResponseRecord
	priority   model.StoragePriority
	retryCount int
	cb         Callback
}

type lane struct {
	mu       sync.Mutex
	q        collections.Queue[*item]
	capacity int
	size     int
}

func newLane(capacity int) *lane {
	return &lane{q: collections.NewArrayQueue[*item](), capacity: capacity}
}

func (l *lane) tryPush(it *item) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.size >= l.capacity {
		return false
	}
	_ = l.q.Enqueue(it)
	l.size++
	return true
}

func (l *lane) pop() (*item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.size == 0 {
		return nil, false
	}
	v, err := l.q.Dequeue()
	if err != nil {
		return nil, false
	}
	l.size--
	return v, true
}

func (l *lane) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

type queue struct {
	cfg    Config
	store  BatchStorer
	lanes  map[model.StoragePriority]*lane
	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool

	fullRejections int64
}

// New constructs a Queue draining into store.
func New(cfg Config, store BatchStorer) Queue {
	cfg = cfg.withDefaults()
	perLane := cfg.QueueSize / 3
	if perLane < 1 {
		perLane = 1
	}
	return &queue{
		cfg:   cfg,
		store: store,
		lanes: map[model.StoragePriority]*lane{
			model.PriorityHigh:   newLane(perLane),
			model.PriorityMedium: newLane(perLane),
			model.PriorityLow:    newLane(perLane),
		},
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

func (q *queue) Enqueue(rec *model.RawAPIResponseRecord, priority model.StoragePriority, cb Callback) bool {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return false
	}

	l, ok := q.lanes[priority]
	if !ok {
		l = q.lanes[model.PriorityLow]
	}
	if !l.tryPush(&item{rec: rec, priority: priority, cb: cb}) {
		q.fullRejections++
		return false
	}
	q.signal()
	return true
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) Start() {
	for i := 0; i < q.cfg.WorkerCount; i++ {
		q.wg.Add(1)
		go q.runWorker(i)
	}
}

func (q *queue) runWorker(id int) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			q.drainToDeadline()
			return
		case <-ticker.C:
			q.drainOnce(context.Background())
		case <-q.wake:
			q.drainOnce(context.Background())
		}
	}
}

// drainToDeadline repeatedly calls drainOnce until this worker's lanes
// are empty or cfg.DrainDeadline elapses, rather than draining a single
// BatchSize-sized batch, so Stop() actually empties a backlog larger
// than one batch per worker when time allows (spec.md §4.5 "drain
// remaining items up to a deadline").
func (q *queue) drainToDeadline() {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.DrainDeadline)
	defer cancel()
	for q.hasPending() {
		if ctx.Err() != nil {
			return
		}
		q.drainOnce(ctx)
	}
}

func (q *queue) hasPending() bool {
	for _, l := range q.lanes {
		if l.len() > 0 {
			return true
		}
	}
	return false
}

// drainOnce pulls up to BatchSize items, strictly preferring higher
// priority lanes, and stores them as one batch. Items that fail to store
// are re-enqueued with priority escalated by one (capped at Low) and
// retry_count incremented; at MaxRetries the callback is invoked with
// failure and the item dropped.
func (q *queue) drainOnce(ctx context.Context) {
	batch := q.collectBatch()
	if len(batch) == 0 {
		return
	}

	recs := make([]*model.RawAPIResponseRecord, len(batch))
	for i, it := range batch {
		recs[i] = it.rec
	}

	if err := q.store.StoreBatch(ctx, recs); err != nil {
		logger.ErrorF("storagequeue: batch store failed for %d items: %v", len(batch), err)
		for _, it := range batch {
			q.retryOrDrop(it, err)
		}
		return
	}
	for _, it := range batch {
		if it.cb != nil {
			it.cb(it.rec, nil)
		}
	}
}

func (q *queue) collectBatch() []*item {
	order := []model.StoragePriority{model.PriorityHigh, model.PriorityMedium, model.PriorityLow}
	batch := make([]*item, 0, q.cfg.BatchSize)
	for _, p := range order {
		l := q.lanes[p]
		for len(batch) < q.cfg.BatchSize {
			it, ok := l.pop()
			if !ok {
				break
			}
			batch = append(batch, it)
		}
		if len(batch) >= q.cfg.BatchSize {
			break
		}
	}
	return batch
}

func (q *queue) retryOrDrop(it *item, storeErr error) {
	it.retryCount++
	if it.retryCount >= q.cfg.MaxRetries {
		logger.ErrorF("storagequeue: dropping record %s after %d retries: %v", it.rec.ID, it.retryCount, storeErr)
		if it.cb != nil {
			it.cb(it.rec, storeErr)
		}
		return
	}
	escalated := it.priority + 1
	if escalated > model.PriorityLow {
		escalated = model.PriorityLow
	}
	it.priority = escalated
	l := q.lanes[escalated]
	if !l.tryPush(it) {
		logger.ErrorF("storagequeue: dropping record %s, retry lane full", it.rec.ID)
		if it.cb != nil {
			it.cb(it.rec, storeErr)
		}
		return
	}
	q.signal()
}

func (q *queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.stopCh)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(q.cfg.DrainDeadline):
		remaining := 0
		for _, l := range q.lanes {
			remaining += l.len()
		}
		logger.WarnF("storagequeue: shutdown deadline hit with %d items undrained", remaining)
	}
}
