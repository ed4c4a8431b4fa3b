package jobmanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trailcast/orchestrator/model"
	"github.com/trailcast/orchestrator/scheduler"
	"github.com/trailcast/orchestrator/testing/assert"
)

// fakeStore is a minimal in-memory Store good enough to exercise the
// manager's state-machine transitions without a database.
type fakeStore struct {
	mu     sync.Mutex
	jobs   map[string]*model.Job
	logs   []model.JobLogEntry
	cutoff time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*model.Job)}
}

func (s *fakeStore) InsertJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) ListJobs(ctx context.Context, f ListFilter) ([]*model.Job, int, error) {
	return nil, 0, nil
}
func (s *fakeStore) AppendLog(ctx context.Context, entry model.JobLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}
func (s *fakeStore) ListLogs(ctx context.Context, jobID string, level *model.LogLevel, page, size int) ([]model.JobLogEntry, int, error) {
	return nil, 0, nil
}
func (s *fakeStore) Stats(ctx context.Context, from, to *time.Time) ([]TypeStats, error) {
	return nil, nil
}
func (s *fakeStore) Cleanup(ctx context.Context, olderThan time.Time) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoff = olderThan
	return 0, 0, nil
}

// syncPool runs every submitted task inline on the calling goroutine so
// tests don't need to poll for completion.
type syncPool struct {
	mu      sync.Mutex
	running map[string]bool
}

func newSyncPool() *syncPool { return &syncPool{running: make(map[string]bool)} }

func (p *syncPool) Submit(task scheduler.Task) error {
	p.mu.Lock()
	p.running[task.JobType] = true
	p.mu.Unlock()
	err := task.Run(context.Background())
	p.mu.Lock()
	p.running[task.JobType] = false
	p.mu.Unlock()
	return err
}

// SubmitExclusive mirrors scheduler.pool's atomic check-then-enqueue:
// the running flag is tested and set under the same lock acquisition so
// a concurrent submission of the same type can never observe a gap.
func (p *syncPool) SubmitExclusive(task scheduler.Task) (bool, error) {
	p.mu.Lock()
	if p.running[task.JobType] {
		p.mu.Unlock()
		return false, nil
	}
	p.running[task.JobType] = true
	p.mu.Unlock()

	err := task.Run(context.Background())

	p.mu.Lock()
	p.running[task.JobType] = false
	p.mu.Unlock()
	return true, err
}

func (p *syncPool) IsRunning(jobType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[jobType]
}
func (p *syncPool) Start()             {}
func (p *syncPool) Stop(time.Duration) {}

func TestSubmitUnknownTypeFails(t *testing.T) {
	m := New(newFakeStore(), newSyncPool(), nil, nil)
	_, err := m.Submit(context.Background(), "nope", nil, "alice")
	assert.Error(t, err)
}

func TestSubmitCompletesJobOnSuccess(t *testing.T) {
	store := newFakeStore()
	m := New(store, newSyncPool(), nil, nil)
	m.RegisterType("greet", TypeConfig{Handler: func(ctx context.Context, run *Run) (model.OpaqueBag, error) {
		return nil, nil
	}})

	id, err := m.Submit(context.Background(), "greet", nil, "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job, err := m.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, float64(100), job.Progress)
}

func TestSubmitMarksFailedOnHandlerError(t *testing.T) {
	store := newFakeStore()
	m := New(store, newSyncPool(), nil, nil)
	wantErr := errors.New("boom")
	m.RegisterType("explode", TypeConfig{Handler: func(ctx context.Context, run *Run) (model.OpaqueBag, error) {
		return nil, wantErr
	}})

	id, _ := m.Submit(context.Background(), "explode", nil, "alice")
	job, err := m.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assert.Equal(t, model.JobFailed, job.Status)
	assert.Equal(t, wantErr.Error(), job.ErrorMessage)
}

func TestExclusiveTypeRejectsConcurrentSubmission(t *testing.T) {
	store := newFakeStore()
	pool := newSyncPool()
	started := make(chan struct{})
	release := make(chan struct{})
	m := New(store, pool, nil, nil)
	m.RegisterType("solo", TypeConfig{Exclusive: true, Handler: func(ctx context.Context, run *Run) (model.OpaqueBag, error) {
		close(started)
		<-release
		return nil, nil
	}})

	go m.Submit(context.Background(), "solo", nil, "alice")
	<-started
	defer close(release)

	_, err := m.Submit(context.Background(), "solo", nil, "bob")
	assert.Error(t, err)
}

func TestCooperativeStopMarksJobStoppedEvenWithoutHandlerError(t *testing.T) {
	store := newFakeStore()
	pool := newSyncPool()
	m := New(store, pool, nil, nil)

	observedStop := make(chan struct{})
	proceed := make(chan struct{})
	var jobID string
	m.RegisterType("pausable", TypeConfig{Handler: func(ctx context.Context, run *Run) (model.OpaqueBag, error) {
		<-proceed
		if run.ShouldStop() {
			close(observedStop)
			return nil, nil // clean return after observing a cooperative stop
		}
		return nil, nil
	}})

	done := make(chan struct{})
	go func() {
		id, err := m.Submit(context.Background(), "pausable", nil, "alice")
		if err != nil {
			t.Errorf("Submit: %v", err)
		}
		jobID = id
		close(done)
	}()

	// give Submit a moment to register the running job before we stop it
	time.Sleep(20 * time.Millisecond)

	// locate the job id via the store since Submit hasn't returned yet
	store.mu.Lock()
	var id string
	for k := range store.jobs {
		id = k
	}
	store.mu.Unlock()
	if id == "" {
		t.Fatal("expected the job to already be persisted")
	}

	ok, err := m.Stop(context.Background(), id, "user requested", false)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	assert.True(t, ok)
	close(proceed)

	select {
	case <-observedStop:
	case <-time.After(time.Second):
		t.Fatal("handler never observed the stop request")
	}
	<-done

	job, err := m.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assert.Equal(t, model.JobStopped, job.Status)
}

func TestForceStopCancelsContext(t *testing.T) {
	store := newFakeStore()
	pool := newSyncPool()
	m := New(store, pool, nil, nil)

	reachedWait := make(chan struct{})
	m.RegisterType("forceable", TypeConfig{Handler: func(ctx context.Context, run *Run) (model.OpaqueBag, error) {
		close(reachedWait)
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	done := make(chan struct{})
	var jobID string
	go func() {
		id, _ := m.Submit(context.Background(), "forceable", nil, "alice")
		jobID = id
		close(done)
	}()

	<-reachedWait
	store.mu.Lock()
	var id string
	for k := range store.jobs {
		id = k
	}
	store.mu.Unlock()

	ok, err := m.Stop(context.Background(), id, "force stop", true)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	assert.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forced stop never unblocked the handler")
	}

	job, err := m.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assert.Equal(t, model.JobStopped, job.Status)
}

func TestStopUnknownJobReturnsFalse(t *testing.T) {
	m := New(newFakeStore(), newSyncPool(), nil, nil)
	ok, err := m.Stop(context.Background(), "nonexistent", "", false)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	assert.False(t, ok)
}

func TestCleanupConvertsDaysToCutoff(t *testing.T) {
	store := newFakeStore()
	m := New(store, newSyncPool(), nil, nil)
	before := time.Now().UTC().AddDate(0, 0, -30)
	_, _, err := m.Cleanup(context.Background(), 30)
	after := time.Now().UTC().AddDate(0, 0, -30)
	assert.NoError(t, err)
	assert.True(t, !store.cutoff.Before(before) && !store.cutoff.After(after))
}
