// Package jobmanager implements the Job Manager (spec.md §4.8): submit,
// list, get, logs, stop, stats, and cleanup over a PENDING → RUNNING →
// {COMPLETED, FAILED, STOPPED} state machine, dispatched through the
// scheduler's worker pool with cooperative and hard cancellation,
// progress/log fan-out, and retry/notification hooks.
package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trailcast/orchestrator/fnutils"
	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/managers"
	"github.com/trailcast/orchestrator/model"
	"github.com/trailcast/orchestrator/notify"
	"github.com/trailcast/orchestrator/orcherr"
	"github.com/trailcast/orchestrator/scheduler"
	"github.com/trailcast/orchestrator/uuid"
)

var logger = l3.Get()

// Handler is a job type's body. It must observe ctx cancellation at
// every resumption point (spec.md §4.8 "Cooperative cancellation") and
// report progress/logs through the Run arg rather than buffering them
// until completion.
type Handler func(ctx context.Context, run *Run) (model.OpaqueBag, error)

// Run is the live handle a Handler uses to report progress and check
// for a cooperative stop request.
type Run struct {
	Job *model.Job

	mgr        *manager
	shouldStop func() bool
}

// ShouldStop reports whether stop() was called cooperatively for this
// job. Handlers must check this at well-defined checkpoints.
func (r *Run) ShouldStop() bool { return r.shouldStop() }

// UpdateProgress persists and fans out a progress update.
func (r *Run) UpdateProgress(progress float64, step string) {
	r.mgr.updateProgress(r.Job, progress, step)
}

// Log persists and fans out a log line at the given level.
func (r *Run) Log(level model.LogLevel, message string, details model.OpaqueBag) {
	r.mgr.log(r.Job.ID, level, message, details)
}

// Publisher is the seam the Job Manager fans progress/log events out
// through (spec.md §4.11). Failure to publish never fails the job.
type Publisher interface {
	PublishLog(jobID string, entry model.JobLogEntry)
	PublishProgress(jobID string, progress float64, step string)
}

// Store is the persistence seam for jobs and their logs.
type Store interface {
	InsertJob(ctx context.Context, job *model.Job) error
	UpdateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, f ListFilter) ([]*model.Job, int, error)
	AppendLog(ctx context.Context, entry model.JobLogEntry) error
	ListLogs(ctx context.Context, jobID string, level *model.LogLevel, page, size int) ([]model.JobLogEntry, int, error)
	Stats(ctx context.Context, from, to *time.Time) ([]TypeStats, error)
	Cleanup(ctx context.Context, olderThan time.Time) (jobsDeleted, logsDeleted int, err error)
}

// ListFilter narrows list() queries (spec.md §4.8 "filters by
// type/status; newest first").
type ListFilter struct {
	Type   string
	Status model.JobStatus
	Page   int
	Size   int
}

// TypeStats is one row of stats()'s per-type aggregate.
type TypeStats struct {
	Type           string
	Total          int
	SuccessCount   int
	FailureCount   int
	RunningCount   int
	AvgDurationSec float64
	SuccessRate    float64
}

// TypeConfig configures one job type's dispatch behavior.
type TypeConfig struct {
	Handler   Handler
	Priority  int
	Timeout   time.Duration
	Exclusive bool // reject concurrent submissions of the same type
}

// Manager is the Job Manager contract (spec.md §4.8).
type Manager interface {
	Submit(ctx context.Context, jobType string, params model.OpaqueBag, requestedBy string) (string, error)
	List(ctx context.Context, f ListFilter) ([]*model.Job, int, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	Logs(ctx context.Context, jobID string, level *model.LogLevel, page, size int) ([]model.JobLogEntry, int, error)
	Stop(ctx context.Context, jobID string, reason string, force bool) (bool, error)
	Stats(ctx context.Context, from, to *time.Time) ([]TypeStats, error)
	Cleanup(ctx context.Context, days int) (jobsDeleted, logsDeleted int, err error)
	RegisterType(jobType string, cfg TypeConfig)
}

type runningJob struct {
	cancel     context.CancelFunc
	stopFlag   sync.Map // presence of key "stop" means should_stop
}

func (r *runningJob) shouldStop() bool {
	_, ok := r.stopFlag.Load("stop")
	return ok
}

func (r *runningJob) requestStop() {
	r.stopFlag.Store("stop", true)
}

type manager struct {
	store     Store
	pool      scheduler.Pool
	publisher Publisher
	bridge    notify.Bridge
	types     managers.ItemManager[TypeConfig]

	mu      sync.Mutex
	running map[string]*runningJob // jobID -> handle
}

// New constructs a Job Manager dispatching onto pool and persisting
// through store. publisher and bridge may be nil no-ops for tests that
// don't exercise fan-out/notification.
func New(store Store, pool scheduler.Pool, publisher Publisher, bridge notify.Bridge) Manager {
	return &manager{
		store:     store,
		pool:      pool,
		publisher: publisher,
		bridge:    bridge,
		types:     managers.NewItemManager[TypeConfig](),
		running:   make(map[string]*runningJob),
	}
}

func (m *manager) RegisterType(jobType string, cfg TypeConfig) {
	m.types.Register(jobType, cfg)
}

func (m *manager) Submit(ctx context.Context, jobType string, params model.OpaqueBag, requestedBy string) (string, error) {
	return m.submit(ctx, jobType, params, requestedBy, 0)
}

// submit creates and enqueues a job whose RetryCount is retryCount.
func (m *manager) submit(ctx context.Context, jobType string, params model.OpaqueBag, requestedBy string, retryCount int) (string, error) {
	cfg := m.types.Get(jobType)
	if cfg.Handler == nil {
		return "", orcherr.New(orcherr.KindConfigError, "jobmanager.Submit", fmt.Errorf("unknown job type %q", jobType))
	}

	id, err := newID()
	if err != nil {
		return "", err
	}
	job := &model.Job{
		ID:          id,
		Type:        jobType,
		Parameters:  params,
		Status:      model.JobPending,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   requestedBy,
		RequestedBy: requestedBy,
		RetryCount:  retryCount,
	}
	if err := m.store.InsertJob(ctx, job); err != nil {
		return "", err
	}
	m.log(job.ID, model.LogInfo, "job submitted", nil)

	task := scheduler.Task{
		JobType:  jobType,
		Priority: cfg.Priority,
		Timeout:  cfg.Timeout,
		Run: func(taskCtx context.Context) error {
			return m.dispatch(taskCtx, job, cfg)
		},
	}

	// For exclusive types, the "is one already running" check and the
	// enqueue must happen as a single atomic operation under the pool's
	// own lock (spec.md §4.9 "Per-type mutex") — two separate lock
	// acquisitions (an IsRunning check here, then a later Submit) leave a
	// window where two near-simultaneous submissions both observe no
	// running instance and both get admitted.
	var submitErr error
	if cfg.Exclusive {
		admitted, serr := m.pool.SubmitExclusive(task)
		switch {
		case serr != nil:
			submitErr = serr
		case !admitted:
			submitErr = orcherr.New(orcherr.KindConfigError, "jobmanager.Submit", fmt.Errorf("job type %q is exclusive and already running", jobType))
		}
	} else {
		submitErr = m.pool.Submit(task)
	}
	if submitErr != nil {
		job.Status = model.JobFailed
		job.ErrorMessage = submitErr.Error()
		now := time.Now().UTC()
		job.CompletedAt = &now
		_ = m.store.UpdateJob(ctx, job)
		m.notifyEvent(notify.EventFailed, job, submitErr)
		return job.ID, submitErr
	}
	return job.ID, nil
}

// dispatch runs one job attempt: RUNNING transition, handler execution
// under cooperative+hard cancellation, then the terminal transition and
// retry/notification hooks.
func (m *manager) dispatch(ctx context.Context, job *model.Job, cfg TypeConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	rj := &runningJob{cancel: cancel}
	m.mu.Lock()
	m.running[job.ID] = rj
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.running, job.ID)
		m.mu.Unlock()
	}()

	now := time.Now().UTC()
	job.Status = model.JobRunning
	job.StartedAt = &now
	_ = m.store.UpdateJob(ctx, job)
	m.notifyEvent(notify.EventRunning, job, nil)

	run := &Run{Job: job, mgr: m, shouldStop: rj.shouldStop}
	result, err := cfg.Handler(ctx, run)

	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt
	// a stop request takes priority over the handler's own return value: a
	// cooperative checkpoint may return nil after observing ShouldStop, and
	// a forced cancellation returns ctx.Err(); either way this is STOPPED,
	// not COMPLETED or FAILED.
	if rj.shouldStop() {
		job.Status = model.JobStopped
		_ = m.store.UpdateJob(ctx, job)
		m.log(job.ID, model.LogWarning, "job stopped", nil)
		return nil
	}
	if err != nil {
		job.Status = model.JobFailed
		job.ErrorMessage = err.Error()
		_ = m.store.UpdateJob(ctx, job)
		m.log(job.ID, model.LogError, "job failed: "+err.Error(), nil)
		m.handleFailure(ctx, job, err)
		return err
	}

	job.Status = model.JobCompleted
	job.Progress = 100
	job.ResultSummary = result
	_ = m.store.UpdateJob(ctx, job)
	m.notifyEvent(notify.EventCompleted, job, nil)
	return nil
}

// handleFailure consults the Retry Bridge and either schedules a new
// attempt or emits a terminal FAILED/MAX_ATTEMPTS notification (spec.md
// §4.8 "Failure semantics").
func (m *manager) handleFailure(ctx context.Context, job *model.Job, failErr error) {
	if m.bridge == nil {
		m.notifyEvent(notify.EventFailed, job, failErr)
		return
	}
	retry, delay := m.bridge.ShouldRetry(job, failErr)
	if !retry {
		if job.RetryCount > 0 {
			m.notifyEvent(notify.EventMaxAttempts, job, failErr)
		}
		m.notifyEvent(notify.EventFailed, job, failErr)
		return
	}

	job.RetryStatus = model.RetryScheduled
	_ = m.store.UpdateJob(ctx, job)

	cfg := m.types.Get(job.Type)
	_ = cfg
	go func() {
		if err := fnutils.ExecuteAfter(func() {
			newParams := job.Parameters
			id, err := m.submit(context.Background(), job.Type, newParams, job.RequestedBy, job.RetryCount+1)
			if err != nil {
				logger.ErrorF("jobmanager: retry submission for job %s failed: %v", job.ID, err)
				return
			}
			logger.InfoF("jobmanager: scheduled retry job %s (from %s, attempt %d)", id, job.ID, job.RetryCount+1)
		}, delay); err != nil {
			logger.ErrorF("jobmanager: retry scheduling for job %s rejected: %v", job.ID, err)
		}
	}()
}

func (m *manager) notifyEvent(kind notify.EventKind, job *model.Job, err error) {
	if m.bridge == nil {
		return
	}
	go m.bridge.Notify(context.Background(), notify.Event{Kind: kind, Job: job, Err: err})
}

// updateProgress persists progress/current_step to the job row (spec.md
// §4.8 "update_progress ... persist the event and publish to the
// WebSocket fan-out") before fanning it out; failure to publish never
// fails the job, but the store write is the authoritative side effect.
func (m *manager) updateProgress(job *model.Job, progress float64, step string) {
	job.Progress = progress
	job.CurrentStep = step
	if err := m.store.UpdateJob(context.Background(), job); err != nil {
		logger.ErrorF("jobmanager: failed to persist progress for job %s: %v", job.ID, err)
	}
	if m.publisher != nil {
		m.publisher.PublishProgress(job.ID, progress, step)
	}
}

func (m *manager) log(jobID string, level model.LogLevel, message string, details model.OpaqueBag) {
	entry := model.JobLogEntry{
		JobID:     jobID,
		Level:     level,
		Message:   message,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.AppendLog(context.Background(), entry); err != nil {
		logger.ErrorF("jobmanager: failed to persist log for job %s: %v", jobID, err)
	}
	if m.publisher != nil {
		m.publisher.PublishLog(jobID, entry)
	}
}

func (m *manager) List(ctx context.Context, f ListFilter) ([]*model.Job, int, error) {
	return m.store.ListJobs(ctx, f)
}

func (m *manager) Get(ctx context.Context, id string) (*model.Job, error) {
	return m.store.GetJob(ctx, id)
}

func (m *manager) Logs(ctx context.Context, jobID string, level *model.LogLevel, page, size int) ([]model.JobLogEntry, int, error) {
	return m.store.ListLogs(ctx, jobID, level, page, size)
}

// Stop requests a cooperative stop; force additionally cancels the
// job's context, aborting outstanding I/O (spec.md §4.8 "Cooperative
// cancellation").
func (m *manager) Stop(ctx context.Context, jobID string, reason string, force bool) (bool, error) {
	m.mu.Lock()
	rj, ok := m.running[jobID]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	rj.requestStop()
	m.log(jobID, model.LogWarning, "stop requested: "+reason, nil)
	if force {
		rj.cancel()
	}
	return true, nil
}

func (m *manager) Stats(ctx context.Context, from, to *time.Time) ([]TypeStats, error) {
	return m.store.Stats(ctx, from, to)
}

func (m *manager) Cleanup(ctx context.Context, days int) (int, int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	return m.store.Cleanup(ctx, cutoff)
}

func newID() (string, error) {
	id, err := uuid.V4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
