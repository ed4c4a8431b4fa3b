// Package model holds the shared data-model types passed between the
// orchestrator's subsystems: jobs, keypool, cache, apiclient,
// storagepolicy, storagequeue, ttlengine, archival, notify, wsfanout, and
// monitor all exchange these types instead of owning private copies.
package model

import (
	"time"

	"github.com/trailcast/orchestrator/data"
)

// OpaqueBag is a string-keyed, JSON-serializable value bag used wherever
// the system needs to carry caller-defined data without the rest of the
// platform understanding its shape: job parameters, result summaries, log
// details, alert details. Backed by data.Pipeline so it gets Get/Set/Has/
// Keys/Merge/Clone plus jsonb (de)serialization for free.
type OpaqueBag = data.Pipeline

// NewBag returns an empty OpaqueBag.
func NewBag() OpaqueBag {
	return data.NewEmptyPipeline()
}

// BagFrom returns an OpaqueBag pre-populated from a plain map, e.g. a
// decoded JSON request body.
func BagFrom(values map[string]any) OpaqueBag {
	return data.NewPipelineFrom(values)
}

// JobStatus is the canonical terminal/non-terminal status of a Job.
//
// The retrieval source used both COMPLETED and SUCCESS for the same
// terminal state in different enums (spec open question #1). COMPLETED is
// the canonical value written and returned by this system; SUCCESS is
// accepted as a read-time alias so callers or stored rows using the older
// name still resolve to the same status.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobStopped   JobStatus = "STOPPED"

	// jobSuccessAlias is the legacy name for JobCompleted, normalized on read.
	jobSuccessAlias JobStatus = "SUCCESS"
)

// NormalizeJobStatus maps the legacy SUCCESS alias to the canonical
// COMPLETED value. All other values pass through unchanged.
func NormalizeJobStatus(s JobStatus) JobStatus {
	if s == jobSuccessAlias {
		return JobCompleted
	}
	return s
}

// IsTerminal reports whether s is one of the three terminal statuses.
func (s JobStatus) IsTerminal() bool {
	switch NormalizeJobStatus(s) {
	case JobCompleted, JobFailed, JobStopped:
		return true
	default:
		return false
	}
}

// RetryStatus tracks what the Retry Bridge has decided about a terminal,
// failed Job. The Job record is the authoritative owner of this value;
// the bridge itself is stateless (spec open question #2).
type RetryStatus string

const (
	RetryNone      RetryStatus = ""
	RetryScheduled RetryStatus = "retry_scheduled"
	RetryExhausted RetryStatus = "retry_exhausted"
)

// Job is one execution attempt of a named unit of work.
type Job struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	Parameters    OpaqueBag     `json:"parameters"`
	Status        JobStatus     `json:"status"`
	Progress      float64       `json:"progress"`
	CurrentStep   string        `json:"current_step,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	CreatedBy     string        `json:"created_by,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	ResultSummary OpaqueBag     `json:"result_summary,omitempty"`
	RetryCount    int           `json:"retry_count"`
	RetryStatus   RetryStatus   `json:"retry_status,omitempty"`
	RequestedBy   string        `json:"requested_by,omitempty"`
}

// LogLevel is the severity of a JobLogEntry.
type LogLevel string

const (
	LogDebug    LogLevel = "DEBUG"
	LogInfo     LogLevel = "INFO"
	LogWarning  LogLevel = "WARNING"
	LogError    LogLevel = "ERROR"
	LogCritical LogLevel = "CRITICAL"
)

// JobLogEntry is an append-only record attached to a Job.
type JobLogEntry struct {
	ID        int64     `json:"-"`
	JobID     string    `json:"job_id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Details   OpaqueBag `json:"details,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}
