// Package ttlengine implements the TTL Engine (spec.md §4.6): candidate
// selection across four classes, prioritized truncation against a space
// target, and batched bulk deletion.
package ttlengine

import (
	"context"
	"sort"
	"time"

	"github.com/trailcast/orchestrator/errutils"
	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/model"
)

var logger = l3.Get()

// Candidate is one record eligible for deletion.
type Candidate struct {
	ID        string
	SizeBytes int64
	Priority  model.StoragePriority
	CreatedAt time.Time
}

// Store is the persistence seam the TTL Engine scans and deletes against.
type Store interface {
	// FindExpired returns records past their (provider, endpoint) TTL.
	FindExpired(ctx context.Context) ([]Candidate, error)
	// FindLowPriorityAged returns priority-3 records older than minAge.
	FindLowPriorityAged(ctx context.Context, minAge time.Duration) ([]Candidate, error)
	// FindOversizeAged returns priority>=2 records over minSize and older
	// than minAge.
	FindOversizeAged(ctx context.Context, minSize int64, minAge time.Duration) ([]Candidate, error)
	// FindEmergency returns priority>=2 records older than minAge, used
	// only when Cleanup is called with emergency=true.
	FindEmergency(ctx context.Context, minAge time.Duration) ([]Candidate, error)
	// DeleteBatch bulk-deletes the given ids in a single statement,
	// returning the bytes reclaimed.
	DeleteBatch(ctx context.Context, ids []string) (bytesReclaimed int64, err error)
}

// Report summarizes one Cleanup run.
type Report struct {
	Candidates       int
	Deleted          int
	BytesReclaimed   int64
	Duration         time.Duration
	Errors           []error
	SummaryByPriority map[model.StoragePriority]int
}

const (
	classExpired = iota + 1
	classLowPriorityAged
	classOversizeAged
	classEmergency
)

const (
	lowPriorityAge    = 30 * 24 * time.Hour
	oversizeMinAge    = 7 * 24 * time.Hour
	oversizeMinSize   = 10 * 1024 * 1024
	emergencyMinAge   = 3 * 24 * time.Hour
)

// Engine runs the cleanup loop.
type Engine interface {
	Cleanup(ctx context.Context, targetMB *int64, emergency bool) (Report, error)
}

type engine struct {
	store     Store
	batchSize int
}

// New constructs an Engine; batchSize bounds each bulk-delete statement.
func New(store Store, batchSize int) Engine {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &engine{store: store, batchSize: batchSize}
}

type scored struct {
	Candidate
	class int
}

func (e *engine) Cleanup(ctx context.Context, targetMB *int64, emergency bool) (Report, error) {
	start := time.Now()
	report := Report{SummaryByPriority: make(map[model.StoragePriority]int)}

	candidates, err := e.gatherCandidates(ctx, emergency)
	if err != nil {
		// one class's query failing does not invalidate candidates already
		// gathered from the others; record the error and keep going.
		report.Errors = append(report.Errors, err)
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].class != candidates[j].class {
			return candidates[i].class < candidates[j].class
		}
		return candidates[i].SizeBytes > candidates[j].SizeBytes
	})

	if targetMB != nil {
		candidates = truncateToTarget(candidates, *targetMB)
	}

	e.deleteInBatches(ctx, candidates, &report)
	report.Duration = time.Since(start)
	return report, nil
}

// gatherCandidates evaluates the four classes in strict order and
// concatenates them into one list, per spec.md §4.6.
func (e *engine) gatherCandidates(ctx context.Context, emergency bool) ([]scored, error) {
	var out []scored
	multiErr := &errutils.MultiError{}

	add := func(class int, cands []Candidate, err error) {
		if err != nil {
			multiErr.Add(err)
			return
		}
		for _, c := range cands {
			out = append(out, scored{Candidate: c, class: class})
		}
	}

	expired, err := e.store.FindExpired(ctx)
	add(classExpired, expired, err)

	lowPri, err := e.store.FindLowPriorityAged(ctx, lowPriorityAge)
	add(classLowPriorityAged, lowPri, err)

	oversize, err := e.store.FindOversizeAged(ctx, oversizeMinSize, oversizeMinAge)
	add(classOversizeAged, oversize, err)

	if emergency {
		emer, err := e.store.FindEmergency(ctx, emergencyMinAge)
		add(classEmergency, emer, err)
	}

	dedup := dedupeByID(out)
	if multiErr.HasErrors() {
		return dedup, multiErr
	}
	return dedup, nil
}

// dedupeByID keeps the first (highest-priority-class) occurrence of each
// candidate ID — a record expired AND oversize-aged is deleted once.
func dedupeByID(in []scored) []scored {
	seen := make(map[string]bool, len(in))
	out := make([]scored, 0, len(in))
	for _, c := range in {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func truncateToTarget(candidates []scored, targetMB int64) []scored {
	targetBytes := targetMB * 1024 * 1024
	var cumulative int64
	for i, c := range candidates {
		if cumulative >= targetBytes {
			return candidates[:i]
		}
		cumulative += c.SizeBytes
	}
	return candidates
}

func (e *engine) deleteInBatches(ctx context.Context, candidates []scored, report *Report) {
	for start := 0; start < len(candidates); start += e.batchSize {
		end := start + e.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		ids := make([]string, len(batch))
		for i, c := range batch {
			ids[i] = c.ID
		}

		reclaimed, err := e.store.DeleteBatch(ctx, ids)
		if err != nil {
			logger.ErrorF("ttlengine: batch delete failed for %d ids: %v", len(ids), err)
			report.Errors = append(report.Errors, err)
			continue
		}
		report.Deleted += len(batch)
		report.BytesReclaimed += reclaimed
		for _, c := range batch {
			report.SummaryByPriority[c.Priority]++
		}
	}
}
