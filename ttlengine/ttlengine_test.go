package ttlengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trailcast/orchestrator/model"
	"github.com/trailcast/orchestrator/testing/assert"
)

type fakeStore struct {
	expired, lowPri, oversize, emergency []Candidate
	findErr                              error
	deleted                              [][]string
	deleteErr                            error
}

func (f *fakeStore) FindExpired(ctx context.Context) ([]Candidate, error) { return f.expired, f.findErr }
func (f *fakeStore) FindLowPriorityAged(ctx context.Context, minAge time.Duration) ([]Candidate, error) {
	return f.lowPri, nil
}
func (f *fakeStore) FindOversizeAged(ctx context.Context, minSize int64, minAge time.Duration) ([]Candidate, error) {
	return f.oversize, nil
}
func (f *fakeStore) FindEmergency(ctx context.Context, minAge time.Duration) ([]Candidate, error) {
	return f.emergency, nil
}
func (f *fakeStore) DeleteBatch(ctx context.Context, ids []string) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	cp := append([]string{}, ids...)
	f.deleted = append(f.deleted, cp)
	var total int64
	for range ids {
		total += 1024
	}
	return total, nil
}

func TestCleanupGathersInStrictClassOrder(t *testing.T) {
	store := &fakeStore{
		expired:  []Candidate{{ID: "a", SizeBytes: 100, Priority: model.PriorityHigh}},
		lowPri:   []Candidate{{ID: "b", SizeBytes: 200, Priority: model.PriorityLow}},
		oversize: []Candidate{{ID: "c", SizeBytes: 11 * 1024 * 1024, Priority: model.PriorityMedium}},
	}
	e := New(store, 100)

	report, err := e.Cleanup(context.Background(), nil, false)
	assert.NoError(t, err)
	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 3, report.Deleted)
	assert.Equal(t, 1, len(store.deleted))
	assert.Equal(t, 3, len(store.deleted[0]))
}

func TestCleanupEmergencyOnlyWhenRequested(t *testing.T) {
	store := &fakeStore{emergency: []Candidate{{ID: "z", SizeBytes: 10}}}
	e := New(store, 100)

	report, err := e.Cleanup(context.Background(), nil, false)
	assert.NoError(t, err)
	assert.Equal(t, 0, report.Candidates)

	report, err = e.Cleanup(context.Background(), nil, true)
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
}

func TestCleanupDedupesKeepingHighestPriorityClass(t *testing.T) {
	// "dup" appears in both the expired (class 1) and oversize (class 3)
	// candidate sets; it must be deleted exactly once.
	store := &fakeStore{
		expired:  []Candidate{{ID: "dup", SizeBytes: 50, Priority: model.PriorityHigh}},
		oversize: []Candidate{{ID: "dup", SizeBytes: 50, Priority: model.PriorityMedium}},
	}
	e := New(store, 100)

	report, err := e.Cleanup(context.Background(), nil, false)
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Deleted)
}

func TestCleanupSortsByClassThenSizeDescending(t *testing.T) {
	store := &fakeStore{
		expired: []Candidate{
			{ID: "small", SizeBytes: 10},
			{ID: "large", SizeBytes: 1000},
		},
		lowPri: []Candidate{{ID: "aged", SizeBytes: 5000}},
	}
	e := New(store, 1) // batch size 1 forces one DeleteBatch call per candidate, preserving order

	_, err := e.Cleanup(context.Background(), nil, false)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(store.deleted))
	order := []string{store.deleted[0][0], store.deleted[1][0], store.deleted[2][0]}
	want := []string{"large", "small", "aged"} // class 1 (size desc) before class 2
	assert.Equal(t, want[0], order[0])
	assert.Equal(t, want[1], order[1])
	assert.Equal(t, want[2], order[2])
}

func TestCleanupTruncatesToTargetMB(t *testing.T) {
	oneMB := int64(1024 * 1024)
	store := &fakeStore{
		expired: []Candidate{
			{ID: "a", SizeBytes: oneMB},
			{ID: "b", SizeBytes: oneMB},
			{ID: "c", SizeBytes: oneMB},
		},
	}
	e := New(store, 100)
	target := int64(1)

	report, err := e.Cleanup(context.Background(), &target, false)
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
}

func TestCleanupNoCandidatesIsANoOp(t *testing.T) {
	e := New(&fakeStore{}, 100)
	report, err := e.Cleanup(context.Background(), nil, false)
	assert.NoError(t, err)
	assert.Equal(t, 0, report.Candidates)
	assert.Equal(t, 0, report.Deleted)
}

func TestCleanupSurvivesPartialGatherFailure(t *testing.T) {
	store := &fakeStore{
		lowPri:  []Candidate{{ID: "b", SizeBytes: 10}},
		findErr: errors.New("expired query failed"),
	}
	e := New(store, 100)

	report, err := e.Cleanup(context.Background(), nil, false)
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, len(report.Errors))
}

func TestCleanupRecordsBatchDeleteErrors(t *testing.T) {
	store := &fakeStore{
		expired:   []Candidate{{ID: "a", SizeBytes: 10}},
		deleteErr: errors.New("db unavailable"),
	}
	e := New(store, 100)

	report, err := e.Cleanup(context.Background(), nil, false)
	assert.NoError(t, err)
	assert.Equal(t, 0, report.Deleted)
	assert.Equal(t, 1, len(report.Errors))
}
