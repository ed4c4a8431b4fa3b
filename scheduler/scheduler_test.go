package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trailcast/orchestrator/orcherr"
	"github.com/trailcast/orchestrator/testing/assert"
)

func TestSubmitRunsHighestPriorityFirst(t *testing.T) {
	p := New(1, 10)
	p.Start()
	defer p.Stop(time.Second)

	var mu sync.Mutex
	var order []string
	block := make(chan struct{})

	// occupy the single worker so both submissions queue up before either runs
	if err := p.Submit(Task{JobType: "blocker", Priority: 0, Run: func(ctx context.Context) error {
		<-block
		return nil
	}}); err != nil {
		t.Fatalf("Submit blocker: %v", err)
	}

	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	if err := p.Submit(Task{JobType: "low", Priority: 1, Run: record("low")}); err != nil {
		t.Fatalf("Submit low: %v", err)
	}
	if err := p.Submit(Task{JobType: "high", Priority: 5, Run: record("high")}); err != nil {
		t.Fatalf("Submit high: %v", err)
	}

	close(block)
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		done := len(order) == 2
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for both tasks to run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "high", order[0])
	assert.Equal(t, "low", order[1])
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	p := New(1, 1) // capacity = queueSize(1) + workers(1) = 2
	block := make(chan struct{})
	defer close(block)
	p.Start()
	defer p.Stop(time.Second)

	if err := p.Submit(Task{Run: func(ctx context.Context) error { <-block; return nil }}); err != nil {
		t.Fatalf("Submit 1: %v", err)
	}
	if err := p.Submit(Task{Run: func(ctx context.Context) error { return nil }}); err != nil {
		t.Fatalf("Submit 2: %v", err)
	}
	err := p.Submit(Task{Run: func(ctx context.Context) error { return nil }})
	assert.True(t, errors.Is(err, orcherr.ErrQueueFull))
}

func TestIsRunningTracksInFlightJobType(t *testing.T) {
	p := New(1, 5)
	p.Start()
	defer p.Stop(time.Second)

	release := make(chan struct{})
	if err := p.Submit(Task{JobType: "KTO_DATA_COLLECTION", Run: func(ctx context.Context) error {
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !p.IsRunning("KTO_DATA_COLLECTION") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !p.IsRunning("KTO_DATA_COLLECTION") {
		t.Fatal("expected IsRunning to report true while the task executes")
	}

	close(release)
	deadline = time.Now().Add(time.Second)
	for p.IsRunning("KTO_DATA_COLLECTION") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.IsRunning("KTO_DATA_COLLECTION") {
		t.Fatal("expected IsRunning to report false once the task completes")
	}
}

func TestTaskTimeoutCancelsContext(t *testing.T) {
	p := New(1, 5)
	p.Start()
	defer p.Stop(time.Second)

	observedErr := make(chan error, 1)
	if err := p.Submit(Task{
		JobType: "slow",
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			observedErr <- ctx.Err()
			return ctx.Err()
		},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case err := <-observedErr:
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the task's context to be cancelled")
	}
}

func TestStopWaitsForInFlightTasks(t *testing.T) {
	p := New(1, 5)
	p.Start()

	finished := make(chan struct{})
	if err := p.Submit(Task{Run: func(ctx context.Context) error {
		time.Sleep(30 * time.Millisecond)
		close(finished)
		return nil
	}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	p.Stop(time.Second)
	select {
	case <-finished:
	default:
		t.Fatal("expected Stop to block until the in-flight task finished")
	}
}
