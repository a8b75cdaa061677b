package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllTasks(t *testing.T) {
	var n int64
	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			atomic.AddInt64(&n, 1)
			return nil
		}
	}

	errs := NewPool(PoolConfig{Workers: 4}).Run(context.Background(), tasks)
	if n != 20 {
		t.Fatalf("expected 20 executions, got %d", n)
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("task %d: %v", i, err)
		}
	}
}

func TestPoolIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	tasks := []Task{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error { return nil },
	}

	errs := NewPool(PoolConfig{Workers: 2}).Run(context.Background(), tasks)
	if errs[0] != nil || errs[2] != nil {
		t.Fatalf("healthy tasks should not fail: %v %v", errs[0], errs[2])
	}
	if !errors.Is(errs[1], boom) {
		t.Fatalf("expected boom, got %v", errs[1])
	}
}

func TestPoolEnforcesTaskBudget(t *testing.T) {
	tasks := []Task{
		func(ctx context.Context) error {
			select {
			case <-time.After(5 * time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	start := time.Now()
	errs := NewPool(PoolConfig{Workers: 1, TaskBudget: 50 * time.Millisecond}).
		Run(context.Background(), tasks)
	if !errors.Is(errs[0], context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", errs[0])
	}
	if time.Since(start) > time.Second {
		t.Fatalf("budget not enforced, took %v", time.Since(start))
	}
}
