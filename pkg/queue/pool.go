package queue

import (
	"context"
	"sync"
	"time"
)

// Task is one unit of work submitted to the pool.
type Task func(ctx context.Context) error

// PoolConfig contains the configuration for the worker pool.
type PoolConfig struct {
	Workers    int           // number of workers
	TaskBudget time.Duration // per-task wall-clock limit, 0 for none
}

// Pool runs independent tasks on a fixed set of workers. Each task gets
// its own deadline, so one slow task cannot stall the batch beyond its
// budget. Task failures are collected, not propagated between tasks.
type Pool struct {
	cfg PoolConfig
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Pool{cfg: cfg}
}

// Run executes all tasks and returns the per-task errors, indexed like
// the input. It stops picking up new tasks when ctx is cancelled;
// unstarted tasks report the context error.
func (p *Pool) Run(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				errs[i] = p.runOne(ctx, tasks[i])
			}
		}()
	}

	for i := range tasks {
		select {
		case indexes <- i:
		case <-ctx.Done():
			errs[i] = ctx.Err()
		}
	}
	close(indexes)
	wg.Wait()

	return errs
}

func (p *Pool) runOne(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.cfg.TaskBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TaskBudget)
		defer cancel()
	}
	return task(ctx)
}
