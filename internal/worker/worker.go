// Package worker bootstraps the background job queue that runs dashboard
// generation. On postgres the queue is River; on sqlite an in-process
// channel queue preserves the enqueue-now/complete-later contract.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// GenerateArgs enqueues one generation run for a dashboard. Instruction is
// set for AI modifications of an already-completed dashboard.
type GenerateArgs struct {
	DashboardID string `json:"dashboard_id"`
	Instruction string `json:"instruction,omitempty"`
}

// Kind returns the unique job type identifier for generation jobs.
func (GenerateArgs) Kind() string { return "dashboard_generate" }

type generateWorker struct {
	river.WorkerDefaults[GenerateArgs]
	runner *Runner
}

func (w *generateWorker) Work(ctx context.Context, job *river.Job[GenerateArgs]) error {
	return w.runner.Run(ctx, job.Args)
}

// Queue is the interface exposed by both the River client and the inline
// sqlite queue.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Enqueue(ctx context.Context, args GenerateArgs) error
}

// Client wraps river.Client and exposes a Start/Stop/Enqueue lifecycle.
type Client struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

// Start begins processing queued jobs.
func (c *Client) Start(ctx context.Context) error { return c.client.Start(ctx) }

// Stop gracefully shuts down the worker client.
func (c *Client) Stop(ctx context.Context) error { return c.client.Stop(ctx) }

// Enqueue inserts a generation job.
func (c *Client) Enqueue(ctx context.Context, args GenerateArgs) error {
	if _, err := c.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("insert generation job: %w", err)
	}
	return nil
}

// inlineQueue runs jobs on in-process goroutines when River is unavailable
// (DB_DRIVER=sqlite). Jobs enqueued here do not survive a restart; the
// dashboard stays in pending/generating until retried, matching the
// documented lifecycle.
type inlineQueue struct {
	runner *Runner
	log    *slog.Logger
	jobs   chan GenerateArgs
	wg     sync.WaitGroup
	n      int
}

func (q *inlineQueue) Start(ctx context.Context) error {
	for i := 0; i < q.n; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for args := range q.jobs {
				if err := q.runner.Run(ctx, args); err != nil {
					q.log.Error("generation job failed", "dashboard_id", args.DashboardID, "err", err)
				}
			}
		}()
	}
	q.log.Info("inline worker queue started (sqlite driver — River requires postgres)", "concurrency", q.n)
	return nil
}

func (q *inlineQueue) Stop(_ context.Context) error {
	close(q.jobs)
	q.wg.Wait()
	return nil
}

func (q *inlineQueue) Enqueue(_ context.Context, args GenerateArgs) error {
	select {
	case q.jobs <- args:
		return nil
	default:
		return fmt.Errorf("generation queue is full")
	}
}

// New creates a queue implementation appropriate for the given driver.
//   - "postgres": a fully-functional River client backed by pool.
//   - anything else: the inline in-process queue.
//
// pool may be nil when driver != "postgres".
func New(ctx context.Context, pool *pgxpool.Pool, driver string, concurrency int, runner *Runner, log *slog.Logger) (Queue, error) {
	if driver != "postgres" {
		return &inlineQueue{
			runner: runner,
			log:    log,
			jobs:   make(chan GenerateArgs, 256),
			n:      concurrency,
		}, nil
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, &generateWorker{runner: runner})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: concurrency},
		},
		Workers: workers,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Client{client: client, log: log}, nil
}

// MigrateRiver runs River's built-in schema migrations against the given pool.
// Only call this when DB_DRIVER=postgres.
func MigrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}
