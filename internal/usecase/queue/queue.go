// Package queue is the durable task queue between the chat gateway and the
// agent executor. Jobs are deduplicated by message id, run with bounded
// concurrency, retried on failure, and persisted so a restart resumes
// interrupted work (at-least-once, not exactly-once).
package queue

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"gracebot/internal/domain"
)

// Store file names under the queue directory.
const (
	pendingFile    = "pending-jobs.json"
	inProgressFile = "in-progress-jobs.json"
)

// Executor runs one dequeued task.
type Executor interface {
	Execute(ctx context.Context, task *domain.AgentTask) error
}

// Options tunes the queue. Zero values take defaults.
type Options struct {
	Dir         string
	Concurrency int
	Retries     int
}

// Queue is a self-scheduling drain: enqueuing and finishing a job both
// trigger another drain pass, so the queue empties itself as long as
// capacity allows. It is not a fixed worker pool.
type Queue struct {
	mu         sync.Mutex
	jobs       []jobRecord
	inflight   map[string]jobRecord
	processing int

	concurrency int
	retries     int
	pending     *store
	inProgress  *store
	exec        Executor
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// New creates a queue persisting under opts.Dir.
func New(exec Executor, opts Options, logger *slog.Logger) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.Retries < 0 {
		opts.Retries = 1
	}
	return &Queue{
		inflight:    make(map[string]jobRecord),
		concurrency: opts.Concurrency,
		retries:     opts.Retries,
		pending:     newStore(filepath.Join(opts.Dir, pendingFile)),
		inProgress:  newStore(filepath.Join(opts.Dir, inProgressFile)),
		exec:        exec,
		logger:      logger,
	}
}

// Enqueue adds a task unless a job with the same message id is already
// queued or in flight; duplicates are a silent no-op so webhook redeliveries
// never produce double replies. The task is persisted before the drain pass
// starts.
func (q *Queue) Enqueue(ctx context.Context, task *domain.AgentTask) error {
	id := task.Message.MessageID

	q.mu.Lock()
	if q.hasJobLocked(id) {
		q.mu.Unlock()
		q.logger.Debug("duplicate task, skipping", "message_id", id)
		return nil
	}
	q.jobs = append(q.jobs, jobRecord{ID: id, Data: task})
	err := q.persistPendingLocked()
	q.mu.Unlock()

	if err != nil {
		return domain.WrapOp("Queue.Enqueue", err)
	}

	q.logger.Info("task enqueued", "message_id", id, "user_id", task.UserID)
	q.drain(ctx)
	return nil
}

// LoadPendingJobs restores persisted work on startup. In-progress jobs are
// presumed interrupted by the previous shutdown and go back to the head of
// the queue for a fresh run. Both stores are rewritten to the merged state
// before draining starts.
func (q *Queue) LoadPendingJobs(ctx context.Context) error {
	interrupted, err := q.inProgress.load()
	if err != nil {
		return domain.WrapOp("Queue.LoadPendingJobs", err)
	}
	pending, err := q.pending.load()
	if err != nil {
		return domain.WrapOp("Queue.LoadPendingJobs", err)
	}

	q.mu.Lock()
	for _, job := range append(interrupted, pending...) {
		if !q.hasJobLocked(job.ID) {
			q.jobs = append(q.jobs, job)
		}
	}
	err = q.persistPendingLocked()
	if err == nil {
		err = q.inProgress.save(nil)
	}
	restored := len(q.jobs)
	q.mu.Unlock()

	if err != nil {
		return domain.WrapOp("Queue.LoadPendingJobs", err)
	}
	if restored > 0 {
		q.logger.Info("restored persisted jobs",
			"total", restored,
			"interrupted", len(interrupted),
		)
	}

	q.drain(ctx)
	return nil
}

// Wait blocks until all in-flight jobs finish. Draining of still-queued
// jobs continues while waiting.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) hasJobLocked(id string) bool {
	if _, ok := q.inflight[id]; ok {
		return true
	}
	for _, job := range q.jobs {
		if job.ID == id {
			return true
		}
	}
	return false
}

func (q *Queue) persistPendingLocked() error {
	return q.pending.save(q.jobs)
}

func (q *Queue) persistInProgressLocked() error {
	records := make([]jobRecord, 0, len(q.inflight))
	for _, job := range q.inflight {
		records = append(records, job)
	}
	return q.inProgress.save(records)
}

// drain starts as many queued jobs as capacity allows. Each completed job
// triggers another pass, so one call keeps the queue moving until it is
// empty or concurrency is saturated.
func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if q.processing >= q.concurrency || len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.inflight[job.ID] = job
		q.processing++
		if err := q.persistPendingLocked(); err != nil {
			q.logger.Error("persisting pending store failed", "error", err)
		}
		if err := q.persistInProgressLocked(); err != nil {
			q.logger.Error("persisting in-progress store failed", "error", err)
		}
		q.mu.Unlock()

		q.wg.Add(1)
		go q.run(ctx, job)
	}
}

func (q *Queue) run(ctx context.Context, job jobRecord) {
	defer q.wg.Done()

	err := q.executeWithRetry(ctx, job.Data)

	q.mu.Lock()
	delete(q.inflight, job.ID)
	q.processing--
	if perr := q.persistInProgressLocked(); perr != nil {
		q.logger.Error("persisting in-progress store failed", "error", perr)
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Error("task failed after retries", "job_id", job.ID, "error", err)
	}

	q.drain(ctx)
}

// executeWithRetry runs the task with up to retries additional attempts,
// back to back with no delay.
func (q *Queue) executeWithRetry(ctx context.Context, task *domain.AgentTask) error {
	var err error
	for attempt := 0; attempt <= q.retries; attempt++ {
		if attempt > 0 {
			q.logger.Warn("task failed, retrying",
				"message_id", task.Message.MessageID,
				"attempt", attempt,
				"error", err,
			)
		}
		if err = q.exec.Execute(ctx, task); err == nil {
			return nil
		}
	}
	return err
}
