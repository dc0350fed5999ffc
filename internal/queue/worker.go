package queue

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"skywatch/internal/models"
	"skywatch/internal/notify"
	"skywatch/internal/repository"
)

// Worker drains the job queue with a bounded pool of goroutines. Jobs are
// idempotent by job id: a job may be attempted several times, and only the
// succeeded/failed transition recorded in the store is authoritative. A
// "running" row re-observed after a crash is requeued by the reaper and
// safely retried here, never treated as a lock.
type Worker struct {
	Queue      Queue
	Store      repository.Store
	Strategist Strategist
	Notifier   notify.Notifier
	Logger     *zap.Logger

	Concurrency    int
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryBackoff   time.Duration

	// Now is swappable in tests.
	Now func() time.Time
}

func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.Queue == nil || w.Store == nil || w.Strategist == nil {
		return errors.New("worker not initialized")
	}
	n := w.Concurrency
	if n <= 0 {
		n = 2
	}
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			w.loop(ctx)
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	return ctx.Err()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.Queue.Dequeue(ctx, 2*time.Second)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if w.Logger != nil {
				w.Logger.Warn("dequeue failed", zap.Error(err))
			}
			sleepCtx(ctx, time.Second)
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, *job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	now := w.now()
	row, err := w.Store.MarkJobRunning(ctx, job.JobID, now)
	if err != nil {
		if w.Logger != nil {
			w.Logger.Warn("claim job failed",
				zap.String("job_id", job.JobID),
				zap.Error(err),
			)
		}
		_ = w.Queue.Requeue(ctx, job)
		return
	}
	if row == nil {
		// Terminal already; a duplicate delivery of a finished job.
		if w.Logger != nil {
			w.Logger.Info("job already terminal, skipping", zap.String("job_id", job.JobID))
		}
		return
	}

	attemptCtx := ctx
	cancel := func() {}
	if w.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, w.AttemptTimeout)
	}
	location, runErr := w.Strategist.GeneratePlan(attemptCtx, job)
	cancel()

	if runErr == nil {
		if err := w.Store.MarkJobFinished(ctx, job.JobID, models.JobStatusSucceeded, &location, nil, w.now()); err != nil && w.Logger != nil {
			w.Logger.Warn("mark job succeeded failed", zap.String("job_id", job.JobID), zap.Error(err))
		}
		if w.Logger != nil {
			w.Logger.Info("job succeeded",
				zap.String("job_id", job.JobID),
				zap.String("event_id", job.EventID),
				zap.Int("attempt", row.Attempt),
				zap.String("result_location", location),
			)
		}
		w.report(ctx, job, models.JobStatusSucceeded, &location)
		return
	}

	errText := runErr.Error()
	maxAttempts := w.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if row.Attempt >= maxAttempts {
		if err := w.Store.MarkJobFinished(ctx, job.JobID, models.JobStatusFailed, nil, &errText, w.now()); err != nil && w.Logger != nil {
			w.Logger.Warn("mark job failed failed", zap.String("job_id", job.JobID), zap.Error(err))
		}
		if err := w.Queue.DeadLetter(ctx, job); err != nil && w.Logger != nil {
			w.Logger.Warn("dead-letter failed", zap.String("job_id", job.JobID), zap.Error(err))
		}
		if w.Logger != nil {
			w.Logger.Error("job dead-lettered",
				zap.String("job_id", job.JobID),
				zap.String("event_id", job.EventID),
				zap.Int("attempt", row.Attempt),
				zap.Error(runErr),
			)
		}
		w.report(ctx, job, models.JobStatusFailed, nil)
		return
	}

	if w.Logger != nil {
		w.Logger.Warn("job attempt failed, retrying",
			zap.String("job_id", job.JobID),
			zap.Int("attempt", row.Attempt),
			zap.Error(runErr),
		)
	}
	sleepCtx(ctx, retryDelay(w.RetryBackoff, row.Attempt))
	if err := w.Queue.Requeue(ctx, job); err != nil && w.Logger != nil {
		w.Logger.Warn("requeue failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
}

func (w *Worker) report(ctx context.Context, job Job, status string, resultLocation *string) {
	if w.Notifier == nil {
		return
	}
	if err := w.Notifier.JobFinished(ctx, job.EventID, job.JobID, status, resultLocation); err != nil && w.Logger != nil {
		w.Logger.Warn("job notification failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt && d < 30*time.Second; i++ {
		d *= 2
	}
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d + time.Duration(rand.Int63n(int64(base/2)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
