package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/datatypes"

	"skywatch/internal/alert"
	"skywatch/internal/models"
	"skywatch/internal/repository"
)

type fakeStrategist struct {
	calls    int
	failures int
	location string
}

func (f *fakeStrategist) GeneratePlan(ctx context.Context, job Job) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("planner crashed")
	}
	return f.location, nil
}

type recordingNotifier struct {
	finished []string
}

func (n *recordingNotifier) AlertRaised(ctx context.Context, a *alert.Alert, v alert.Verdict, threadRef *string) (string, error) {
	return "", nil
}

func (n *recordingNotifier) JobFinished(ctx context.Context, eventID, jobID, status string, resultLocation *string) error {
	n.finished = append(n.finished, jobID+":"+status)
	return nil
}

func seedJob(t *testing.T, store *repository.MemoryStore, job Job) {
	t.Helper()
	created, err := store.InsertJob(context.Background(), &models.StrategyJob{
		JobID:          job.JobID,
		EventID:        job.EventID,
		StrategyIndex:  job.StrategyIndex,
		StrategyKind:   job.StrategyKind,
		TelescopeGroup: datatypes.JSON(`["TCA"]`),
		TileCount:      job.TileCount,
		Status:         models.JobStatusPending,
	})
	if err != nil || !created {
		t.Fatalf("seed job: created=%v err=%v", created, err)
	}
}

func TestWorkerProcess_Success(t *testing.T) {
	store := repository.NewMemoryStore()
	q := NewMemoryQueue()
	strategist := &fakeStrategist{location: "plans/S1/0"}
	notifier := &recordingNotifier{}
	w := &Worker{Queue: q, Store: store, Strategist: strategist, Notifier: notifier, MaxAttempts: 3}

	job := Job{JobID: "job-1", EventID: "S1", StrategyKind: "tiling", TileCount: 20}
	seedJob(t, store, job)

	w.process(context.Background(), job)

	row, err := store.GetJob(context.Background(), "job-1")
	if err != nil || row == nil {
		t.Fatalf("get job: row=%v err=%v", row, err)
	}
	if row.Status != models.JobStatusSucceeded {
		t.Fatalf("status=%q want succeeded", row.Status)
	}
	if row.ResultLocation == nil || *row.ResultLocation != "plans/S1/0" {
		t.Fatalf("result_location=%v", row.ResultLocation)
	}
	if row.Attempt != 1 {
		t.Fatalf("attempt=%d want 1", row.Attempt)
	}
	if len(notifier.finished) != 1 || notifier.finished[0] != "job-1:succeeded" {
		t.Fatalf("notifications=%v", notifier.finished)
	}
	if len(q.Dead()) != 0 {
		t.Fatalf("dead=%v", q.Dead())
	}
}

func TestWorkerProcess_RetryThenSucceed(t *testing.T) {
	store := repository.NewMemoryStore()
	q := NewMemoryQueue()
	strategist := &fakeStrategist{failures: 1, location: "plans/S2/0"}
	w := &Worker{
		Queue: q, Store: store, Strategist: strategist,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	}

	job := Job{JobID: "job-2", EventID: "S2"}
	seedJob(t, store, job)

	w.process(context.Background(), job)
	pending := q.Pending()
	if len(pending) != 1 || pending[0].JobID != "job-2" {
		t.Fatalf("pending after failed attempt=%v", pending)
	}
	w.process(context.Background(), pending[0])

	row, _ := store.GetJob(context.Background(), "job-2")
	if row.Status != models.JobStatusSucceeded {
		t.Fatalf("status=%q", row.Status)
	}
	if row.Attempt != 2 {
		t.Fatalf("attempt=%d want 2", row.Attempt)
	}
}

func TestWorkerProcess_DeadLetterAfterMaxAttempts(t *testing.T) {
	store := repository.NewMemoryStore()
	q := NewMemoryQueue()
	strategist := &fakeStrategist{failures: 10}
	notifier := &recordingNotifier{}
	w := &Worker{
		Queue: q, Store: store, Strategist: strategist, Notifier: notifier,
		MaxAttempts:  2,
		RetryBackoff: time.Millisecond,
	}

	job := Job{JobID: "job-3", EventID: "S3"}
	seedJob(t, store, job)

	w.process(context.Background(), job)
	w.process(context.Background(), job)

	row, _ := store.GetJob(context.Background(), "job-3")
	if row.Status != models.JobStatusFailed {
		t.Fatalf("status=%q want failed", row.Status)
	}
	if row.LastError == nil || *row.LastError != "planner crashed" {
		t.Fatalf("last_error=%v", row.LastError)
	}
	dead := q.Dead()
	if len(dead) != 1 || dead[0].JobID != "job-3" {
		t.Fatalf("dead=%v", dead)
	}
	if len(notifier.finished) != 1 || notifier.finished[0] != "job-3:failed" {
		t.Fatalf("notifications=%v", notifier.finished)
	}
}

func TestWorkerProcess_TerminalJobSkipped(t *testing.T) {
	store := repository.NewMemoryStore()
	q := NewMemoryQueue()
	strategist := &fakeStrategist{location: "unused"}
	w := &Worker{Queue: q, Store: store, Strategist: strategist, MaxAttempts: 3}

	job := Job{JobID: "job-4", EventID: "S4"}
	seedJob(t, store, job)
	if _, err := store.MarkJobRunning(context.Background(), "job-4", time.Now()); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := store.MarkJobFinished(context.Background(), "job-4", models.JobStatusSucceeded, nil, nil, time.Now()); err != nil {
		t.Fatalf("mark finished: %v", err)
	}

	w.process(context.Background(), job)

	if strategist.calls != 0 {
		t.Fatalf("strategist called %d times for terminal job", strategist.calls)
	}
}

func TestWorkerRun_DrainsQueue(t *testing.T) {
	store := repository.NewMemoryStore()
	q := NewMemoryQueue()
	strategist := &fakeStrategist{location: "plans/S5/0"}
	w := &Worker{Queue: q, Store: store, Strategist: strategist, Concurrency: 2, MaxAttempts: 3}

	job := Job{JobID: "job-5", EventID: "S5"}
	seedJob(t, store, job)
	if _, err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(3 * time.Second)
	for {
		row, _ := store.GetJob(context.Background(), "job-5")
		if row != nil && row.Status == models.JobStatusSucceeded {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never succeeded")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run err=%v", err)
	}
}
