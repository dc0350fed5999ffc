package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"skywatch/internal/models"
)

func TestRecordReception_ExactlyOneFirst(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	const deliveries = 32
	results := make([]Reception, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := store.RecordReception(context.Background(), "S260825aa", now)
			if err != nil {
				t.Errorf("delivery %d: %v", i, err)
				return
			}
			results[i] = rec
		}(i)
	}
	wg.Wait()

	firsts := 0
	for _, rec := range results {
		if rec.IsFirst {
			firsts++
		}
	}
	if firsts != 1 {
		t.Fatalf("IsFirst observed %d times want exactly 1", firsts)
	}
	row, _ := store.GetReception(context.Background(), "S260825aa")
	if row.ReceptionCount != deliveries {
		t.Fatalf("reception_count=%d want %d", row.ReceptionCount, deliveries)
	}
}

func TestAttachThreadRef_SetOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.RecordReception(ctx, "S1", time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}

	ref, err := store.AttachThreadRef(ctx, "S1", "111.222")
	if err != nil || ref != "111.222" {
		t.Fatalf("first attach ref=%q err=%v", ref, err)
	}
	ref, err = store.AttachThreadRef(ctx, "S1", "999.888")
	if err != nil || ref != "111.222" {
		t.Fatalf("second attach ref=%q err=%v want original kept", ref, err)
	}
	// Empty ref is a read.
	ref, err = store.AttachThreadRef(ctx, "S1", "")
	if err != nil || ref != "111.222" {
		t.Fatalf("read attach ref=%q err=%v", ref, err)
	}
}

func TestMarkDispatched_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.RecordReception(ctx, "S2", time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}

	first := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	if err := store.MarkDispatched(ctx, "S2", first); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := store.MarkDispatched(ctx, "S2", first.Add(time.Hour)); err != nil {
		t.Fatalf("re-mark: %v", err)
	}
	row, _ := store.GetReception(ctx, "S2")
	if row.DispatchedAt == nil || !row.DispatchedAt.Equal(first) {
		t.Fatalf("dispatched_at=%v want %v", row.DispatchedAt, first)
	}
}

func TestJobTransitions_TerminalNeverReverts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.InsertJob(ctx, &models.StrategyJob{JobID: "j1", EventID: "S3"})
	if err != nil || !created {
		t.Fatalf("insert: created=%v err=%v", created, err)
	}
	if created, _ := store.InsertJob(ctx, &models.StrategyJob{JobID: "j1", EventID: "S3"}); created {
		t.Fatal("duplicate insert reported created")
	}

	row, err := store.MarkJobRunning(ctx, "j1", time.Now())
	if err != nil || row == nil || row.Attempt != 1 {
		t.Fatalf("claim: row=%v err=%v", row, err)
	}
	loc := "plans/S3/0"
	if err := store.MarkJobFinished(ctx, "j1", models.JobStatusSucceeded, &loc, nil, time.Now()); err != nil {
		t.Fatalf("finish: %v", err)
	}

	row, err = store.MarkJobRunning(ctx, "j1", time.Now())
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if row != nil {
		t.Fatalf("terminal job reclaimed: %+v", row)
	}
	final, _ := store.GetJob(ctx, "j1")
	if final.Status != models.JobStatusSucceeded {
		t.Fatalf("status=%q", final.Status)
	}
}

func TestListStaleRunningJobs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	if _, err := store.InsertJob(ctx, &models.StrategyJob{JobID: "stale", EventID: "S4"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.MarkJobRunning(ctx, "stale", old); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := store.InsertJob(ctx, &models.StrategyJob{JobID: "fresh", EventID: "S4"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.MarkJobRunning(ctx, "fresh", time.Now().UTC()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	stale, err := store.ListStaleRunningJobs(ctx, time.Now().UTC().Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stale) != 1 || stale[0].JobID != "stale" {
		t.Fatalf("stale=%v", stale)
	}
}
