package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"skywatch/internal/models"
)

// MemoryStore is an in-process Store with the same transition rules as the
// gorm one. Used in tests.
type MemoryStore struct {
	mu         sync.Mutex
	receptions map[string]*models.ReceptionRecord
	jobs       map[string]*models.StrategyJob
	notices    []models.RawNotice
	nextID     uint64

	// FailNext injects one error per matching operation name, for retry tests.
	FailNext map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		receptions: map[string]*models.ReceptionRecord{},
		jobs:       map[string]*models.StrategyJob{},
		FailNext:   map[string]int{},
	}
}

func (s *MemoryStore) fail(op string) error {
	if s.FailNext == nil {
		return nil
	}
	if n := s.FailNext[op]; n > 0 {
		s.FailNext[op] = n - 1
		return fmt.Errorf("injected %s failure", op)
	}
	return nil
}

func (s *MemoryStore) RecordReception(ctx context.Context, eventID string, now time.Time) (Reception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("record_reception"); err != nil {
		return Reception{}, err
	}
	rec, ok := s.receptions[eventID]
	if !ok {
		rec = &models.ReceptionRecord{
			EventID:        eventID,
			ReceptionCount: 1,
			FirstSeenAt:    now,
			LastSeenAt:     now,
		}
		s.receptions[eventID] = rec
		return Reception{PreviousCount: 0, IsFirst: true}, nil
	}
	rec.ReceptionCount++
	rec.LastSeenAt = now
	return Reception{
		PreviousCount: rec.ReceptionCount - 1,
		IsFirst:       false,
		ThreadRef:     rec.ThreadRef,
		DispatchedAt:  rec.DispatchedAt,
	}, nil
}

func (s *MemoryStore) AttachThreadRef(ctx context.Context, eventID, ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("attach_thread_ref"); err != nil {
		return "", err
	}
	rec, ok := s.receptions[eventID]
	if !ok {
		return "", fmt.Errorf("reception %s not found", eventID)
	}
	if rec.ThreadRef != nil {
		return *rec.ThreadRef, nil
	}
	if ref == "" {
		return "", nil
	}
	rec.ThreadRef = &ref
	return ref, nil
}

func (s *MemoryStore) MarkDispatched(ctx context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("mark_dispatched"); err != nil {
		return err
	}
	rec, ok := s.receptions[eventID]
	if !ok {
		return fmt.Errorf("reception %s not found", eventID)
	}
	if rec.DispatchedAt == nil {
		rec.DispatchedAt = &at
	}
	return nil
}

func (s *MemoryStore) GetReception(ctx context.Context, eventID string) (*models.ReceptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.receptions[eventID]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (s *MemoryStore) ListReceptions(ctx context.Context, limit int) ([]models.ReceptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ReceptionRecord, 0, len(s.receptions))
	for _, rec := range s.receptions {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertRawNotice(ctx context.Context, item *models.RawNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("insert_raw_notice"); err != nil {
		return err
	}
	s.nextID++
	row := *item
	row.ID = s.nextID
	s.notices = append(s.notices, row)
	return nil
}

func (s *MemoryStore) DeleteRawNoticesBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.notices[:0]
	var removed int64
	for _, n := range s.notices {
		if n.ReceivedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	s.notices = kept
	return removed, nil
}

func (s *MemoryStore) InsertJob(ctx context.Context, item *models.StrategyJob) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("insert_job"); err != nil {
		return false, err
	}
	if _, ok := s.jobs[item.JobID]; ok {
		return false, nil
	}
	row := *item
	if row.Status == "" {
		row.Status = models.JobStatusPending
	}
	s.jobs[item.JobID] = &row
	return true, nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*models.StrategyJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	out := *job
	return &out, nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, params ListJobsParams) ([]models.StrategyJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.StrategyJob{}
	for _, job := range s.jobs {
		if params.EventID != "" && job.EventID != params.EventID {
			continue
		}
		if params.Status != "" && job.Status != params.Status {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventID != out[j].EventID {
			return out[i].EventID < out[j].EventID
		}
		return out[i].StrategyIndex < out[j].StrategyIndex
	})
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkJobRunning(ctx context.Context, jobID string, at time.Time) (*models.StrategyJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("mark_job_running"); err != nil {
		return nil, err
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	if job.Status != models.JobStatusPending && job.Status != models.JobStatusRunning {
		return nil, nil
	}
	job.Status = models.JobStatusRunning
	job.Attempt++
	job.StartedAt = &at
	job.UpdatedAt = at
	out := *job
	return &out, nil
}

func (s *MemoryStore) MarkJobFinished(ctx context.Context, jobID, status string, resultLocation, lastError *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("mark_job_finished"); err != nil {
		return err
	}
	if status != models.JobStatusSucceeded && status != models.JobStatusFailed {
		return fmt.Errorf("status %q is not terminal", status)
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Status != models.JobStatusRunning {
		return nil
	}
	job.Status = status
	job.ResultLocation = resultLocation
	job.LastError = lastError
	job.FinishedAt = &at
	job.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ListStaleRunningJobs(ctx context.Context, olderThan time.Time, limit int) ([]models.StrategyJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.StrategyJob{}
	for _, job := range s.jobs {
		if job.Status != models.JobStatusRunning {
			continue
		}
		if !job.UpdatedAt.Before(olderThan) {
			continue
		}
		out = append(out, *job)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
