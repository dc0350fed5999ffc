package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"skywatch/internal/models"
	"skywatch/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// RecordReception is a single INSERT ... ON CONFLICT DO UPDATE ... RETURNING
// statement, so the increment and the "am I first" answer are one atomic
// round trip. Postgres row-level locking serializes concurrent deliveries of
// the same event id regardless of how many consumer processes exist.
func (s *Store) RecordReception(ctx context.Context, eventID string, now time.Time) (repository.Reception, error) {
	if s == nil || s.db == nil {
		return repository.Reception{}, errors.New("store not initialized")
	}
	rec := models.ReceptionRecord{
		EventID:        eventID,
		ReceptionCount: 1,
		FirstSeenAt:    now,
		LastSeenAt:     now,
	}
	err := s.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "event_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"reception_count": gorm.Expr("reception_records.reception_count + 1"),
				"last_seen_at":    now,
			}),
		},
		clause.Returning{},
	).Create(&rec).Error
	if err != nil {
		return repository.Reception{}, err
	}
	return repository.Reception{
		PreviousCount: rec.ReceptionCount - 1,
		IsFirst:       rec.ReceptionCount == 1,
		ThreadRef:     rec.ThreadRef,
		DispatchedAt:  rec.DispatchedAt,
	}, nil
}

func (s *Store) AttachThreadRef(ctx context.Context, eventID, ref string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store not initialized")
	}
	if strings.TrimSpace(ref) != "" {
		err := s.db.WithContext(ctx).
			Model(&models.ReceptionRecord{}).
			Where("event_id = ? AND thread_ref IS NULL", eventID).
			Update("thread_ref", ref).Error
		if err != nil {
			return "", err
		}
	}
	rec, err := s.GetReception(ctx, eventID)
	if err != nil {
		return "", err
	}
	if rec == nil || rec.ThreadRef == nil {
		return "", nil
	}
	return *rec.ThreadRef, nil
}

func (s *Store) MarkDispatched(ctx context.Context, eventID string, at time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.WithContext(ctx).
		Model(&models.ReceptionRecord{}).
		Where("event_id = ? AND dispatched_at IS NULL", eventID).
		Update("dispatched_at", at).Error
}

func (s *Store) GetReception(ctx context.Context, eventID string) (*models.ReceptionRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	var rec models.ReceptionRecord
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListReceptions(ctx context.Context, limit int) ([]models.ReceptionRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	var out []models.ReceptionRecord
	err := s.db.WithContext(ctx).
		Order("last_seen_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Store) InsertRawNotice(ctx context.Context, item *models.RawNotice) error {
	if s == nil || s.db == nil || item == nil {
		return errors.New("store not initialized")
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) DeleteRawNoticesBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	res := s.db.WithContext(ctx).
		Where("received_at < ?", before).
		Delete(&models.RawNotice{})
	return res.RowsAffected, res.Error
}

func (s *Store) InsertJob(ctx context.Context, item *models.StrategyJob) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, errors.New("store not initialized")
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*models.StrategyJob, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	var job models.StrategyJob
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) ListJobs(ctx context.Context, params repository.ListJobsParams) ([]models.StrategyJob, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	q := s.db.WithContext(ctx).Model(&models.StrategyJob{})
	if strings.TrimSpace(params.EventID) != "" {
		q = q.Where("event_id = ?", params.EventID)
	}
	if strings.TrimSpace(params.Status) != "" {
		q = q.Where("status = ?", params.Status)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []models.StrategyJob
	err := q.Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (s *Store) MarkJobRunning(ctx context.Context, jobID string, at time.Time) (*models.StrategyJob, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	res := s.db.WithContext(ctx).
		Model(&models.StrategyJob{}).
		Where("job_id = ? AND status IN ?", jobID, []string{models.JobStatusPending, models.JobStatusRunning}).
		Updates(map[string]any{
			"status":     models.JobStatusRunning,
			"attempt":    gorm.Expr("attempt + 1"),
			"started_at": at,
			"updated_at": at,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Already terminal (or unknown): nothing to claim.
		return nil, nil
	}
	return s.GetJob(ctx, jobID)
}

func (s *Store) MarkJobFinished(ctx context.Context, jobID, status string, resultLocation, lastError *string, at time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if status != models.JobStatusSucceeded && status != models.JobStatusFailed {
		return errors.New("finish status must be terminal")
	}
	return s.db.WithContext(ctx).
		Model(&models.StrategyJob{}).
		Where("job_id = ? AND status = ?", jobID, models.JobStatusRunning).
		Updates(map[string]any{
			"status":          status,
			"result_location": resultLocation,
			"last_error":      lastError,
			"finished_at":     at,
			"updated_at":      at,
		}).Error
}

func (s *Store) ListStaleRunningJobs(ctx context.Context, olderThan time.Time, limit int) ([]models.StrategyJob, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	var out []models.StrategyJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.JobStatusRunning, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
