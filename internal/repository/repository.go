package repository

import (
	"context"
	"time"

	"skywatch/internal/models"
)

// Reception is the result of one atomic reception upsert. Exactly one caller
// across all consumer instances observes IsFirst for a given event id.
type Reception struct {
	PreviousCount int64
	IsFirst       bool
	ThreadRef     *string
	DispatchedAt  *time.Time
}

type ListJobsParams struct {
	EventID string
	Status  string
	Limit   int
}

// Store is the reception and job persistence surface used by the consumer,
// the worker pool and the query handlers.
type Store interface {
	// RecordReception performs the atomic create-or-increment for one event.
	// The "first reception" race between concurrent deliveries is resolved by
	// the storage layer, not by the caller.
	RecordReception(ctx context.Context, eventID string, now time.Time) (Reception, error)

	// AttachThreadRef sets the notification thread reference once. Later calls
	// for the same event are no-ops that return the already stored value.
	AttachThreadRef(ctx context.Context, eventID, ref string) (string, error)

	// MarkDispatched records that all planned jobs for the event were durably
	// enqueued. Set once; idempotent.
	MarkDispatched(ctx context.Context, eventID string, at time.Time) error

	GetReception(ctx context.Context, eventID string) (*models.ReceptionRecord, error)
	ListReceptions(ctx context.Context, limit int) ([]models.ReceptionRecord, error)

	InsertRawNotice(ctx context.Context, item *models.RawNotice) error
	DeleteRawNoticesBefore(ctx context.Context, before time.Time) (int64, error)

	// InsertJob creates the job row if absent. Returns false when a row with
	// the same job id already exists (idempotent re-planning).
	InsertJob(ctx context.Context, item *models.StrategyJob) (bool, error)
	GetJob(ctx context.Context, jobID string) (*models.StrategyJob, error)
	ListJobs(ctx context.Context, params ListJobsParams) ([]models.StrategyJob, error)

	// MarkJobRunning transitions a non-terminal job to running and bumps its
	// attempt counter. Returns nil when the job is already terminal.
	MarkJobRunning(ctx context.Context, jobID string, at time.Time) (*models.StrategyJob, error)

	// MarkJobFinished moves a running job to a terminal status. Terminal rows
	// are left untouched.
	MarkJobFinished(ctx context.Context, jobID, status string, resultLocation, lastError *string, at time.Time) error

	// ListStaleRunningJobs returns running jobs whose last transition is older
	// than the cutoff, for crash recovery requeueing.
	ListStaleRunningJobs(ctx context.Context, olderThan time.Time, limit int) ([]models.StrategyJob, error)
}
