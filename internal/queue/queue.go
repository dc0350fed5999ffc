package queue

import (
	"context"
	"time"
)

// Job is one unit of strategy-generation work handed to the worker pool.
// The job id is deterministic in (event id, strategy index), so replanning
// after a crash or redelivery produces the same ids and the queue can
// deduplicate instead of fanning out twice.
type Job struct {
	JobID          string   `json:"job_id"`
	EventID        string   `json:"event_id"`
	StrategyIndex  int      `json:"strategy_index"`
	StrategyKind   string   `json:"strategy_kind"`
	TelescopeGroup []string `json:"telescope_group"`
	TileCount      int      `json:"tile_count"`
}

// Queue is the transport between the dispatcher and the worker pool.
type Queue interface {
	// Enqueue publishes a job unless one with the same job id was already
	// accepted. Returns false when the job was deduplicated.
	Enqueue(ctx context.Context, job Job) (bool, error)

	// Requeue republishes a job bypassing deduplication, for retries and
	// crash recovery.
	Requeue(ctx context.Context, job Job) error

	// Dequeue blocks up to timeout for the next job. A nil job with nil error
	// means the timeout elapsed.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)

	// DeadLetter parks a job that exhausted its retries.
	DeadLetter(ctx context.Context, job Job) error
}

// Strategist computes an observation strategy for one job. The actual
// sky-map tiling / galaxy-targeting optimization lives outside this service;
// implementations return the location of the produced plan artifact.
type Strategist interface {
	GeneratePlan(ctx context.Context, job Job) (resultLocation string, err error)
}
