package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultNamespace = "skywatch"

// RedisQueue is the production Queue backed by Redis lists. Deduplication is
// a SETNX marker per job id, kept for the lifetime of the event's processing
// window; the marker is what makes redelivered dispatches harmless.
type RedisQueue struct {
	Client    *redis.Client
	Namespace string

	// SeenTTL bounds the dedup markers. Zero means no expiry.
	SeenTTL time.Duration
}

func (q *RedisQueue) key(suffix string) string {
	ns := q.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	return ns + ":" + suffix
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) (bool, error) {
	if q == nil || q.Client == nil {
		return false, errors.New("redis queue not initialized")
	}
	if job.JobID == "" {
		return false, errors.New("job id is empty")
	}
	ok, err := q.Client.SetNX(ctx, q.key("job:seen:"+job.JobID), 1, q.SeenTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark job seen: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := q.push(ctx, job); err != nil {
		// Roll the marker back so a retry can re-accept the job.
		_ = q.Client.Del(ctx, q.key("job:seen:"+job.JobID)).Err()
		return false, err
	}
	return true, nil
}

func (q *RedisQueue) Requeue(ctx context.Context, job Job) error {
	if q == nil || q.Client == nil {
		return errors.New("redis queue not initialized")
	}
	return q.push(ctx, job)
}

func (q *RedisQueue) push(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.Client.LPush(ctx, q.key("jobs"), payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if q == nil || q.Client == nil {
		return nil, errors.New("redis queue not initialized")
	}
	vals, err := q.Client.BRPop(ctx, timeout, q.key("jobs")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop job: %w", err)
	}
	if len(vals) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job Job) error {
	if q == nil || q.Client == nil {
		return errors.New("redis queue not initialized")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.Client.LPush(ctx, q.key("jobs:dead"), payload).Err()
}
