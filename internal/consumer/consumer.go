package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"skywatch/internal/alert"
	"skywatch/internal/bus"
	"skywatch/internal/models"
	"skywatch/internal/notify"
	"skywatch/internal/plan"
	"skywatch/internal/queue"
	"skywatch/internal/repository"
)

// Consumer binds the decoder, classifier, reception store, planner and job
// queue into the per-subscription processing loop. Messages are handled one
// at a time; the offset for a message is committed only after every durable
// side effect for it has succeeded, so at-least-once redelivery plus the
// idempotent store and deterministic job ids yield exactly-once fan-out.
type Consumer struct {
	Store    repository.Store
	Queue    queue.Queue
	Notifier notify.Notifier
	Logger   *zap.Logger

	Thresholds alert.Thresholds
	Strategies []plan.Strategy

	// MaxAttempts and RetryBackoff bound the per-operation retry of transient
	// store/queue failures. Exhausting them fails the message: logged, offset
	// not committed, redelivered later.
	MaxAttempts  int
	RetryBackoff time.Duration

	// Now is swappable in tests.
	Now func() time.Time
}

// Run drives the consumer from a live bus stream until the context is
// cancelled. The stop signal is observed between messages: the in-flight
// message finishes and commits before the loop exits.
func (c *Consumer) Run(ctx context.Context, stream *bus.Stream) error {
	if stream == nil {
		return errors.New("stream is nil")
	}
	return stream.Run(ctx, c.HandleMessage)
}

// HandleMessage processes one envelope through the state machine
// Received -> Decoded -> {Discarded | Classified} -> {Skipped | Dispatched}.
// The returned commit flag tells the stream whether to advance the offset.
func (c *Consumer) HandleMessage(ctx context.Context, env bus.Envelope) (bool, error) {
	now := c.now()

	a, derr := alert.Decode(env.Payload)
	if derr != nil {
		// A permanently malformed message would block the stream forever if we
		// held the offset, so decode failures discard and advance.
		if c.Logger != nil {
			c.Logger.Warn("notice discarded: decode failed",
				zap.String("topic", env.Topic),
				zap.Int64("offset", env.Offset),
				zap.String("reason", string(derr.Reason)),
				zap.String("field", derr.Field),
			)
		}
		return true, nil
	}

	if err := c.withRetry(ctx, "insert raw notice", func() error {
		eventID := a.EventID
		return c.Store.InsertRawNotice(ctx, &models.RawNotice{
			EventID:    &eventID,
			Topic:      env.Topic,
			BusOffset:  env.Offset,
			ReceivedAt: now,
			Payload:    datatypes.JSON(a.RawPayload),
		})
	}); err != nil {
		return false, err
	}

	verdict := alert.Classify(a, c.Thresholds)

	// Every successfully decoded delivery is recorded, significant or not.
	var rec repository.Reception
	if err := c.withRetry(ctx, "record reception", func() error {
		var err error
		rec, err = c.Store.RecordReception(ctx, a.EventID, now)
		return err
	}); err != nil {
		return false, err
	}

	if !verdict.Significant {
		if c.Logger != nil {
			c.Logger.Info("notice discarded: not significant",
				zap.String("event_id", a.EventID),
				zap.String("class", string(a.ClassKind)),
				zap.Any("reasons", verdict.Reasons),
				zap.Int64("reception_count", rec.PreviousCount+1),
			)
		}
		return true, nil
	}

	if rec.DispatchedAt != nil {
		// Redelivery of an already dispatched event: expected steady state
		// under at-least-once delivery, not an error.
		if c.Logger != nil {
			c.Logger.Info("notice skipped: duplicate of dispatched event",
				zap.String("event_id", a.EventID),
				zap.Int64("previous_count", rec.PreviousCount),
			)
		}
		return true, nil
	}

	if err := c.dispatch(ctx, a, verdict, rec); err != nil {
		if c.Logger != nil {
			c.Logger.Error("dispatch failed, offset held for redelivery",
				zap.String("event_id", a.EventID),
				zap.Error(err),
			)
		}
		return false, err
	}

	if c.Logger != nil {
		c.Logger.Info("notice dispatched",
			zap.String("event_id", a.EventID),
			zap.String("class", string(a.ClassKind)),
			zap.Bool("first_reception", rec.IsFirst),
			zap.Int("jobs", len(c.Strategies)),
		)
	}
	return true, nil
}

// dispatch runs the significant-and-not-yet-dispatched path: open the
// notification thread, persist and enqueue every planned job, then set the
// dispatch-completion marker. Any failure leaves the offset uncommitted; on
// redelivery the deterministic job ids make re-enqueueing harmless.
func (c *Consumer) dispatch(ctx context.Context, a *alert.Alert, verdict alert.Verdict, rec repository.Reception) error {
	threadRef := rec.ThreadRef
	if threadRef == nil && c.Notifier != nil {
		// Notification is best effort: a chat outage must not stall dispatch.
		ref, err := c.Notifier.AlertRaised(ctx, a, verdict, nil)
		if err != nil {
			if c.Logger != nil {
				c.Logger.Warn("alert notification failed",
					zap.String("event_id", a.EventID),
					zap.Error(err),
				)
			}
		} else if ref != "" {
			if err := c.withRetry(ctx, "attach thread ref", func() error {
				stored, err := c.Store.AttachThreadRef(ctx, a.EventID, ref)
				if err == nil {
					threadRef = &stored
				}
				return err
			}); err != nil {
				return err
			}
		}
	}

	jobs := plan.Plan(a, c.Strategies)
	for _, job := range jobs {
		job := job
		if err := c.withRetry(ctx, "persist job", func() error {
			_, err := c.Store.InsertJob(ctx, jobRow(job, c.now()))
			return err
		}); err != nil {
			return err
		}
		if err := c.withRetry(ctx, "enqueue job", func() error {
			accepted, err := c.Queue.Enqueue(ctx, job)
			if err == nil && !accepted && c.Logger != nil {
				c.Logger.Info("job deduplicated by queue",
					zap.String("job_id", job.JobID),
					zap.String("event_id", job.EventID),
				)
			}
			return err
		}); err != nil {
			return err
		}
	}

	return c.withRetry(ctx, "mark dispatched", func() error {
		return c.Store.MarkDispatched(ctx, a.EventID, c.now())
	})
}

func jobRow(job queue.Job, now time.Time) *models.StrategyJob {
	group := job.TelescopeGroup
	if group == nil {
		group = []string{}
	}
	encoded, err := json.Marshal(group)
	if err != nil {
		encoded = []byte(`[]`)
	}
	return &models.StrategyJob{
		JobID:          job.JobID,
		EventID:        job.EventID,
		StrategyIndex:  job.StrategyIndex,
		StrategyKind:   job.StrategyKind,
		TelescopeGroup: datatypes.JSON(encoded),
		TileCount:      job.TileCount,
		Status:         models.JobStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// withRetry retries a transient operation with exponential backoff and
// jitter up to the configured attempt ceiling.
func (c *Consumer) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := c.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		if i == attempts {
			break
		}
		if c.Logger != nil {
			c.Logger.Warn("operation failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", i),
				zap.Error(err),
			)
		}
		delay := backoff + time.Duration(rand.Int63n(int64(backoff/2)+1))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (c *Consumer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}
