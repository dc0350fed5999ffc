package notify

import (
	"context"

	"skywatch/internal/alert"
)

// Notifier is the outbound notification collaborator. The first AlertRaised
// call for an event returns an opaque thread reference; follow-ups for the
// same event are threaded under it.
type Notifier interface {
	AlertRaised(ctx context.Context, a *alert.Alert, v alert.Verdict, threadRef *string) (string, error)
	JobFinished(ctx context.Context, eventID, jobID, status string, resultLocation *string) error
}

// Noop discards all notifications. Used when chat notification is disabled
// and in tests.
type Noop struct{}

func (Noop) AlertRaised(ctx context.Context, a *alert.Alert, v alert.Verdict, threadRef *string) (string, error) {
	if threadRef != nil {
		return *threadRef, nil
	}
	return "", nil
}

func (Noop) JobFinished(ctx context.Context, eventID, jobID, status string, resultLocation *string) error {
	return nil
}
