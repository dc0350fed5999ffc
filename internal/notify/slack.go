package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"skywatch/internal/alert"
)

// ThreadSource resolves the stored thread reference for an event, so job
// completion messages land in the alert's thread.
type ThreadSource interface {
	AttachThreadRef(ctx context.Context, eventID, ref string) (string, error)
}

// SlackNotifier posts alerts to a channel and threads all follow-ups under
// the first message, mirroring how the observation campaign coordinates in
// chat. The returned thread reference is the Slack message timestamp.
type SlackNotifier struct {
	Client  *slack.Client
	Channel string
	Threads ThreadSource
}

func NewSlackNotifier(token, channel string, threads ThreadSource) *SlackNotifier {
	return &SlackNotifier{
		Client:  slack.New(token),
		Channel: channel,
		Threads: threads,
	}
}

func (n *SlackNotifier) AlertRaised(ctx context.Context, a *alert.Alert, v alert.Verdict, threadRef *string) (string, error) {
	if n == nil || n.Client == nil {
		return "", fmt.Errorf("slack notifier not initialized")
	}
	opts := []slack.MsgOption{
		slack.MsgOptionText(formatAlert(a, v), false),
	}
	if threadRef != nil && *threadRef != "" {
		opts = append(opts, slack.MsgOptionTS(*threadRef))
	}
	_, ts, err := n.Client.PostMessageContext(ctx, n.Channel, opts...)
	if err != nil {
		return "", fmt.Errorf("post alert message: %w", err)
	}
	if threadRef != nil && *threadRef != "" {
		return *threadRef, nil
	}
	return ts, nil
}

func (n *SlackNotifier) JobFinished(ctx context.Context, eventID, jobID, status string, resultLocation *string) error {
	if n == nil || n.Client == nil {
		return fmt.Errorf("slack notifier not initialized")
	}
	text := fmt.Sprintf("Observation plan job `%s` for *%s*: %s", jobID, eventID, status)
	if resultLocation != nil && *resultLocation != "" {
		text += "\nPlan: " + *resultLocation
	}
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if n.Threads != nil {
		// An empty ref attach is a read: it returns the stored value if any.
		if ref, err := n.Threads.AttachThreadRef(ctx, eventID, ""); err == nil && ref != "" {
			opts = append(opts, slack.MsgOptionTS(ref))
		}
	}
	_, _, err := n.Client.PostMessageContext(ctx, n.Channel, opts...)
	if err != nil {
		return fmt.Errorf("post job message: %w", err)
	}
	return nil
}

func formatAlert(a *alert.Alert, v alert.Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*New gravitational-wave alert %s* (%s)\n", a.EventID, a.NoticeType)
	fmt.Fprintf(&b, "Class: %s", a.ClassKind)
	if p, ok := a.ClassProbabilities[a.ClassKind]; ok {
		fmt.Fprintf(&b, " (p=%.2f)", p)
	}
	b.WriteString("\n")
	if a.DistanceMpc != nil {
		fmt.Fprintf(&b, "Distance: %.0f Mpc", *a.DistanceMpc)
		if a.DistanceSigmaMpc != nil {
			fmt.Fprintf(&b, " ± %.0f", *a.DistanceSigmaMpc)
		}
		b.WriteString("\n")
	}
	if a.AreaDeg2 != nil {
		fmt.Fprintf(&b, "90%% area: %.0f deg²\n", *a.AreaDeg2)
	}
	if a.FalseAlarmRate != nil {
		fmt.Fprintf(&b, "FAR: %.3g Hz\n", *a.FalseAlarmRate)
	}
	if v.Significant {
		b.WriteString("Significant: observation strategies dispatched.")
	} else {
		fmt.Fprintf(&b, "Not significant (%s).", joinCriteria(v.Reasons))
	}
	return b.String()
}

func joinCriteria(reasons []alert.Criterion) string {
	parts := make([]string, 0, len(reasons))
	for _, r := range reasons {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ", ")
}
