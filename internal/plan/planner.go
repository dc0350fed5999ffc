package plan

import (
	"fmt"

	"github.com/google/uuid"

	"skywatch/internal/alert"
	"skywatch/internal/queue"
)

// Strategy kinds understood by the downstream workers.
const (
	KindTiling          = "tiling"
	KindGalaxyTargeting = "galaxy-targeting"
)

// Strategy is one configured observation strategy slot: which telescopes
// participate, how many tiles to produce, and the planning algorithm.
type Strategy struct {
	Telescopes []string
	TileCount  int
	Kind       string
}

// jobNamespace seeds the deterministic job ids. Changing it would re-dispatch
// in-flight events after a deploy, so it is fixed.
var jobNamespace = uuid.MustParse("9d1c5c2a-40f1-4b07-9a2e-6d4f3a8b217c")

// JobID derives the stable id for one (event, strategy slot) pair. The same
// inputs always produce the same id, which is what lets the queue deduplicate
// re-planned dispatches.
func JobID(eventID string, strategyIndex int) string {
	return uuid.NewSHA1(jobNamespace, []byte(fmt.Sprintf("%s/%d", eventID, strategyIndex))).String()
}

// Plan emits one job per configured strategy, in configuration order, with
// the slot parameters captured at planning time. Re-running Plan for the
// same alert and configuration yields byte-identical job ids, so a retry
// after a partial enqueue is safe.
func Plan(a *alert.Alert, strategies []Strategy) []queue.Job {
	if a == nil || len(strategies) == 0 {
		return nil
	}
	jobs := make([]queue.Job, 0, len(strategies))
	for i, s := range strategies {
		group := make([]string, len(s.Telescopes))
		copy(group, s.Telescopes)
		jobs = append(jobs, queue.Job{
			JobID:          JobID(a.EventID, i),
			EventID:        a.EventID,
			StrategyIndex:  i,
			StrategyKind:   s.Kind,
			TelescopeGroup: group,
			TileCount:      s.TileCount,
		})
	}
	return jobs
}
