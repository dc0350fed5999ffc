package plan

import (
	"testing"

	"skywatch/internal/alert"
)

func testStrategies() []Strategy {
	return []Strategy{
		{Telescopes: []string{"TCA", "TCH"}, TileCount: 20, Kind: KindTiling},
		{Telescopes: []string{"Makes-60"}, TileCount: 50, Kind: KindGalaxyTargeting},
	}
}

func TestPlan_OneJobPerStrategyInOrder(t *testing.T) {
	a := &alert.Alert{EventID: "S260815ab", ClassKind: alert.ClassBBH}
	jobs := Plan(a, testStrategies())
	if len(jobs) != 2 {
		t.Fatalf("jobs=%d want 2", len(jobs))
	}
	for i, j := range jobs {
		if j.StrategyIndex != i {
			t.Fatalf("job %d index=%d", i, j.StrategyIndex)
		}
		if j.EventID != "S260815ab" {
			t.Fatalf("job %d event_id=%q", i, j.EventID)
		}
	}
	if jobs[0].StrategyKind != KindTiling || jobs[1].StrategyKind != KindGalaxyTargeting {
		t.Fatalf("kinds=%q,%q", jobs[0].StrategyKind, jobs[1].StrategyKind)
	}
	if jobs[1].TileCount != 50 {
		t.Fatalf("tile_count=%d", jobs[1].TileCount)
	}
}

func TestPlan_DeterministicJobIDs(t *testing.T) {
	a := &alert.Alert{EventID: "S260815ab"}
	first := Plan(a, testStrategies())
	for run := 0; run < 5; run++ {
		next := Plan(a, testStrategies())
		if len(next) != len(first) {
			t.Fatalf("len=%d want %d", len(next), len(first))
		}
		for i := range first {
			if first[i].JobID != next[i].JobID {
				t.Fatalf("job %d id drifted: %q vs %q", i, first[i].JobID, next[i].JobID)
			}
		}
	}
}

func TestPlan_DistinctIDsAcrossSlotsAndEvents(t *testing.T) {
	a := &alert.Alert{EventID: "S1"}
	b := &alert.Alert{EventID: "S2"}
	ja := Plan(a, testStrategies())
	jb := Plan(b, testStrategies())
	seen := map[string]bool{}
	for _, j := range append(ja, jb...) {
		if seen[j.JobID] {
			t.Fatalf("duplicate job id %q", j.JobID)
		}
		seen[j.JobID] = true
	}
}

func TestPlan_ParametersCapturedNotAliased(t *testing.T) {
	strategies := testStrategies()
	a := &alert.Alert{EventID: "S3"}
	jobs := Plan(a, strategies)
	strategies[0].Telescopes[0] = "mutated"
	if jobs[0].TelescopeGroup[0] != "TCA" {
		t.Fatalf("telescope group aliased to config: %v", jobs[0].TelescopeGroup)
	}
}

func TestPlan_NilAndEmpty(t *testing.T) {
	if jobs := Plan(nil, testStrategies()); jobs != nil {
		t.Fatalf("nil alert jobs=%v", jobs)
	}
	if jobs := Plan(&alert.Alert{EventID: "S4"}, nil); jobs != nil {
		t.Fatalf("empty config jobs=%v", jobs)
	}
}
