package alert

import (
	"reflect"
	"testing"
)

func f64(v float64) *float64 { return &v }

func defaultThresholds() Thresholds {
	return Thresholds{
		Probability: map[ClassKind]float64{
			ClassBBH:  0.5,
			ClassBNS:  0.3,
			ClassNSBH: 0.3,
		},
		DistanceMpc: f64(500),
		AreaDeg2:    f64(1000),
		AreaDeg2ByClass: map[ClassKind]float64{
			ClassBBH: 500,
		},
	}
}

func TestClassify_SignificantBBH(t *testing.T) {
	a := &Alert{
		EventID:            "S260815ab",
		NoticeType:         NoticePreliminary,
		ClassKind:          ClassBBH,
		ClassProbabilities: map[ClassKind]float64{ClassBBH: 0.9},
		DistanceMpc:        f64(200),
	}
	v := Classify(a, defaultThresholds())
	if !v.Significant {
		t.Fatalf("verdict=%+v want significant", v)
	}
	hasReason(t, v, CriterionProbabilityMet)
	hasReason(t, v, CriterionDistanceWithinCutoff)
	hasReason(t, v, CriterionAreaUnknown)
}

func TestClassify_ProbabilityBelowCutoff(t *testing.T) {
	a := &Alert{
		EventID:            "S260815ac",
		ClassKind:          ClassBBH,
		ClassProbabilities: map[ClassKind]float64{ClassBBH: 0.1},
		DistanceMpc:        f64(200),
	}
	v := Classify(a, defaultThresholds())
	if v.Significant {
		t.Fatalf("verdict=%+v want not significant", v)
	}
	hasReason(t, v, CriterionProbabilityBelowCutoff)
}

func TestClassify_DistanceAboveCutoff(t *testing.T) {
	a := &Alert{
		EventID:            "S1",
		ClassKind:          ClassBNS,
		ClassProbabilities: map[ClassKind]float64{ClassBNS: 0.8},
		DistanceMpc:        f64(900),
	}
	v := Classify(a, defaultThresholds())
	if v.Significant {
		t.Fatalf("verdict=%+v want not significant", v)
	}
	hasReason(t, v, CriterionDistanceAboveCutoff)
}

func TestClassify_PerClassAreaCutoff(t *testing.T) {
	// 700 deg2 passes the global 1000 cutoff but fails the BBH override of 500.
	bbh := &Alert{
		EventID:            "S2",
		ClassKind:          ClassBBH,
		ClassProbabilities: map[ClassKind]float64{ClassBBH: 0.9},
		AreaDeg2:           f64(700),
	}
	if v := Classify(bbh, defaultThresholds()); v.Significant {
		t.Fatalf("BBH verdict=%+v want not significant", v)
	}
	bns := &Alert{
		EventID:            "S3",
		ClassKind:          ClassBNS,
		ClassProbabilities: map[ClassKind]float64{ClassBNS: 0.9},
		AreaDeg2:           f64(700),
	}
	if v := Classify(bns, defaultThresholds()); !v.Significant {
		t.Fatalf("BNS verdict=%+v want significant", v)
	}
}

func TestClassify_UnknownFieldsPass(t *testing.T) {
	a := &Alert{
		EventID:            "S4",
		ClassKind:          ClassNSBH,
		ClassProbabilities: map[ClassKind]float64{ClassNSBH: 0.7},
	}
	v := Classify(a, defaultThresholds())
	if !v.Significant {
		t.Fatalf("verdict=%+v: absent distance/area must not disqualify", v)
	}
	hasReason(t, v, CriterionDistanceUnknown)
	hasReason(t, v, CriterionAreaUnknown)
}

func TestClassify_NoCutoffForClass(t *testing.T) {
	a := &Alert{
		EventID:            "S5",
		ClassKind:          ClassTerrestrial,
		ClassProbabilities: map[ClassKind]float64{ClassTerrestrial: 0.99},
	}
	v := Classify(a, defaultThresholds())
	if v.Significant {
		t.Fatalf("verdict=%+v want not significant", v)
	}
	hasReason(t, v, CriterionNoCutoffForClass)
}

func TestClassify_MockAndRetraction(t *testing.T) {
	mock := &Alert{
		EventID:            "MS260815x",
		ClassKind:          ClassBBH,
		ClassProbabilities: map[ClassKind]float64{ClassBBH: 0.99},
	}
	if v := Classify(mock, defaultThresholds()); v.Significant {
		t.Fatalf("mock verdict=%+v want not significant", v)
	}
	retr := &Alert{
		EventID:    "S6",
		NoticeType: NoticeRetraction,
		ClassKind:  ClassUnclassified,
	}
	if v := Classify(retr, defaultThresholds()); v.Significant {
		t.Fatalf("retraction verdict=%+v want not significant", v)
	}
}

func TestClassify_UpstreamFlag(t *testing.T) {
	no := false
	a := &Alert{
		EventID:             "S7",
		ClassKind:           ClassBBH,
		ClassProbabilities:  map[ClassKind]float64{ClassBBH: 0.95},
		UpstreamSignificant: &no,
	}
	v := Classify(a, defaultThresholds())
	if v.Significant {
		t.Fatalf("verdict=%+v want not significant", v)
	}
	hasReason(t, v, CriterionUpstreamNotSignificant)
}

func TestClassify_Deterministic(t *testing.T) {
	a := &Alert{
		EventID:            "S8",
		ClassKind:          ClassBNS,
		ClassProbabilities: map[ClassKind]float64{ClassBNS: 0.6, ClassBBH: 0.2},
		DistanceMpc:        f64(120),
		AreaDeg2:           f64(80),
	}
	th := defaultThresholds()
	first := Classify(a, th)
	for i := 0; i < 20; i++ {
		if next := Classify(a, th); !reflect.DeepEqual(first, next) {
			t.Fatalf("classify not deterministic: %+v vs %+v", first, next)
		}
	}
}

func hasReason(t *testing.T, v Verdict, want Criterion) {
	t.Helper()
	for _, r := range v.Reasons {
		if r == want {
			return
		}
	}
	t.Fatalf("reasons=%v want contains %q", v.Reasons, want)
}
