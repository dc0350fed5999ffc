package alert

// Criterion names one reason contributing to a significance verdict.
type Criterion string

const (
	CriterionMockEvent              Criterion = "mock-event"
	CriterionRetracted              Criterion = "retracted"
	CriterionUpstreamNotSignificant Criterion = "upstream-not-significant"
	CriterionNoCutoffForClass       Criterion = "no-cutoff-for-class"
	CriterionProbabilityBelowCutoff Criterion = "probability-below-cutoff"
	CriterionProbabilityMet         Criterion = "probability-met"
	CriterionDistanceAboveCutoff    Criterion = "distance-above-cutoff"
	CriterionDistanceWithinCutoff   Criterion = "distance-within-cutoff"
	CriterionDistanceUnknown        Criterion = "distance-unknown"
	CriterionAreaAboveCutoff        Criterion = "area-above-cutoff"
	CriterionAreaWithinCutoff       Criterion = "area-within-cutoff"
	CriterionAreaUnknown            Criterion = "area-unknown"
)

// Thresholds is the externally supplied significance policy. Per-class maps
// override the global cutoffs; a nil global cutoff disables that criterion.
type Thresholds struct {
	Probability map[ClassKind]float64

	DistanceMpc        *float64
	DistanceMpcByClass map[ClassKind]float64

	AreaDeg2        *float64
	AreaDeg2ByClass map[ClassKind]float64
}

func (t Thresholds) distanceCutoff(k ClassKind) *float64 {
	if v, ok := t.DistanceMpcByClass[k]; ok {
		return &v
	}
	return t.DistanceMpc
}

func (t Thresholds) areaCutoff(k ClassKind) *float64 {
	if v, ok := t.AreaDeg2ByClass[k]; ok {
		return &v
	}
	return t.AreaDeg2
}

// Verdict is the result of classification, with the criteria that produced it.
type Verdict struct {
	Significant bool
	Reasons     []Criterion
}

// Classify applies the threshold policy to an alert. It is pure and total:
// identical inputs always yield identical verdicts, and absent optional
// fields never disqualify on their own (recall over precision).
//
// An alert is significant when the dominant-class probability meets its
// cutoff, the distance is unknown or within the (per-class) cutoff, and the
// error-region area is unknown or within the (per-class) cutoff. Mock events,
// retractions and notices the upstream pipeline itself flags as not
// significant are never significant.
func Classify(a *Alert, t Thresholds) Verdict {
	if a == nil {
		return Verdict{Significant: false, Reasons: []Criterion{CriterionNoCutoffForClass}}
	}
	if a.Mock() {
		return Verdict{Significant: false, Reasons: []Criterion{CriterionMockEvent}}
	}
	if a.Retracted() {
		return Verdict{Significant: false, Reasons: []Criterion{CriterionRetracted}}
	}
	if a.UpstreamSignificant != nil && !*a.UpstreamSignificant {
		return Verdict{Significant: false, Reasons: []Criterion{CriterionUpstreamNotSignificant}}
	}

	var reasons []Criterion
	significant := true

	cutoff, ok := t.Probability[a.ClassKind]
	switch {
	case !ok:
		significant = false
		reasons = append(reasons, CriterionNoCutoffForClass)
	case a.ClassProbabilities[a.ClassKind] >= cutoff:
		reasons = append(reasons, CriterionProbabilityMet)
	default:
		significant = false
		reasons = append(reasons, CriterionProbabilityBelowCutoff)
	}

	switch dc := t.distanceCutoff(a.ClassKind); {
	case a.DistanceMpc == nil:
		reasons = append(reasons, CriterionDistanceUnknown)
	case dc == nil || *a.DistanceMpc < *dc:
		reasons = append(reasons, CriterionDistanceWithinCutoff)
	default:
		significant = false
		reasons = append(reasons, CriterionDistanceAboveCutoff)
	}

	switch ac := t.areaCutoff(a.ClassKind); {
	case a.AreaDeg2 == nil:
		reasons = append(reasons, CriterionAreaUnknown)
	case ac == nil || *a.AreaDeg2 < *ac:
		reasons = append(reasons, CriterionAreaWithinCutoff)
	default:
		significant = false
		reasons = append(reasons, CriterionAreaAboveCutoff)
	}

	return Verdict{Significant: significant, Reasons: reasons}
}
