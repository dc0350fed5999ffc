package alert

import "time"

// ClassKind is the source classification category of a compact binary
// coalescence candidate, as reported by the upstream pipeline.
type ClassKind string

const (
	ClassBBH          ClassKind = "BBH"
	ClassBNS          ClassKind = "BNS"
	ClassNSBH         ClassKind = "NSBH"
	ClassTerrestrial  ClassKind = "Terrestrial"
	ClassUnclassified ClassKind = "Unclassified"
)

// NoticeType is the lifecycle stage of a notice for one superevent.
type NoticeType string

const (
	NoticePreliminary NoticeType = "PRELIMINARY"
	NoticeInitial     NoticeType = "INITIAL"
	NoticeUpdate      NoticeType = "UPDATE"
	NoticeRetraction  NoticeType = "RETRACTION"
)

// Alert is the decoded, immutable view of one bus notice. All pointer fields
// are optional on the wire; nil means the estimator did not report a value.
type Alert struct {
	EventID    string
	NoticeType NoticeType
	EventTime  *time.Time

	// Dominant classification and the full probability map. Probabilities come
	// from independent estimators and need not sum to 1.
	ClassKind          ClassKind
	ClassProbabilities map[ClassKind]float64

	DistanceMpc      *float64
	DistanceSigmaMpc *float64
	AreaDeg2         *float64
	FalseAlarmRate   *float64

	HasNS      *float64
	HasRemnant *float64

	// UpstreamSignificant is the pipeline's own significance flag. nil when the
	// notice does not carry one.
	UpstreamSignificant *bool

	// RawPayload is the original notice bytes, retained for audit and replay.
	RawPayload []byte
}

// Mock reports whether this is a test injection rather than a real candidate.
// Real superevent identifiers start with "S", mock ones with "M".
func (a *Alert) Mock() bool {
	return len(a.EventID) > 0 && a.EventID[0] == 'M'
}

// Retracted reports whether the notice withdraws the candidate.
func (a *Alert) Retracted() bool {
	return a.NoticeType == NoticeRetraction
}
