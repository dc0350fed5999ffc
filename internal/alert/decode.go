package alert

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DecodeReason classifies why a payload could not be decoded.
type DecodeReason string

const (
	ReasonMalformedEncoding     DecodeReason = "malformed-encoding"
	ReasonMissingRequiredField  DecodeReason = "missing-required-field"
	ReasonUnsupportedNoticeType DecodeReason = "unsupported-notice-type"
)

// DecodeError is the typed failure result of Decode. It is a value, not a
// panic: any malformed, truncated or schema-mismatched payload yields one.
type DecodeError struct {
	Reason DecodeReason
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode: %s (%s)", e.Reason, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type wireLocalization struct {
	DistanceMpc      *float64 `json:"distance_mpc"`
	DistanceSigmaMpc *float64 `json:"distance_sigma_mpc"`
	AreaDeg2         *float64 `json:"area_deg2"`
}

type wireEvent struct {
	Time           *string            `json:"time"`
	FAR            *float64           `json:"far"`
	Significant    *bool              `json:"significant"`
	Classification map[string]float64 `json:"classification"`
	Properties     map[string]float64 `json:"properties"`
	Localization   *wireLocalization  `json:"localization"`
}

type wireNotice struct {
	SupereventID string     `json:"superevent_id"`
	AlertType    string     `json:"alert_type"`
	Event        *wireEvent `json:"event"`
}

// Decode turns raw bus payload bytes into an Alert. It is pure and
// deterministic: the same bytes always produce the same Alert or the same
// DecodeError. Unknown fields are ignored for forward compatibility; missing
// identity fields are a hard failure.
func Decode(raw []byte) (*Alert, *DecodeError) {
	var n wireNotice
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, &DecodeError{Reason: ReasonMalformedEncoding, Err: err}
	}

	if strings.TrimSpace(n.SupereventID) == "" {
		return nil, &DecodeError{Reason: ReasonMissingRequiredField, Field: "superevent_id"}
	}

	noticeType := NoticeType(strings.ToUpper(strings.TrimSpace(n.AlertType)))
	switch noticeType {
	case NoticePreliminary, NoticeInitial, NoticeUpdate, NoticeRetraction:
	default:
		return nil, &DecodeError{Reason: ReasonUnsupportedNoticeType, Field: n.AlertType}
	}

	a := &Alert{
		EventID:    strings.TrimSpace(n.SupereventID),
		NoticeType: noticeType,
		RawPayload: raw,
	}

	if n.Event != nil {
		if n.Event.Time != nil {
			// An unparseable event time degrades to absent; it is not an
			// identity field.
			if ts, err := time.Parse(time.RFC3339, *n.Event.Time); err == nil {
				utc := ts.UTC()
				a.EventTime = &utc
			}
		}
		a.FalseAlarmRate = n.Event.FAR
		a.UpstreamSignificant = n.Event.Significant
		if len(n.Event.Classification) > 0 {
			a.ClassProbabilities = make(map[ClassKind]float64, len(n.Event.Classification))
			for k, v := range n.Event.Classification {
				a.ClassProbabilities[ClassKind(k)] = v
			}
			a.ClassKind = dominantClass(a.ClassProbabilities)
		}
		if p, ok := n.Event.Properties["HasNS"]; ok {
			v := p
			a.HasNS = &v
		}
		if p, ok := n.Event.Properties["HasRemnant"]; ok {
			v := p
			a.HasRemnant = &v
		}
		if loc := n.Event.Localization; loc != nil {
			a.DistanceMpc = loc.DistanceMpc
			a.DistanceSigmaMpc = loc.DistanceSigmaMpc
			a.AreaDeg2 = loc.AreaDeg2
		}
	}

	if a.ClassKind == "" {
		// Retractions legitimately carry no classification.
		if noticeType == NoticeRetraction {
			a.ClassKind = ClassUnclassified
		} else {
			return nil, &DecodeError{Reason: ReasonMissingRequiredField, Field: "event.classification"}
		}
	}

	return a, nil
}

// dominantClass picks the argmax of the probability map. Ties break on kind
// name so repeated decodes of the same bytes agree.
func dominantClass(probs map[ClassKind]float64) ClassKind {
	kinds := make([]ClassKind, 0, len(probs))
	for k := range probs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	best := kinds[0]
	for _, k := range kinds[1:] {
		if probs[k] > probs[best] {
			best = k
		}
	}
	return best
}
