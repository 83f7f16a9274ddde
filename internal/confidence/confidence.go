// Package confidence implements the confidence value algebra shared by the
// knowledge store, calibration engine and feedback loop. A Value is one of
// three variants: an exact Deterministic estimate, a Bounded interval with a
// provenance tag, or Absent when no usable estimate exists. Consumers switch
// on Kind and must handle Absent explicitly rather than treating it as zero.
package confidence

import "fmt"

// Kind discriminates the Value variants.
type Kind int

const (
	KindDeterministic Kind = iota
	KindBounded
	KindAbsent
)

func (k Kind) String() string {
	switch k {
	case KindDeterministic:
		return "deterministic"
	case KindBounded:
		return "bounded"
	case KindAbsent:
		return "absent"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Provenance identifies where a bounded estimate came from.
type Provenance string

const (
	ProvenanceFormalAnalysis Provenance = "formal_analysis"
	ProvenanceEmpirical      Provenance = "empirical"
	ProvenanceLiterature     Provenance = "literature"
	ProvenanceTheoretical    Provenance = "theoretical"
)

// AbsentReason explains why no estimate is available.
type AbsentReason string

const (
	ReasonUncalibrated        AbsentReason = "uncalibrated"
	ReasonNoObservations      AbsentReason = "no_observations"
	ReasonConflictingEvidence AbsentReason = "conflicting_evidence"
)

// Value is an immutable confidence estimate.
type Value struct {
	kind       Kind
	value      float64 // deterministic
	low, high  float64 // bounded
	provenance Provenance
	rationale  string
	reason     AbsentReason
}

// Deterministic builds an exact estimate, clamped to [0,1]. Deterministic
// values are not subject to calibration.
func Deterministic(v float64) Value {
	return Value{kind: KindDeterministic, value: Clamp01(v)}
}

// Bounded builds an interval estimate. The bounds are clamped to [0,1] and
// swapped if inverted so that low <= high always holds.
func Bounded(low, high float64, provenance Provenance, rationale string) Value {
	low, high = Clamp01(low), Clamp01(high)
	if low > high {
		low, high = high, low
	}
	return Value{
		kind:       KindBounded,
		low:        low,
		high:       high,
		provenance: provenance,
		rationale:  rationale,
	}
}

// Absent builds the no-estimate variant.
func Absent(reason AbsentReason) Value {
	return Value{kind: KindAbsent, reason: reason}
}

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent is a convenience for the common guard.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Point returns the point estimate: the exact value for Deterministic, the
// interval midpoint for Bounded. ok is false for Absent.
func (v Value) Point() (p float64, ok bool) {
	switch v.kind {
	case KindDeterministic:
		return v.value, true
	case KindBounded:
		return (v.low + v.high) / 2, true
	}
	return 0, false
}

// Interval returns the bounds. Deterministic values collapse to a zero-width
// interval; ok is false for Absent.
func (v Value) Interval() (low, high float64, ok bool) {
	switch v.kind {
	case KindDeterministic:
		return v.value, v.value, true
	case KindBounded:
		return v.low, v.high, true
	}
	return 0, 0, false
}

// Provenance returns the source tag of a Bounded value ("" otherwise).
func (v Value) Provenance() Provenance { return v.provenance }

// Rationale returns the justification of a Bounded value ("" otherwise).
func (v Value) Rationale() string { return v.rationale }

// Reason returns the AbsentReason of an Absent value ("" otherwise).
func (v Value) Reason() AbsentReason { return v.reason }

func (v Value) String() string {
	switch v.kind {
	case KindDeterministic:
		return fmt.Sprintf("deterministic(%.3f)", v.value)
	case KindBounded:
		return fmt.Sprintf("bounded[%.3f,%.3f](%s)", v.low, v.high, v.provenance)
	default:
		return fmt.Sprintf("absent(%s)", v.reason)
	}
}

// Clamp01 clamps v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
