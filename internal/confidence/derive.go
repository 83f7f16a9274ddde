package confidence

// provenance rank, most authoritative first. A derived value inherits the
// weakest provenance of its inputs.
var provenanceRank = map[Provenance]int{
	ProvenanceFormalAnalysis: 0,
	ProvenanceEmpirical:      1,
	ProvenanceLiterature:     2,
	ProvenanceTheoretical:    3,
}

// DeriveSequential folds a pipeline of per-stage estimates into a single
// estimate for the whole pipeline. Each stage must succeed for the pipeline
// to succeed, so point estimates multiply and the result can only shrink
// (discounting). If any stage is Absent the pipeline estimate is Absent with
// that stage's reason. An empty pipeline has no observations.
func DeriveSequential(values []Value) Value {
	if len(values) == 0 {
		return Absent(ReasonNoObservations)
	}

	allDeterministic := true
	low, high := 1.0, 1.0
	worst := ProvenanceFormalAnalysis
	for _, v := range values {
		if v.IsAbsent() {
			return Absent(v.Reason())
		}
		l, h, _ := v.Interval()
		low *= l
		high *= h
		if v.Kind() == KindBounded {
			allDeterministic = false
			if provenanceRank[v.Provenance()] > provenanceRank[worst] {
				worst = v.Provenance()
			}
		}
	}

	if allDeterministic {
		return Deterministic(low)
	}
	return Bounded(low, high, worst, "sequential derivation")
}
