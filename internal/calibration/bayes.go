package calibration

// priorStrength is the pseudo-count mass assigned to the prior in
// BayesianDelta. A single observation can move the estimate by at most
// 1/(priorStrength+1).
const priorStrength = 10.0

// BayesianDelta returns a bounded confidence adjustment for a single
// pass/fail observation against a prior, without recomputing from full
// history. The prior is treated as the mean of a Beta distribution with
// priorStrength pseudo-counts; the delta is the posterior-mean shift after
// folding in one observation.
func BayesianDelta(prior float64, success bool) float64 {
	prior = clamp01(prior)
	alpha := prior * priorStrength
	beta := (1 - prior) * priorStrength
	if success {
		alpha++
	} else {
		beta++
	}
	posterior := alpha / (alpha + beta)
	return posterior - prior
}
