package feedback

// BiasDirection labels which way stated confidence drifts from reality.
type BiasDirection string

const (
	BiasOverconfident  BiasDirection = "overconfident"
	BiasUnderconfident BiasDirection = "underconfident"
	BiasWellCalibrated BiasDirection = "well-calibrated"
)

// minBiasSamples is the outcome count below which analysis is withheld.
const minBiasSamples = 10

// BiasReport summarizes calibration drift over recent outcomes.
type BiasReport struct {
	Direction      BiasDirection `json:"direction"`
	Magnitude      float64       `json:"magnitude"`
	SampleCount    int           `json:"sample_count"`
	Recommendation string        `json:"recommendation"`
}

// AnalyzeBias compares average stated confidence against the empirical
// success rate over the recent outcome window. Magnitude is the current
// expected calibration error of the live prediction stream. With fewer than
// ten recorded outcomes the report declines to judge.
func (l *Loop) AnalyzeBias() BiasReport {
	l.mu.Lock()
	sampleCount := len(l.ring)
	var successes int
	var ringStated float64
	for _, o := range l.ring {
		if o.Success {
			successes++
		}
		ringStated += o.StatedConfidence
	}
	var taskStated float64
	taskCount := len(l.tasks)
	for _, t := range l.tasks {
		taskStated += t.StatedConfidence
	}
	l.mu.Unlock()

	if sampleCount < minBiasSamples {
		return BiasReport{
			Direction:      BiasWellCalibrated,
			SampleCount:    sampleCount,
			Recommendation: "insufficient data: record more task outcomes before drawing conclusions",
		}
	}

	// prefer in-flight stated confidence, fall back to the outcome window
	stated := ringStated / float64(sampleCount)
	if taskCount > 0 {
		stated = taskStated / float64(taskCount)
	}
	actual := float64(successes) / float64(sampleCount)

	direction := BiasWellCalibrated
	switch {
	case stated > actual+0.1:
		direction = BiasOverconfident
	case stated < actual-0.1:
		direction = BiasUnderconfident
	}

	var magnitude float64
	if l.engine != nil {
		magnitude = l.engine.CurrentECE(10)
	}

	return BiasReport{
		Direction:      direction,
		Magnitude:      magnitude,
		SampleCount:    sampleCount,
		Recommendation: recommend(direction, magnitude),
	}
}

func recommend(direction BiasDirection, magnitude float64) string {
	switch {
	case magnitude > 0.3:
		if direction == BiasUnderconfident {
			return "severe underconfidence: stated confidence runs far below observed success, raise estimates"
		}
		return "severe miscalibration: stated confidence is a poor predictor, lower estimates until outcomes catch up"
	case magnitude > 0.15:
		if direction == BiasOverconfident {
			return "moderate overconfidence: discount stated confidence before acting on it"
		}
		if direction == BiasUnderconfident {
			return "moderate underconfidence: estimates can be trusted more than stated"
		}
		return "moderate calibration error with no consistent direction, keep collecting outcomes"
	default:
		return "calibration is healthy, no correction needed"
	}
}
