package calibration

import (
	"math"

	"github.com/CanopyHQ/librarian/internal/knowledge"
)

// DefaultMinSamplesForFullWeight is the bucket sample count at which the
// empirical accuracy fully replaces the raw confidence.
const DefaultMinSamplesForFullWeight = 20

// CalibratedPack is a context pack with its confidence re-weighted against
// the calibration report. RawConfidence preserves the stored value.
type CalibratedPack struct {
	knowledge.ContextPack
	RawConfidence float64 `json:"raw_confidence"`
	Uncertainty   float64 `json:"uncertainty"`
}

// ApplyOptions configures ApplyToPacks.
type ApplyOptions struct {
	// MinSamplesForFullWeight defaults to DefaultMinSamplesForFullWeight.
	MinSamplesForFullWeight int
}

// ApplyToPacks blends each pack's raw confidence toward the observed
// accuracy of its calibration bucket. The blend weight is proportional to
// min(1, bucketSamples/minSamplesForFullWeight): low-sample buckets barely
// move the estimate while saturated buckets replace it with empirical
// accuracy. Uncertainty shrinks as the bucket fills.
func ApplyToPacks(packs []knowledge.ContextPack, report *Report, opts ApplyOptions) []CalibratedPack {
	minSamples := opts.MinSamplesForFullWeight
	if minSamples <= 0 {
		minSamples = DefaultMinSamplesForFullWeight
	}

	out := make([]CalibratedPack, 0, len(packs))
	for _, pack := range packs {
		cp := CalibratedPack{ContextPack: pack, RawConfidence: pack.Confidence, Uncertainty: 1}

		var bucket *Bucket
		if report != nil {
			bucket = report.bucketFor(pack.Confidence)
		}
		if bucket != nil && bucket.Count > 0 {
			weight := math.Min(1, float64(bucket.Count)/float64(minSamples))
			calibrated := pack.Confidence*(1-weight) + bucket.Accuracy*weight
			cp.Confidence = knowledge.ClampPackConfidence(clamp01(calibrated))
			cp.Uncertainty = 1 / math.Sqrt(float64(bucket.Count)+1)
		}
		out = append(out, cp)
	}
	return out
}
