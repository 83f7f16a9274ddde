// Package calibration quantifies how well stated confidence predicts actual
// correctness. It bins (confidence, correctness) pairs, computes Expected
// and Maximum Calibration Error, and lets callers re-weight stored pack
// confidence against the empirical record.
package calibration

import (
	"math"
	"time"

	"github.com/CanopyHQ/librarian/internal/errtag"
)

// DefaultBucketCount is the bin count used when callers pass zero.
const DefaultBucketCount = 10

// Prediction pairs a stated confidence with the observed correctness.
type Prediction struct {
	Confidence float64
	Correct    bool
}

// Bucket is one equal-width confidence bin.
type Bucket struct {
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
	Accuracy      float64 `json:"accuracy"`
	Error         float64 `json:"error"` // |avgConfidence - accuracy|
}

// Report is the computed calibration read-model. It is derived from pack
// outcome counts and never persisted as authoritative state.
type Report struct {
	ECE             float64   `json:"ece"`
	MCE             float64   `json:"mce"`
	Buckets         []Bucket  `json:"buckets"`
	SampleCount     int       `json:"sample_count"`
	OverallAccuracy float64   `json:"overall_accuracy"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Compute bins predictions into numBins equal-width bins over [0,1] and
// derives ECE (count-weighted mean bucket error) and MCE (max bucket
// error). Empty bins report the bin midpoint as avgConfidence and carry
// zero weight so they cannot distort either number. Zero predictions yield
// an empty report.
func Compute(predictions []Prediction, numBins int) (*Report, error) {
	if numBins < 0 {
		return nil, errtag.New(errtag.InvalidBucket, "bucket count must be non-negative, got %d", numBins)
	}
	if numBins == 0 {
		numBins = DefaultBucketCount
	}

	report := &Report{GeneratedAt: time.Now().UTC(), Buckets: []Bucket{}}
	if len(predictions) == 0 {
		return report, nil
	}

	width := 1.0 / float64(numBins)
	sums := make([]float64, numBins)
	correct := make([]int, numBins)
	counts := make([]int, numBins)
	totalCorrect := 0

	for _, p := range predictions {
		c := clamp01(p.Confidence)
		idx := int(c * float64(numBins))
		if idx >= numBins { // confidence 1.0 lands in the top bin
			idx = numBins - 1
		}
		sums[idx] += c
		counts[idx]++
		if p.Correct {
			correct[idx]++
			totalCorrect++
		}
	}

	total := float64(len(predictions))
	var ece, mce float64
	for i := 0; i < numBins; i++ {
		b := Bucket{
			Lower: float64(i) * width,
			Upper: float64(i+1) * width,
			Count: counts[i],
		}
		if counts[i] == 0 {
			b.AvgConfidence = (b.Lower + b.Upper) / 2
		} else {
			b.AvgConfidence = sums[i] / float64(counts[i])
			b.Accuracy = float64(correct[i]) / float64(counts[i])
			b.Error = math.Abs(b.AvgConfidence - b.Accuracy)
			ece += (float64(counts[i]) / total) * b.Error
			if b.Error > mce {
				mce = b.Error
			}
		}
		report.Buckets = append(report.Buckets, b)
	}

	report.ECE = ece
	report.MCE = mce
	report.SampleCount = len(predictions)
	report.OverallAccuracy = float64(totalCorrect) / total
	return report, nil
}

// bucketFor locates the report bucket a raw confidence falls into.
func (r *Report) bucketFor(confidence float64) *Bucket {
	if len(r.Buckets) == 0 {
		return nil
	}
	idx := int(clamp01(confidence) * float64(len(r.Buckets)))
	if idx >= len(r.Buckets) {
		idx = len(r.Buckets) - 1
	}
	return &r.Buckets[idx]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
