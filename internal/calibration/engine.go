package calibration

import (
	"context"
	"sync"
	"time"

	"github.com/CanopyHQ/librarian/internal/knowledge"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// maxObservations bounds the in-memory prediction window the feedback loop
// streams into the engine.
const maxObservations = 5000

// PackSource is the slice of the knowledge store the engine reads.
type PackSource interface {
	GetContextPacks(ctx context.Context, filter knowledge.PackFilter) ([]knowledge.ContextPack, error)
}

// Engine computes calibration reports and keeps a rolling window of live
// predictions fed by the feedback loop. Reports built from storage are
// cached per bucket count for the configured TTL so repeated calls inside
// the window reuse the prior report instead of rescanning.
type Engine struct {
	mu           sync.Mutex
	observations []Prediction
	reports      *expirable.LRU[int, *Report]
	ttl          time.Duration
	log          *zap.Logger
}

// NewEngine creates an engine. ttl 0 disables report caching.
func NewEngine(ttl time.Duration, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{ttl: ttl, log: log}
	if ttl > 0 {
		e.reports = expirable.NewLRU[int, *Report](8, nil, ttl)
	}
	return e
}

// FromStoreOptions configures FromStore.
type FromStoreOptions struct {
	// BucketCount defaults to DefaultBucketCount.
	BucketCount int
}

// FromStore builds a calibration report from context pack outcome counts.
// A pack's label is correct when successCount/(successCount+failureCount)
// >= 0.5; packs with zero observations are excluded. The result is cached
// per bucket count for the engine TTL.
func (e *Engine) FromStore(ctx context.Context, src PackSource, opts FromStoreOptions) (*Report, error) {
	bucketCount := opts.BucketCount
	if bucketCount == 0 {
		bucketCount = DefaultBucketCount
	}

	if e.reports != nil {
		if cached, ok := e.reports.Get(bucketCount); ok {
			return cached, nil
		}
	}

	packs, err := src.GetContextPacks(ctx, knowledge.PackFilter{})
	if err != nil {
		return nil, err
	}

	var predictions []Prediction
	for _, pack := range packs {
		observations := pack.SuccessCount + pack.FailureCount
		if observations == 0 {
			continue
		}
		rate := float64(pack.SuccessCount) / float64(observations)
		predictions = append(predictions, Prediction{
			Confidence: pack.Confidence,
			Correct:    rate >= 0.5,
		})
	}

	report, err := Compute(predictions, bucketCount)
	if err != nil {
		return nil, err
	}

	if e.reports != nil {
		e.reports.Add(bucketCount, report)
	}
	e.log.Debug("calibration report computed",
		zap.Int("bucket_count", bucketCount),
		zap.Int("samples", report.SampleCount),
		zap.Float64("ece", report.ECE),
		zap.Float64("mce", report.MCE))
	return report, nil
}

// Record appends a live prediction from the feedback loop. The window is
// bounded; the oldest half is dropped when it fills.
func (e *Engine) Record(p Prediction) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.observations) >= maxObservations {
		half := maxObservations / 2
		e.observations = append(e.observations[:0], e.observations[half:]...)
	}
	e.observations = append(e.observations, p)
}

// ObservationCount reports the live prediction window size.
func (e *Engine) ObservationCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.observations)
}

// CurrentECE computes the expected calibration error over the live
// prediction window. Zero when no observations have been recorded.
func (e *Engine) CurrentECE(numBins int) float64 {
	e.mu.Lock()
	window := make([]Prediction, len(e.observations))
	copy(window, e.observations)
	e.mu.Unlock()

	report, err := Compute(window, numBins)
	if err != nil {
		return 0
	}
	return report.ECE
}
