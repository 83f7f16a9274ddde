// Package feedback closes the loop between task outcomes and stored
// confidence. A Loop tracks in-flight tasks, infers outcomes from build and
// test signals, persists results against the context packs that informed the
// task, streams predictions into the calibration engine, and nudges pack
// confidence with bounded Bayesian adjustments under a per-entity rate limit.
package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CanopyHQ/librarian/internal/calibration"
	"github.com/CanopyHQ/librarian/internal/confidence"
	"github.com/CanopyHQ/librarian/internal/knowledge"
)

const (
	// outcomeRingSize bounds the dedup window for recordOutcome.
	outcomeRingSize = 1000

	// DefaultMaxUpdatesPerEntityPerHour caps confidence adjustments per pack.
	DefaultMaxUpdatesPerEntityPerHour = 4

	// DefaultEventBuffer is the outbound event channel capacity.
	DefaultEventBuffer = 64
)

// PackStore is the slice of the knowledge store the loop writes to.
type PackStore interface {
	RecordPackOutcome(ctx context.Context, packID string, success bool) error
	GetContextPack(ctx context.Context, packID string) (*knowledge.ContextPack, error)
	AdjustPackConfidence(ctx context.Context, packID string, delta float64) error
}

// Task is an in-flight unit of work awaiting an outcome.
type Task struct {
	ID               string    `json:"id"`
	Intent           string    `json:"intent"`
	PackIDs          []string  `json:"pack_ids"`
	StatedConfidence float64   `json:"stated_confidence"`
	Signals          []Signal  `json:"signals"`
	StartedAt        time.Time `json:"started_at"`
}

// Outcome records how a task ended.
type Outcome struct {
	TaskID           string   `json:"task_id"`
	Success          bool     `json:"success"`
	StatedConfidence float64  `json:"stated_confidence"`
	PackIDs          []string `json:"pack_ids"`
}

// Event is an at-most-once feedback notification. Emission never blocks;
// events are dropped with a warning when the channel is full. Consumers must
// not assume ordering across task ids.
type Event struct {
	TaskID    string    `json:"task_id"`
	Success   bool      `json:"success"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Options configures a Loop.
type Options struct {
	// AutoInfer attempts outcome inference on every recorded signal.
	AutoInfer bool
	// MaxUpdatesPerEntityPerHour defaults to DefaultMaxUpdatesPerEntityPerHour.
	MaxUpdatesPerEntityPerHour int
	// EventBuffer defaults to DefaultEventBuffer.
	EventBuffer int
	Logger      *zap.Logger
}

// Loop is the feedback coordinator. It holds tasks only in memory and is
// safe for concurrent use within one process; it is not designed for
// multi-process sharing.
type Loop struct {
	store  PackStore
	engine *calibration.Engine
	log    *zap.Logger

	autoInfer  bool
	maxUpdates int
	events     chan Event
	now        func() time.Time

	mu          sync.Mutex
	tasks       map[string]*Task
	ring        []Outcome
	seen        map[string]struct{}
	adjustments map[string][]time.Time
}

// NewLoop builds a Loop around its store and engine dependencies.
func NewLoop(store PackStore, engine *calibration.Engine, opts Options) *Loop {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxUpdates := opts.MaxUpdatesPerEntityPerHour
	if maxUpdates <= 0 {
		maxUpdates = DefaultMaxUpdatesPerEntityPerHour
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Loop{
		store:       store,
		engine:      engine,
		log:         log,
		autoInfer:   opts.AutoInfer,
		maxUpdates:  maxUpdates,
		events:      make(chan Event, buffer),
		now:         time.Now,
		tasks:       make(map[string]*Task),
		seen:        make(map[string]struct{}),
		adjustments: make(map[string][]time.Time),
	}
}

// Events exposes the outbound notification channel.
func (l *Loop) Events() <-chan Event { return l.events }

// StartTask registers an in-flight task and returns its id. The stated
// confidence is clamped to [0,1].
func (l *Loop) StartTask(intent string, packIDs []string, statedConfidence float64) string {
	task := &Task{
		ID:               uuid.NewString(),
		Intent:           intent,
		PackIDs:          append([]string(nil), packIDs...),
		StatedConfidence: confidence.Clamp01(statedConfidence),
		StartedAt:        l.now(),
	}

	l.mu.Lock()
	l.tasks[task.ID] = task
	l.mu.Unlock()

	l.log.Debug("task started",
		zap.String("task_id", task.ID),
		zap.Float64("stated_confidence", task.StatedConfidence),
		zap.Int("pack_count", len(task.PackIDs)))
	return task.ID
}

// RecordSignal appends a signal to a task. When auto-inference is enabled
// and the accumulated signals are conclusive, the task completes through
// RecordOutcome. Unknown task ids are logged and ignored.
func (l *Loop) RecordSignal(ctx context.Context, taskID string, sig Signal) error {
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = l.now()
	}

	l.mu.Lock()
	task, ok := l.tasks[taskID]
	if !ok {
		l.mu.Unlock()
		l.log.Warn("signal for unknown task", zap.String("task_id", taskID), zap.String("signal", string(sig.Type)))
		return nil
	}
	task.Signals = append(task.Signals, sig)
	signals := append([]Signal(nil), task.Signals...)
	outcome := Outcome{
		TaskID:           task.ID,
		StatedConfidence: task.StatedConfidence,
		PackIDs:          append([]string(nil), task.PackIDs...),
	}
	l.mu.Unlock()

	if !l.autoInfer {
		return nil
	}
	success, conclusive := InferOutcomeFromSignals(signals)
	if !conclusive {
		return nil
	}
	outcome.Success = success
	return l.RecordOutcome(ctx, outcome)
}

// RecordOutcome completes a task. A duplicate task id within the dedup
// window is a warning and a no-op, never an error. The pack outcome write is
// the only mandatory step: calibration feed, confidence adjustment and event
// emission each fail independently with a log line.
func (l *Loop) RecordOutcome(ctx context.Context, outcome Outcome) error {
	l.mu.Lock()
	if _, dup := l.seen[outcome.TaskID]; dup {
		l.mu.Unlock()
		l.log.Warn("duplicate outcome ignored", zap.String("task_id", outcome.TaskID))
		return nil
	}
	if task, ok := l.tasks[outcome.TaskID]; ok {
		if len(outcome.PackIDs) == 0 {
			outcome.PackIDs = append([]string(nil), task.PackIDs...)
		}
		if outcome.StatedConfidence == 0 {
			outcome.StatedConfidence = task.StatedConfidence
		}
	}
	l.mu.Unlock()

	outcome.StatedConfidence = confidence.Clamp01(outcome.StatedConfidence)

	// (a) mandatory storage write per pack
	for _, packID := range outcome.PackIDs {
		if err := l.store.RecordPackOutcome(ctx, packID, outcome.Success); err != nil {
			return err
		}
	}

	l.mu.Lock()
	delete(l.tasks, outcome.TaskID)
	l.seen[outcome.TaskID] = struct{}{}
	l.ring = append(l.ring, outcome)
	if len(l.ring) > outcomeRingSize {
		delete(l.seen, l.ring[0].TaskID)
		l.ring = l.ring[1:]
	}
	l.mu.Unlock()

	// (b) feed the calibration engine with a banded prediction
	l.feedEngine(outcome)

	// (c) rate-limited confidence adjustments
	l.adjustPacks(ctx, outcome)

	// (d) fire-and-forget event
	l.emit(Event{TaskID: outcome.TaskID, Success: outcome.Success, EmittedAt: l.now()})
	return nil
}

func (l *Loop) feedEngine(outcome Outcome) {
	if l.engine == nil {
		return
	}
	band := confidence.Bounded(
		outcome.StatedConfidence-0.1, outcome.StatedConfidence+0.1,
		confidence.ProvenanceEmpirical, "stated task confidence")
	point, ok := band.Point()
	if !ok {
		return
	}
	l.engine.Record(calibration.Prediction{Confidence: point, Correct: outcome.Success})
}

func (l *Loop) adjustPacks(ctx context.Context, outcome Outcome) {
	for _, packID := range outcome.PackIDs {
		if !l.allowAdjustment(packID) {
			l.log.Debug("adjustment rate limit reached", zap.String("pack_id", packID))
			continue
		}
		pack, err := l.store.GetContextPack(ctx, packID)
		if err != nil {
			l.log.Warn("confidence adjustment skipped", zap.String("pack_id", packID), zap.Error(err))
			continue
		}
		if pack == nil {
			continue
		}
		delta := calibration.BayesianDelta(pack.Confidence, outcome.Success)
		if err := l.store.AdjustPackConfidence(ctx, packID, delta); err != nil {
			l.log.Warn("confidence adjustment failed", zap.String("pack_id", packID), zap.Error(err))
		}
	}
}

// allowAdjustment enforces the per-entity hourly quota. Timestamps older
// than an hour are pruned on each check.
func (l *Loop) allowAdjustment(entityID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-time.Hour)
	recent := l.adjustments[entityID][:0]
	for _, ts := range l.adjustments[entityID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= l.maxUpdates {
		l.adjustments[entityID] = recent
		return false
	}
	l.adjustments[entityID] = append(recent, l.now())
	return true
}

func (l *Loop) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
		l.log.Warn("event channel full, dropping", zap.String("task_id", ev.TaskID))
	}
}

// TaskCount reports the number of in-flight tasks.
func (l *Loop) TaskCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}
