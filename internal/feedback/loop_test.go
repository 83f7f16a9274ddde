package feedback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanopyHQ/librarian/internal/calibration"
	"github.com/CanopyHQ/librarian/internal/knowledge"
)

type fakeStore struct {
	mu       sync.Mutex
	outcomes map[string][]bool
	adjusts  map[string][]float64
	packs    map[string]*knowledge.ContextPack
}

func newFakeStore(packs ...knowledge.ContextPack) *fakeStore {
	f := &fakeStore{
		outcomes: make(map[string][]bool),
		adjusts:  make(map[string][]float64),
		packs:    make(map[string]*knowledge.ContextPack),
	}
	for i := range packs {
		f.packs[packs[i].PackID] = &packs[i]
	}
	return f
}

func (f *fakeStore) RecordPackOutcome(_ context.Context, packID string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[packID] = append(f.outcomes[packID], success)
	return nil
}

func (f *fakeStore) GetContextPack(_ context.Context, packID string) (*knowledge.ContextPack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.packs[packID], nil
}

func (f *fakeStore) AdjustPackConfidence(_ context.Context, packID string, delta float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adjusts[packID] = append(f.adjusts[packID], delta)
	return nil
}

func (f *fakeStore) outcomeCount(packID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outcomes[packID])
}

func (f *fakeStore) adjustCount(packID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adjusts[packID])
}

func TestInferOutcomeFromSignals(t *testing.T) {
	sig := func(types ...SignalType) []Signal {
		var out []Signal
		for _, tp := range types {
			out = append(out, Signal{Type: tp})
		}
		return out
	}

	tests := []struct {
		name       string
		signals    []Signal
		success    bool
		conclusive bool
	}{
		{"explicit success wins", sig(SignalTestFail, SignalExplicitSuccess), true, true},
		{"explicit failure wins", sig(SignalTestPass, SignalExplicitFailure), false, true},
		{"test fail beats test pass", sig(SignalTestPass, SignalTestFail), false, true},
		{"test pass without fail", sig(SignalTestPass, SignalLintFail), true, true},
		{"type check fail", sig(SignalTypeCheckFail), false, true},
		{"build failure", sig(SignalBuildFailure), false, true},
		{"build and type check pass", sig(SignalBuildSuccess, SignalTypeCheckPass), true, true},
		{"build pass alone inconclusive", sig(SignalBuildSuccess), false, false},
		{"lint fail with nothing passing", sig(SignalLintFail), false, true},
		{"lint fail with lint pass inconclusive", sig(SignalLintFail, SignalLintPass), false, false},
		{"no signals", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			success, conclusive := InferOutcomeFromSignals(tt.signals)
			assert.Equal(t, tt.conclusive, conclusive)
			if conclusive {
				assert.Equal(t, tt.success, success)
			}
		})
	}
}

func TestStartTask_ClampsConfidence(t *testing.T) {
	loop := NewLoop(newFakeStore(), nil, Options{})
	id := loop.StartTask("refactor parser", nil, 1.7)

	loop.mu.Lock()
	task := loop.tasks[id]
	loop.mu.Unlock()
	require.NotNil(t, task)
	assert.Equal(t, 1.0, task.StatedConfidence)
	assert.Equal(t, 1, loop.TaskCount())
}

func TestRecordOutcome_WritesPacksAndCompletesTask(t *testing.T) {
	store := newFakeStore(knowledge.ContextPack{PackID: "p1", Confidence: 0.5})
	engine := calibration.NewEngine(0, nil)
	loop := NewLoop(store, engine, Options{})
	ctx := context.Background()

	id := loop.StartTask("add endpoint", []string{"p1"}, 0.8)
	require.NoError(t, loop.RecordOutcome(ctx, Outcome{TaskID: id, Success: true}))

	assert.Equal(t, 1, store.outcomeCount("p1"))
	assert.Equal(t, 1, store.adjustCount("p1"))
	assert.Equal(t, 0, loop.TaskCount())
	assert.Equal(t, 1, engine.ObservationCount())

	select {
	case ev := <-loop.Events():
		assert.Equal(t, id, ev.TaskID)
		assert.True(t, ev.Success)
	default:
		t.Fatal("expected a feedback event")
	}
}

func TestRecordOutcome_DuplicateIsIgnored(t *testing.T) {
	store := newFakeStore(knowledge.ContextPack{PackID: "p1", Confidence: 0.5})
	loop := NewLoop(store, nil, Options{})
	ctx := context.Background()

	id := loop.StartTask("fix bug", []string{"p1"}, 0.8)
	require.NoError(t, loop.RecordOutcome(ctx, Outcome{TaskID: id, Success: true}))
	require.NoError(t, loop.RecordOutcome(ctx, Outcome{TaskID: id, Success: true}))

	// the second call must not double-count
	assert.Equal(t, 1, store.outcomeCount("p1"))
}

func TestRecordOutcome_RateLimitsAdjustments(t *testing.T) {
	store := newFakeStore(knowledge.ContextPack{PackID: "p1", Confidence: 0.5})
	loop := NewLoop(store, nil, Options{MaxUpdatesPerEntityPerHour: 2})
	ctx := context.Background()

	current := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	loop.now = func() time.Time { return current }

	for i := 0; i < 4; i++ {
		id := loop.StartTask("task", []string{"p1"}, 0.7)
		require.NoError(t, loop.RecordOutcome(ctx, Outcome{TaskID: id, Success: true}))
	}
	assert.Equal(t, 4, store.outcomeCount("p1"), "storage writes are never rate limited")
	assert.Equal(t, 2, store.adjustCount("p1"))

	// quota refills once the window slides past
	current = current.Add(61 * time.Minute)
	id := loop.StartTask("task", []string{"p1"}, 0.7)
	require.NoError(t, loop.RecordOutcome(ctx, Outcome{TaskID: id, Success: true}))
	assert.Equal(t, 3, store.adjustCount("p1"))
}

func TestRecordOutcome_EventChannelFullDoesNotBlock(t *testing.T) {
	store := newFakeStore()
	loop := NewLoop(store, nil, Options{EventBuffer: 1})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			id := loop.StartTask("task", nil, 0.5)
			_ = loop.RecordOutcome(ctx, Outcome{TaskID: id, Success: true})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recordOutcome blocked on a full event channel")
	}
}

func TestRecordSignal_AutoInferCompletesTask(t *testing.T) {
	store := newFakeStore(knowledge.ContextPack{PackID: "p1", Confidence: 0.5})
	loop := NewLoop(store, nil, Options{AutoInfer: true})
	ctx := context.Background()

	id := loop.StartTask("migrate schema", []string{"p1"}, 0.6)
	require.NoError(t, loop.RecordSignal(ctx, id, Signal{Type: SignalBuildSuccess}))
	assert.Equal(t, 1, loop.TaskCount(), "build alone is inconclusive")

	require.NoError(t, loop.RecordSignal(ctx, id, Signal{Type: SignalTypeCheckPass}))
	assert.Equal(t, 0, loop.TaskCount())
	assert.Equal(t, []bool{true}, store.outcomes["p1"])
}

func TestRecordSignal_UnknownTask(t *testing.T) {
	loop := NewLoop(newFakeStore(), nil, Options{AutoInfer: true})
	assert.NoError(t, loop.RecordSignal(context.Background(), "missing", Signal{Type: SignalTestPass}))
}

func TestAnalyzeBias_InsufficientData(t *testing.T) {
	loop := NewLoop(newFakeStore(), nil, Options{})
	report := loop.AnalyzeBias()
	assert.Equal(t, BiasWellCalibrated, report.Direction)
	assert.Zero(t, report.Magnitude)
	assert.Contains(t, report.Recommendation, "insufficient data")
}

func TestAnalyzeBias_Overconfident(t *testing.T) {
	store := newFakeStore()
	engine := calibration.NewEngine(0, nil)
	loop := NewLoop(store, engine, Options{})
	ctx := context.Background()

	// stated 0.9 but only half succeed
	for i := 0; i < 20; i++ {
		id := loop.StartTask("task", nil, 0.9)
		require.NoError(t, loop.RecordOutcome(ctx, Outcome{TaskID: id, Success: i%2 == 0}))
	}

	report := loop.AnalyzeBias()
	assert.Equal(t, BiasOverconfident, report.Direction)
	assert.Greater(t, report.Magnitude, 0.3)
	assert.Equal(t, 20, report.SampleCount)
}
