package acceptance

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/cucumber/godog"

	"github.com/CanopyHQ/librarian/internal/knowledge"
	"github.com/CanopyHQ/librarian/internal/workspace"
)

// TestContext holds state between steps. Each scenario gets a fresh store
// in its own temp directory.
type TestContext struct {
	ctx         context.Context
	store       *knowledge.Store
	tmpDir      string
	cacheHashes []string // oldest first
	lastPrune   knowledge.PruneOptions
	lastRemoved int
}

func (tc *TestContext) anInitializedKnowledgeStore() error {
	tmpDir, err := os.MkdirTemp("", "librarian-acceptance-*")
	if err != nil {
		return err
	}
	tc.tmpDir = tmpDir

	store, err := knowledge.NewStore(knowledge.Options{
		DataDir: filepath.Join(tmpDir, workspace.ReservedDirName),
	})
	if err != nil {
		return err
	}
	if err := store.Initialize(tc.ctx); err != nil {
		return err
	}
	tc.store = store
	return nil
}

func (tc *TestContext) aFunctionWithConfidence(name string, conf float64) error {
	return tc.store.UpsertFunction(tc.ctx, knowledge.FunctionKnowledge{
		ID:         name,
		FilePath:   "internal/demo/" + name + ".go",
		Name:       name,
		Confidence: conf,
	})
}

func (tc *TestContext) timeDecayIsAppliedOnce(amount float64) error {
	_, err := tc.store.ApplyTimeDecay(tc.ctx, amount)
	return err
}

func (tc *TestContext) timeDecayIsAppliedNTimes(amount float64, times int) error {
	for i := 0; i < times; i++ {
		if _, err := tc.store.ApplyTimeDecay(tc.ctx, amount); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestContext) theFunctionHasConfidence(name string, want float64) error {
	fn, err := tc.store.GetFunction(tc.ctx, name)
	if err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("function %q not found", name)
	}
	if math.Abs(fn.Confidence-want) > 1e-5 {
		return fmt.Errorf("function %q confidence = %v, want %v", name, fn.Confidence, want)
	}
	return nil
}

func (tc *TestContext) queryCacheEntriesCreatedApart(count, seconds int) error {
	base := time.Now().UTC().Add(-time.Duration(count*seconds) * time.Second)
	tc.cacheHashes = nil
	for i := 0; i < count; i++ {
		hash := fmt.Sprintf("hash-%02d", i)
		entry := knowledge.QueryCacheEntry{
			QueryHash:   hash,
			QueryParams: fmt.Sprintf(`{"query":%d}`, i),
			Response:    `{"results":[]}`,
			CreatedAt:   base.Add(time.Duration(i*seconds) * time.Second),
		}
		if err := tc.store.UpsertQueryCacheEntry(tc.ctx, entry); err != nil {
			return err
		}
		tc.cacheHashes = append(tc.cacheHashes, hash)
	}
	return nil
}

func (tc *TestContext) theQueryCacheIsPruned(maxEntries, maxAgeHours int) error {
	tc.lastPrune = knowledge.PruneOptions{
		MaxEntries: maxEntries,
		MaxAge:     time.Duration(maxAgeHours) * time.Hour,
	}
	removed, err := tc.store.PruneQueryCache(tc.ctx, tc.lastPrune)
	if err != nil {
		return err
	}
	tc.lastRemoved = removed
	return nil
}

func (tc *TestContext) cacheEntriesWereRemoved(want int) error {
	if tc.lastRemoved != want {
		return fmt.Errorf("prune removed %d entries, want %d", tc.lastRemoved, want)
	}
	return nil
}

func (tc *TestContext) theNewestCacheEntriesRemain(count int) error {
	if count > len(tc.cacheHashes) {
		return fmt.Errorf("only %d entries were inserted", len(tc.cacheHashes))
	}
	newest := tc.cacheHashes[len(tc.cacheHashes)-count:]
	for _, hash := range newest {
		entry, err := tc.store.GetQueryCacheEntry(tc.ctx, hash)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("entry %q was evicted but should remain", hash)
		}
	}
	evicted := tc.cacheHashes[:len(tc.cacheHashes)-count]
	for _, hash := range evicted {
		entry, err := tc.store.GetQueryCacheEntry(tc.ctx, hash)
		if err != nil {
			return err
		}
		if entry != nil {
			return fmt.Errorf("entry %q should have been evicted", hash)
		}
	}
	return nil
}

func (tc *TestContext) pruningAgainRemoves(want int) error {
	removed, err := tc.store.PruneQueryCache(tc.ctx, tc.lastPrune)
	if err != nil {
		return err
	}
	if removed != want {
		return fmt.Errorf("second prune removed %d entries, want %d", removed, want)
	}
	return nil
}

func (tc *TestContext) aContextPackWithConfidence(packID string, conf float64) error {
	return tc.store.UpsertContextPack(tc.ctx, knowledge.ContextPack{
		PackID:     packID,
		PackType:   "function_context",
		TargetID:   packID,
		Summary:    "acceptance fixture",
		Confidence: conf,
	})
}

func (tc *TestContext) anOutcomeIsRecorded(result, packID string) error {
	return tc.store.RecordPackOutcome(tc.ctx, packID, result == "successful")
}

func (tc *TestContext) packHasOutcomeCounts(packID string, successes, failures int) error {
	pack, err := tc.store.GetContextPack(tc.ctx, packID)
	if err != nil {
		return err
	}
	if pack == nil {
		return fmt.Errorf("pack %q not found", packID)
	}
	if pack.SuccessCount != successes || pack.FailureCount != failures {
		return fmt.Errorf("pack %q has %d/%d outcomes, want %d/%d",
			packID, pack.SuccessCount, pack.FailureCount, successes, failures)
	}
	return nil
}

func (tc *TestContext) packHasLastOutcome(packID, want string) error {
	pack, err := tc.store.GetContextPack(tc.ctx, packID)
	if err != nil {
		return err
	}
	if pack == nil {
		return fmt.Errorf("pack %q not found", packID)
	}
	if pack.LastOutcome != want {
		return fmt.Errorf("pack %q last outcome = %q, want %q", packID, pack.LastOutcome, want)
	}
	return nil
}

func (tc *TestContext) cleanup() {
	if tc.store != nil {
		tc.store.Close() //nolint:errcheck
	}
	if tc.tmpDir != "" {
		os.RemoveAll(tc.tmpDir) //nolint:errcheck
	}
}

// InitializeScenario wires step definitions
func InitializeScenario(sc *godog.ScenarioContext) {
	tc := &TestContext{ctx: context.Background()}

	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		tc.cleanup()
		return ctx, err
	})

	sc.Step(`^an initialized knowledge store$`, tc.anInitializedKnowledgeStore)
	sc.Step(`^a function "([^"]*)" with confidence ([0-9.]+)$`, tc.aFunctionWithConfidence)
	sc.Step(`^time decay of ([0-9.]+) is applied once$`, tc.timeDecayIsAppliedOnce)
	sc.Step(`^time decay of ([0-9.]+) is applied (\d+) more times$`, tc.timeDecayIsAppliedNTimes)
	sc.Step(`^the function "([^"]*)" has confidence ([0-9.]+)$`, tc.theFunctionHasConfidence)
	sc.Step(`^(\d+) query cache entries created (\d+) second apart$`, tc.queryCacheEntriesCreatedApart)
	sc.Step(`^the query cache is pruned to (\d+) entries with a max age of (\d+) hours$`, tc.theQueryCacheIsPruned)
	sc.Step(`^(\d+) cache entries were removed$`, tc.cacheEntriesWereRemoved)
	sc.Step(`^the (\d+) newest cache entries remain$`, tc.theNewestCacheEntriesRemain)
	sc.Step(`^pruning again with the same limits removes (\d+) entries$`, tc.pruningAgainRemoves)
	sc.Step(`^a context pack "([^"]*)" with confidence ([0-9.]+)$`, tc.aContextPackWithConfidence)
	sc.Step(`^a (successful|failed) outcome is recorded for pack "([^"]*)"$`, tc.anOutcomeIsRecorded)
	sc.Step(`^pack "([^"]*)" has (\d+) success and (\d+) failure$`, tc.packHasOutcomeCounts)
	sc.Step(`^pack "([^"]*)" has last outcome "([^"]*)"$`, tc.packHasLastOutcome)
}
