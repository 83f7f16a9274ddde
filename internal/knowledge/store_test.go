package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CanopyHQ/librarian/internal/errtag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestStore creates an initialized store under a temp reserved dir.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(Options{
		DataDir: filepath.Join(t.TempDir(), ".librarian"),
		Logger:  zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewStore_RejectsPathEscape(t *testing.T) {
	_, err := NewStore(Options{
		DataDir:      filepath.Join(t.TempDir(), ".librarian"),
		DatabaseFile: "../../outside.db",
	})
	require.Error(t, err)
	assert.Equal(t, errtag.StoragePathEscape, errtag.Tag(err))
}

func TestNewStore_RequiresDataDir(t *testing.T) {
	_, err := NewStore(Options{})
	require.Error(t, err)
	assert.Equal(t, errtag.InvalidConfig, errtag.Tag(err))
}

func TestInitialize_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	assert.True(t, store.IsInitialized())
	require.NoError(t, store.Initialize(context.Background()))
	assert.True(t, store.IsInitialized())

	require.NoError(t, store.Close())
	assert.False(t, store.IsInitialized())
	require.NoError(t, store.Close())
}

func TestInitialize_WritesMigrationReport(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), ".librarian")
	store, err := NewStore(Options{DataDir: dataDir})
	require.NoError(t, err)
	require.NoError(t, store.Initialize(context.Background()))
	defer store.Close()

	entries, err := os.ReadDir(filepath.Join(dataDir, "audit"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dataDir, "audit", entries[0].Name()))
	require.NoError(t, err)

	var report MigrationReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, MigrationReportKind, report.Kind)
	assert.Equal(t, 0, report.FromVersion)
	assert.Equal(t, len(migrations), report.ToVersion)
	assert.Len(t, report.Applied, len(migrations))

	// Re-initializing an up-to-date schema writes no second report.
	require.NoError(t, store.Close())
	store2, err := NewStore(Options{DataDir: dataDir})
	require.NoError(t, err)
	require.NoError(t, store2.Initialize(context.Background()))
	defer store2.Close()

	entries, err = os.ReadDir(filepath.Join(dataDir, "audit"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOperations_FailBeforeInitialize(t *testing.T) {
	store, err := NewStore(Options{DataDir: filepath.Join(t.TempDir(), ".librarian")})
	require.NoError(t, err)

	_, err = store.GetFunction(context.Background(), "f1")
	require.Error(t, err)
	assert.Equal(t, errtag.NotInitialized, errtag.Tag(err))
}

func TestUpsertFunction_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	accessed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	fn := FunctionKnowledge{
		ID:              "fn-parse-config",
		FilePath:        "internal/config/loader.go",
		Name:            "LoadWithFile",
		Signature:       "func LoadWithFile(path string) (*Config, error)",
		Purpose:         "loads YAML config with env overrides",
		StartLine:       42,
		EndLine:         120,
		Confidence:      0.8,
		AccessCount:     3,
		LastAccessed:    &accessed,
		ValidationCount: 2,
		Outcomes:        OutcomeHistory{Successes: 5, Failures: 1},
	}
	require.NoError(t, store.UpsertFunction(ctx, fn))

	got, err := store.GetFunction(ctx, fn.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, fn.FilePath, got.FilePath)
	assert.Equal(t, fn.Name, got.Name)
	assert.Equal(t, fn.Signature, got.Signature)
	assert.Equal(t, fn.Purpose, got.Purpose)
	assert.Equal(t, fn.StartLine, got.StartLine)
	assert.Equal(t, fn.EndLine, got.EndLine)
	assert.Equal(t, fn.Confidence, got.Confidence)
	assert.Equal(t, fn.AccessCount, got.AccessCount)
	assert.Equal(t, fn.ValidationCount, got.ValidationCount)
	assert.Equal(t, fn.Outcomes, got.Outcomes)
	require.NotNil(t, got.LastAccessed)
	assert.WithinDuration(t, accessed, *got.LastAccessed, time.Second)
}

func TestUpsertFunction_NullableLastAccessed(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFunction(ctx, FunctionKnowledge{
		ID: "fn-never-accessed", FilePath: "a.go", Name: "A", Confidence: 0.5,
	}))

	got, err := store.GetFunction(ctx, "fn-never-accessed")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.LastAccessed)
}

func TestGetFunction_MissingReturnsNil(t *testing.T) {
	store := setupTestStore(t)
	got, err := store.GetFunction(context.Background(), "no-such-function")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertFunction_LastWriteWins(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFunction(ctx, FunctionKnowledge{
		ID: "fn-1", FilePath: "old.go", Name: "Old", Confidence: 0.3,
	}))
	require.NoError(t, store.UpsertFunction(ctx, FunctionKnowledge{
		ID: "fn-1", FilePath: "new.go", Name: "New", Confidence: 0.9,
	}))

	got, err := store.GetFunction(ctx, "fn-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new.go", got.FilePath)
	assert.Equal(t, "New", got.Name)
	assert.Equal(t, 0.9, got.Confidence)
}

func TestUpsertFunction_ClampsConfidence(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFunction(ctx, FunctionKnowledge{
		ID: "fn-over", FilePath: "a.go", Name: "A", Confidence: 1.7,
	}))
	got, err := store.GetFunction(ctx, "fn-over")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestRecordFunctionOutcome(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFunction(ctx, FunctionKnowledge{
		ID: "fn-v", FilePath: "a.go", Name: "A", Confidence: 0.5,
	}))
	require.NoError(t, store.RecordFunctionOutcome(ctx, "fn-v", true))
	require.NoError(t, store.RecordFunctionOutcome(ctx, "fn-v", false))
	require.NoError(t, store.RecordFunctionOutcome(ctx, "fn-v", true))

	got, err := store.GetFunction(ctx, "fn-v")
	require.NoError(t, err)
	assert.Equal(t, OutcomeHistory{Successes: 2, Failures: 1}, got.Outcomes)
	assert.Equal(t, 3, got.ValidationCount)

	assert.Error(t, store.RecordFunctionOutcome(ctx, "missing", true))
}

func TestUpsertContextPack_ClampsToFloorAndCeiling(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertContextPack(ctx, ContextPack{
		PackID: "p-high", PackType: "function_context", Confidence: 0.99,
	}))
	require.NoError(t, store.UpsertContextPack(ctx, ContextPack{
		PackID: "p-low", PackType: "function_context", Confidence: 0.01,
	}))

	high, err := store.GetContextPack(ctx, "p-high")
	require.NoError(t, err)
	assert.Equal(t, PackConfidenceCeiling, high.Confidence)

	low, err := store.GetContextPack(ctx, "p-low")
	require.NoError(t, err)
	assert.Equal(t, PackConfidenceFloor, low.Confidence)
}

func TestContextPack_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	pack := ContextPack{
		PackID:   "p-roundtrip",
		PackType: "module_overview",
		TargetID: "internal/knowledge",
		Summary:  "SQLite-backed entity store",
		KeyFacts: []string{"WAL mode", "migration ledger"},
		CodeSnippets: []CodeSnippet{
			{FilePath: "store.go", StartLine: 10, EndLine: 20, Code: "func NewStore..."},
		},
		RelatedFiles:         []string{"store.go", "migrate.go"},
		Confidence:           0.7,
		CreatedAt:            time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		AccessCount:          7,
		SuccessCount:         4,
		FailureCount:         1,
		Version:              2,
		InvalidationTriggers: []string{"store.go"},
	}
	require.NoError(t, store.UpsertContextPack(ctx, pack))

	got, err := store.GetContextPack(ctx, pack.PackID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pack.KeyFacts, got.KeyFacts)
	assert.Equal(t, pack.CodeSnippets, got.CodeSnippets)
	assert.Equal(t, pack.RelatedFiles, got.RelatedFiles)
	assert.Equal(t, pack.InvalidationTriggers, got.InvalidationTriggers)
	assert.Equal(t, pack.SuccessCount, got.SuccessCount)
	assert.Equal(t, pack.Version, got.Version)
	assert.Equal(t, 0.7, got.Confidence)
}

func TestGetContextPacks_FilterAndLimit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		packType := "function_context"
		if i%2 == 1 {
			packType = "module_overview"
		}
		require.NoError(t, store.UpsertContextPack(ctx, ContextPack{
			PackID:     "p-" + string(rune('a'+i)),
			PackType:   packType,
			Confidence: 0.5,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	packs, err := store.GetContextPacks(ctx, PackFilter{PackType: "function_context"})
	require.NoError(t, err)
	assert.Len(t, packs, 3)

	packs, err = store.GetContextPacks(ctx, PackFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, packs, 2)
	// newest first
	assert.Equal(t, "p-e", packs[0].PackID)
	assert.Equal(t, "p-d", packs[1].PackID)
}

func TestRecordPackOutcome(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertContextPack(ctx, ContextPack{
		PackID: "p-out", PackType: "function_context", Confidence: 0.5,
	}))
	require.NoError(t, store.RecordPackOutcome(ctx, "p-out", true))
	require.NoError(t, store.RecordPackOutcome(ctx, "p-out", true))
	require.NoError(t, store.RecordPackOutcome(ctx, "p-out", false))

	got, err := store.GetContextPack(ctx, "p-out")
	require.NoError(t, err)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, "failure", got.LastOutcome)

	assert.Error(t, store.RecordPackOutcome(ctx, "missing", true))
}

func TestAdjustPackConfidence_ClampsAndIgnoresMissing(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertContextPack(ctx, ContextPack{
		PackID: "p-adj", PackType: "function_context", Confidence: 0.9,
	}))
	require.NoError(t, store.AdjustPackConfidence(ctx, "p-adj", +0.3))

	got, err := store.GetContextPack(ctx, "p-adj")
	require.NoError(t, err)
	assert.Equal(t, PackConfidenceCeiling, got.Confidence)

	require.NoError(t, store.AdjustPackConfidence(ctx, "p-adj", -2))
	got, err = store.GetContextPack(ctx, "p-adj")
	require.NoError(t, err)
	assert.Equal(t, PackConfidenceFloor, got.Confidence)

	// absent pack is a no-op, not an error
	require.NoError(t, store.AdjustPackConfidence(ctx, "missing", 0.1))
}

func TestInvalidatePacksByTrigger(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertContextPack(ctx, ContextPack{
		PackID: "p-t1", PackType: "function_context", Confidence: 0.8,
		InvalidationTriggers: []string{"internal/knowledge/store.go"},
	}))
	require.NoError(t, store.UpsertContextPack(ctx, ContextPack{
		PackID: "p-t2", PackType: "function_context", Confidence: 0.8,
		InvalidationTriggers: []string{"cmd/root.go"},
	}))

	n, err := store.InvalidatePacksByTrigger(ctx, "internal/knowledge/store.go")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hit, err := store.GetContextPack(ctx, "p-t1")
	require.NoError(t, err)
	assert.Equal(t, PackConfidenceFloor, hit.Confidence)
	assert.Equal(t, 2, hit.Version)

	miss, err := store.GetContextPack(ctx, "p-t2")
	require.NoError(t, err)
	assert.Equal(t, 0.8, miss.Confidence)
}

func TestScanPack_MalformedJSONFailsClosed(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertContextPack(ctx, ContextPack{
		PackID: "p-bad", PackType: "function_context", Confidence: 0.5,
	}))
	_, err := store.db.ExecContext(ctx,
		`UPDATE context_packs SET key_facts = '{not json' WHERE pack_id = 'p-bad'`)
	require.NoError(t, err)

	_, err = store.GetContextPack(ctx, "p-bad")
	require.Error(t, err)
	assert.Equal(t, errtag.ParseError, errtag.Tag(err))
	assert.Contains(t, err.Error(), "p-bad")
	assert.True(t, errors.Is(err, errtag.New(errtag.ParseError, "")))
}

func TestStats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFunction(ctx, FunctionKnowledge{
		ID: "fn-1", FilePath: "a.go", Name: "A", Confidence: 0.5,
	}))
	require.NoError(t, store.UpsertContextPack(ctx, ContextPack{
		PackID: "p-1", PackType: "function_context", Confidence: 0.5,
	}))

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Functions)
	assert.Equal(t, 1, st.ContextPacks)
	assert.Equal(t, len(migrations), st.SchemaVersion)
	assert.NotEqual(t, "unknown", st.DatabaseSize)
}
