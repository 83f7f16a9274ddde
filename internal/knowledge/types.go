package knowledge

import "time"

// Confidence bounds. Pack confidence is clamped to the application floor and
// ceiling before persistence; the raw [0,1] range is reserved for internal
// calibration math.
const (
	PackConfidenceFloor   = 0.1
	PackConfidenceCeiling = 0.95

	// DefaultDecayFloor is the minimum a function confidence can decay to.
	DefaultDecayFloor = 0.1
)

// OutcomeHistory counts task outcomes attributed to an entity.
type OutcomeHistory struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// FunctionKnowledge is indexed knowledge about a single function. Created on
// index, mutated by time decay and outcome recording, never hard-deleted.
type FunctionKnowledge struct {
	ID              string         `json:"id"`
	FilePath        string         `json:"file_path"`
	Name            string         `json:"name"`
	Signature       string         `json:"signature"`
	Purpose         string         `json:"purpose"`
	StartLine       int            `json:"start_line"`
	EndLine         int            `json:"end_line"`
	Confidence      float64        `json:"confidence"` // [0,1]
	AccessCount     int            `json:"access_count"`
	LastAccessed    *time.Time     `json:"last_accessed,omitempty"`
	ValidationCount int            `json:"validation_count"`
	Outcomes        OutcomeHistory `json:"outcome_history"`
}

// CodeSnippet is a code excerpt carried by a context pack.
type CodeSnippet struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Code      string `json:"code"`
}

// ContextPack is a retrievable unit of summarized code knowledge with an
// attached confidence score and outcome history. SuccessCount/FailureCount
// are the ground truth the calibration engine is built from.
type ContextPack struct {
	PackID               string        `json:"pack_id"`
	PackType             string        `json:"pack_type"`
	TargetID             string        `json:"target_id"`
	Summary              string        `json:"summary"`
	KeyFacts             []string      `json:"key_facts,omitempty"`
	CodeSnippets         []CodeSnippet `json:"code_snippets,omitempty"`
	RelatedFiles         []string      `json:"related_files,omitempty"`
	Confidence           float64       `json:"confidence"` // [PackConfidenceFloor, PackConfidenceCeiling]
	CreatedAt            time.Time     `json:"created_at"`
	AccessCount          int           `json:"access_count"`
	LastOutcome          string        `json:"last_outcome,omitempty"` // "success" | "failure" | ""
	SuccessCount         int           `json:"success_count"`
	FailureCount         int           `json:"failure_count"`
	Version              int           `json:"version"`
	InvalidationTriggers []string      `json:"invalidation_triggers,omitempty"`
}

// PackFilter narrows GetContextPacks results.
type PackFilter struct {
	PackType string
	TargetID string
	Limit    int
}

// Embedding is the stored vector for an entity. One active vector per
// entity; overwritten on re-embedding.
type Embedding struct {
	EntityID  string    `json:"entity_id"`
	Vector    []float32 `json:"vector"`
	ModelID   string    `json:"model_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueryCacheEntry is a cached query response keyed by a deterministic hash
// of normalized query parameters.
type QueryCacheEntry struct {
	QueryHash    string    `json:"query_hash"`
	QueryParams  string    `json:"query_params"`
	Response     string    `json:"response"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
}

// Stats summarizes the store for status reporting.
type Stats struct {
	Functions         int    `json:"functions"`
	ContextPacks      int    `json:"context_packs"`
	Embeddings        int    `json:"embeddings"`
	QueryCacheEntries int    `json:"query_cache_entries"`
	DatabaseSize      string `json:"database_size"`
	SchemaVersion     int    `json:"schema_version"`
}

// ClampPackConfidence applies the application floor/ceiling used for every
// pack confidence leaving or entering the store.
func ClampPackConfidence(c float64) float64 {
	if c < PackConfidenceFloor {
		return PackConfidenceFloor
	}
	if c > PackConfidenceCeiling {
		return PackConfidenceCeiling
	}
	return c
}

func clamp01(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
