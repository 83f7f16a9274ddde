package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/CanopyHQ/librarian/internal/errtag"
	"go.uber.org/zap"
)

// Embedder is the external embedding capability. The store treats the
// vector/model pair as opaque and only persists what it receives.
type Embedder interface {
	Embed(ctx context.Context, text string) (vector []float32, modelID string, err error)
}

// SetEmbedding stores the active vector for an entity, overwriting any
// previous vector (last write wins, regardless of model).
func (s *Store) SetEmbedding(ctx context.Context, entityID string, vector []float32, modelID string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if entityID == "" {
		return errtag.New(errtag.InvalidConfig, "entity id is required")
	}
	if len(vector) == 0 {
		return errtag.New(errtag.InvalidConfig, "embedding vector is empty")
	}

	encoded, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO embeddings (entity_id, vector, model_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			vector = excluded.vector,
			model_id = excluded.model_id,
			updated_at = excluded.updated_at
	`, entityID, string(encoded), modelID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set embedding for %s: %w", entityID, err)
	}

	if s.vecIdx != nil {
		if err := s.vecIdx.Insert(entityID, vector); err != nil {
			s.log.Warn("vec index insert failed, retrieval falls back to linear scan",
				zap.String("entity_id", entityID), zap.Error(err))
		}
	}
	return nil
}

// GetEmbedding returns the active embedding for an entity, or nil when
// absent. The returned vector length always equals the stored length.
func (s *Store) GetEmbedding(ctx context.Context, entityID string) (*Embedding, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var emb Embedding
	var encoded string
	err = db.QueryRowContext(ctx, `
		SELECT entity_id, vector, model_id, updated_at FROM embeddings WHERE entity_id = ?
	`, entityID).Scan(&emb.EntityID, &encoded, &emb.ModelID, &emb.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding for %s: %w", entityID, err)
	}

	if err := json.Unmarshal([]byte(encoded), &emb.Vector); err != nil {
		return nil, errtag.Wrap(errtag.ParseError, err, "malformed vector on embedding %s", entityID)
	}
	return &emb, nil
}

// SimilarEntity is a FindSimilar result.
type SimilarEntity struct {
	EntityID   string
	Similarity float64
}

// FindSimilar returns the entities whose stored vectors are most similar to
// the query vector (cosine), best first. Uses the vec0 KNN index when
// available and falls back to a linear scan otherwise.
func (s *Store) FindSimilar(ctx context.Context, vector []float32, limit int) ([]SimilarEntity, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	if s.vecIdx != nil && s.vecIdx.available {
		results, err := s.vecIdx.Search(vector, limit)
		if err == nil && len(results) > 0 {
			out := make([]SimilarEntity, 0, len(results))
			for _, r := range results {
				out = append(out, SimilarEntity{EntityID: r.EntityID, Similarity: 1.0 - r.Distance})
			}
			return out, nil
		}
		// fall through to linear scan
	}

	rows, err := db.QueryContext(ctx, `SELECT entity_id, vector FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan embeddings: %w", err)
	}
	defer rows.Close()

	var out []SimilarEntity
	for rows.Next() {
		var entityID, encoded string
		if err := rows.Scan(&entityID, &encoded); err != nil {
			return nil, err
		}
		var stored []float32
		if err := json.Unmarshal([]byte(encoded), &stored); err != nil {
			return nil, errtag.Wrap(errtag.ParseError, err, "malformed vector on embedding %s", entityID)
		}
		out = append(out, SimilarEntity{
			EntityID:   entityID,
			Similarity: CosineSimilarity(vector, stored),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CosineSimilarity computes dot(a,b)/(|a||b|); zero when lengths differ or
// either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
