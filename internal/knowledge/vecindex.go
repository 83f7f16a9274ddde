package knowledge

import (
	"database/sql"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"go.uber.org/zap"
)

func init() {
	sqlite_vec.Auto()
}

// vecIndex manages the sqlite-vec vector index for fast KNN queries over
// entity embeddings. When the extension fails to load, all operations are
// no-ops and FindSimilar falls back to brute-force cosine similarity.
// Dimensions are fixed by the first inserted vector; a dimension change
// (model switch) drops and rebuilds the index.
type vecIndex struct {
	db         *sql.DB
	log        *zap.Logger
	dimensions int
	available  bool
}

type vecMatch struct {
	EntityID string
	Distance float64
}

func newVecIndex(db *sql.DB, log *zap.Logger) *vecIndex {
	vi := &vecIndex{db: db, log: log}
	if err := vi.ensureSchema(); err != nil {
		log.Warn("sqlite-vec not available, using linear scan", zap.Error(err))
		vi.available = false
	} else {
		vi.available = true
	}
	return vi
}

func (vi *vecIndex) ensureSchema() error {
	var vecVersion string
	if err := vi.db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		return fmt.Errorf("vec_version() failed: %w", err)
	}

	if _, err := vi.db.Exec(`CREATE TABLE IF NOT EXISTS vec_metadata (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return fmt.Errorf("failed to create vec_metadata: %w", err)
	}

	// vec0 requires integer rowids; entity ids are text
	if _, err := vi.db.Exec(`CREATE TABLE IF NOT EXISTS entity_vec_ids (
		vec_id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT UNIQUE NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create vec ID mapping: %w", err)
	}

	var storedDim string
	if err := vi.db.QueryRow(`SELECT value FROM vec_metadata WHERE key = 'dimensions'`).Scan(&storedDim); err == nil {
		fmt.Sscanf(storedDim, "%d", &vi.dimensions)
		if vi.dimensions > 0 {
			return vi.createVecTable()
		}
	}
	// Dimensions unknown until the first insert.
	return nil
}

func (vi *vecIndex) createVecTable() error {
	createSQL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS entity_embeddings_vec USING vec0(embedding float[%d] distance_metric=cosine)`,
		vi.dimensions,
	)
	if _, err := vi.db.Exec(createSQL); err != nil {
		return fmt.Errorf("failed to create vec0 table: %w", err)
	}
	vi.db.Exec(`INSERT OR REPLACE INTO vec_metadata (key, value) VALUES ('dimensions', ?)`,
		fmt.Sprintf("%d", vi.dimensions))
	return nil
}

// setDimensions fixes (or changes) the index dimensionality. A change drops
// the vec0 table so it is rebuilt on the next inserts.
func (vi *vecIndex) setDimensions(dims int) error {
	if vi.dimensions == dims {
		return nil
	}
	if vi.dimensions != 0 {
		vi.log.Warn("embedding dimensions changed, rebuilding vec index",
			zap.Int("old", vi.dimensions), zap.Int("new", dims))
		vi.db.Exec(`DROP TABLE IF EXISTS entity_embeddings_vec`)
		vi.db.Exec(`DELETE FROM entity_vec_ids`)
	}
	vi.dimensions = dims
	return vi.createVecTable()
}

// Insert adds or replaces an entity's embedding in the vec0 index.
func (vi *vecIndex) Insert(entityID string, embedding []float32) error {
	if !vi.available || len(embedding) == 0 {
		return nil
	}
	if err := vi.setDimensions(len(embedding)); err != nil {
		return err
	}

	var vecID int64
	err := vi.db.QueryRow(`SELECT vec_id FROM entity_vec_ids WHERE entity_id = ?`, entityID).Scan(&vecID)
	if err == sql.ErrNoRows {
		result, err := vi.db.Exec(`INSERT INTO entity_vec_ids (entity_id) VALUES (?)`, entityID)
		if err != nil {
			return fmt.Errorf("failed to create vec ID mapping: %w", err)
		}
		vecID, _ = result.LastInsertId()
	} else if err != nil {
		return err
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}

	// vec0 doesn't support ON CONFLICT, so delete first if exists
	vi.db.Exec(`DELETE FROM entity_embeddings_vec WHERE rowid = ?`, vecID)
	if _, err := vi.db.Exec(`INSERT INTO entity_embeddings_vec (rowid, embedding) VALUES (?, ?)`, vecID, blob); err != nil {
		return fmt.Errorf("failed to insert into vec0: %w", err)
	}
	return nil
}

// Delete removes an entity from the index.
func (vi *vecIndex) Delete(entityID string) error {
	if !vi.available {
		return nil
	}
	var vecID int64
	err := vi.db.QueryRow(`SELECT vec_id FROM entity_vec_ids WHERE entity_id = ?`, entityID).Scan(&vecID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	vi.db.Exec(`DELETE FROM entity_embeddings_vec WHERE rowid = ?`, vecID)
	vi.db.Exec(`DELETE FROM entity_vec_ids WHERE vec_id = ?`, vecID)
	return nil
}

// Search performs a KNN query and returns entity IDs with cosine distances.
func (vi *vecIndex) Search(query []float32, limit int) ([]vecMatch, error) {
	if !vi.available || vi.dimensions == 0 {
		return nil, fmt.Errorf("vec index not available")
	}
	if len(query) != vi.dimensions {
		return nil, fmt.Errorf("query has %d dimensions, index has %d", len(query), vi.dimensions)
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query: %w", err)
	}

	// Step 1: KNN query on vec0 (returns rowids + distances)
	rows, err := vi.db.Query(`
		SELECT rowid, distance
		FROM entity_embeddings_vec
		WHERE embedding MATCH ?
		ORDER BY distance
		LIMIT ?
	`, blob, limit)
	if err != nil {
		return nil, fmt.Errorf("KNN query failed: %w", err)
	}
	defer rows.Close()

	type rowResult struct {
		rowID    int64
		distance float64
	}
	var rowResults []rowResult
	for rows.Next() {
		var r rowResult
		if err := rows.Scan(&r.rowID, &r.distance); err != nil {
			continue
		}
		rowResults = append(rowResults, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rowResults) == 0 {
		return nil, nil
	}

	// Step 2: batch-map rowids to entity ids
	placeholders := make([]string, len(rowResults))
	args := make([]interface{}, len(rowResults))
	for i, rr := range rowResults {
		placeholders[i] = "?"
		args[i] = rr.rowID
	}
	mapRows, err := vi.db.Query(
		`SELECT vec_id, entity_id FROM entity_vec_ids WHERE vec_id IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer mapRows.Close()

	idMap := make(map[int64]string)
	for mapRows.Next() {
		var vecID int64
		var entityID string
		if err := mapRows.Scan(&vecID, &entityID); err != nil {
			continue
		}
		idMap[vecID] = entityID
	}

	// Preserve KNN order
	var matches []vecMatch
	for _, rr := range rowResults {
		if entityID, ok := idMap[rr.rowID]; ok {
			matches = append(matches, vecMatch{EntityID: entityID, Distance: rr.distance})
		}
	}
	return matches, nil
}
