package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CanopyHQ/librarian/internal/errtag"
)

// HashQueryParams computes the deterministic cache key for a set of
// normalized query parameters. encoding/json sorts map keys, so two maps
// with identical contents hash identically regardless of insertion order.
// Callers are responsible for normalizing parameter values beforehand.
func HashQueryParams(params map[string]interface{}) (string, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode query params: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// UpsertQueryCacheEntry inserts or replaces the entry for its queryHash.
// On replace the accounting fields (accessCount, lastAccessed) are preserved
// unless the caller supplies new values; queryParams, response and createdAt
// are always overwritten.
func (s *Store) UpsertQueryCacheEntry(ctx context.Context, entry QueryCacheEntry) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if entry.QueryHash == "" {
		return errtag.New(errtag.InvalidConfig, "query hash is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var lastAccessed interface{}
	if !entry.LastAccessed.IsZero() {
		lastAccessed = entry.LastAccessed.UTC()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO query_cache (query_hash, query_params, response, created_at, last_accessed, access_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(query_hash) DO UPDATE SET
			query_params = excluded.query_params,
			response = excluded.response,
			created_at = excluded.created_at,
			last_accessed = CASE WHEN excluded.last_accessed IS NOT NULL
				THEN excluded.last_accessed ELSE query_cache.last_accessed END,
			access_count = CASE WHEN excluded.access_count > 0
				THEN excluded.access_count ELSE query_cache.access_count END
	`, entry.QueryHash, entry.QueryParams, entry.Response, entry.CreatedAt.UTC(),
		lastAccessed, entry.AccessCount)
	if err != nil {
		return fmt.Errorf("failed to upsert query cache entry: %w", err)
	}
	return nil
}

// GetQueryCacheEntry returns the entry for hash, or nil on miss. It does not
// mutate access stats; use RecordQueryCacheAccess for that.
func (s *Store) GetQueryCacheEntry(ctx context.Context, hash string) (*QueryCacheEntry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var entry QueryCacheEntry
	var params, response sql.NullString
	var lastAccessed sql.NullTime
	err = db.QueryRowContext(ctx, `
		SELECT query_hash, query_params, response, created_at, last_accessed, access_count
		FROM query_cache WHERE query_hash = ?
	`, hash).Scan(&entry.QueryHash, &params, &response, &entry.CreatedAt,
		&lastAccessed, &entry.AccessCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query cache entry: %w", err)
	}

	entry.QueryParams = params.String
	entry.Response = response.String
	if lastAccessed.Valid {
		entry.LastAccessed = lastAccessed.Time
	}
	return &entry, nil
}

// RecordQueryCacheAccess bumps accessCount and lastAccessed for a hit.
// No-op (not an error) when the key is absent.
func (s *Store) RecordQueryCacheAccess(ctx context.Context, hash string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE query_cache SET access_count = access_count + 1, last_accessed = ?
		WHERE query_hash = ?
	`, time.Now().UTC(), hash)
	if err != nil {
		return fmt.Errorf("failed to record query cache access: %w", err)
	}
	return nil
}

// PruneOptions bounds the query cache. A zero value disables that half of
// the policy.
type PruneOptions struct {
	MaxEntries int
	MaxAge     time.Duration
}

// PruneQueryCache runs a single combined pass: age-based expiry first, then,
// if the remaining count still exceeds MaxEntries, eviction of the
// oldest-by-createdAt entries (queryHash ascending breaks ties
// deterministically). Age expiry runs before the size cap so a flood of
// recent entries is never evicted while stale ones remain. Returns the total
// number of rows removed.
func (s *Store) PruneQueryCache(ctx context.Context, opts PruneOptions) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	if opts.MaxEntries < 0 || opts.MaxAge < 0 {
		return 0, errtag.New(errtag.InvalidConfig,
			"prune bounds must be non-negative (maxEntries=%d, maxAge=%s)", opts.MaxEntries, opts.MaxAge)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune: %w", err)
	}
	defer tx.Rollback()

	removed := 0

	if opts.MaxAge > 0 {
		cutoff := time.Now().UTC().Add(-opts.MaxAge)
		res, err := tx.ExecContext(ctx, `DELETE FROM query_cache WHERE created_at < ?`, cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to expire query cache entries: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}

	if opts.MaxEntries > 0 {
		var remaining int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_cache`).Scan(&remaining); err != nil {
			return 0, fmt.Errorf("failed to count query cache: %w", err)
		}
		if excess := remaining - opts.MaxEntries; excess > 0 {
			res, err := tx.ExecContext(ctx, `
				DELETE FROM query_cache WHERE query_hash IN (
					SELECT query_hash FROM query_cache
					ORDER BY created_at ASC, query_hash ASC
					LIMIT ?
				)
			`, excess)
			if err != nil {
				return 0, fmt.Errorf("failed to cap query cache: %w", err)
			}
			n, _ := res.RowsAffected()
			removed += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return removed, nil
}
