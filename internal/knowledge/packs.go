package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/CanopyHQ/librarian/internal/errtag"
)

// UpsertContextPack writes a context pack with last-write-wins semantics
// keyed by packId. Confidence is clamped to the application floor/ceiling
// before persistence.
func (s *Store) UpsertContextPack(ctx context.Context, pack ContextPack) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if pack.PackID == "" {
		pack.PackID = generateID()
	}
	if pack.CreatedAt.IsZero() {
		pack.CreatedAt = time.Now().UTC()
	}
	if pack.Version == 0 {
		pack.Version = 1
	}
	pack.Confidence = ClampPackConfidence(pack.Confidence)

	keyFacts, _ := json.Marshal(pack.KeyFacts)
	snippets, _ := json.Marshal(pack.CodeSnippets)
	relatedFiles, _ := json.Marshal(pack.RelatedFiles)
	triggers, _ := json.Marshal(pack.InvalidationTriggers)

	_, err = db.ExecContext(ctx, `
		INSERT INTO context_packs (pack_id, pack_type, target_id, summary, key_facts,
			code_snippets, related_files, confidence, created_at, access_count,
			last_outcome, success_count, failure_count, version, invalidation_triggers)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pack_id) DO UPDATE SET
			pack_type = excluded.pack_type,
			target_id = excluded.target_id,
			summary = excluded.summary,
			key_facts = excluded.key_facts,
			code_snippets = excluded.code_snippets,
			related_files = excluded.related_files,
			confidence = excluded.confidence,
			created_at = excluded.created_at,
			access_count = excluded.access_count,
			last_outcome = excluded.last_outcome,
			success_count = excluded.success_count,
			failure_count = excluded.failure_count,
			version = excluded.version,
			invalidation_triggers = excluded.invalidation_triggers
	`, pack.PackID, pack.PackType, pack.TargetID, pack.Summary, string(keyFacts),
		string(snippets), string(relatedFiles), pack.Confidence, pack.CreatedAt,
		pack.AccessCount, pack.LastOutcome, pack.SuccessCount, pack.FailureCount,
		pack.Version, string(triggers))
	if err != nil {
		return fmt.Errorf("failed to upsert context pack %s: %w", pack.PackID, err)
	}
	return nil
}

// GetContextPack returns a single pack by id, or nil when absent.
func (s *Store) GetContextPack(ctx context.Context, packID string) (*ContextPack, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, packSelect+` WHERE pack_id = ?`, packID)
	pack, err := scanPack(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pack, nil
}

// GetContextPacks returns packs matching the filter, newest first, capped by
// filter.Limit when positive.
func (s *Store) GetContextPacks(ctx context.Context, filter PackFilter) ([]ContextPack, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := packSelect
	var conditions []string
	var args []interface{}
	if filter.PackType != "" {
		conditions = append(conditions, "pack_type = ?")
		args = append(args, filter.PackType)
	}
	if filter.TargetID != "" {
		conditions = append(conditions, "target_id = ?")
		args = append(args, filter.TargetID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, pack_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query context packs: %w", err)
	}
	defer rows.Close()

	var packs []ContextPack
	for rows.Next() {
		pack, err := scanPack(rows.Scan)
		if err != nil {
			return nil, err
		}
		packs = append(packs, *pack)
	}
	return packs, rows.Err()
}

// RecordPackOutcome increments the pack's success or failure counter and
// sets lastOutcome. This is the write half of the feedback cycle the
// calibration engine reads from.
func (s *Store) RecordPackOutcome(ctx context.Context, packID string, success bool) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	column, outcome := "failure_count", "failure"
	if success {
		column, outcome = "success_count", "success"
	}
	res, err := db.ExecContext(ctx, `
		UPDATE context_packs SET `+column+` = `+column+` + 1, last_outcome = ?
		WHERE pack_id = ?
	`, outcome, packID)
	if err != nil {
		return fmt.Errorf("failed to record outcome for pack %s: %w", packID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("context pack not found: %s", packID)
	}
	return nil
}

// AdjustPackConfidence shifts a pack's confidence by delta, clamped to the
// application floor/ceiling. No-op (not an error) when the pack is absent.
func (s *Store) AdjustPackConfidence(ctx context.Context, packID string, delta float64) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE context_packs
		SET confidence = MIN(?, MAX(?, confidence + ?))
		WHERE pack_id = ?
	`, PackConfidenceCeiling, PackConfidenceFloor, delta, packID)
	if err != nil {
		return fmt.Errorf("failed to adjust confidence for pack %s: %w", packID, err)
	}
	return nil
}

// InvalidatePacksByTrigger floors the confidence of every pack that lists
// the changed file among its invalidation triggers and bumps its version.
// Returns the number of packs invalidated.
func (s *Store) InvalidatePacksByTrigger(ctx context.Context, filePath string) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT pack_id, invalidation_triggers FROM context_packs WHERE invalidation_triggers IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to scan invalidation triggers: %w", err)
	}
	defer rows.Close()

	var hit []string
	for rows.Next() {
		var packID string
		var triggersJSON sql.NullString
		if err := rows.Scan(&packID, &triggersJSON); err != nil {
			return 0, err
		}
		if !triggersJSON.Valid || triggersJSON.String == "" {
			continue
		}
		var triggers []string
		if err := json.Unmarshal([]byte(triggersJSON.String), &triggers); err != nil {
			return 0, errtag.Wrap(errtag.ParseError, err,
				"malformed invalidation_triggers on pack %s", packID)
		}
		for _, t := range triggers {
			if t == filePath {
				hit = append(hit, packID)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, packID := range hit {
		if _, err := db.ExecContext(ctx, `
			UPDATE context_packs SET confidence = ?, version = version + 1 WHERE pack_id = ?
		`, PackConfidenceFloor, packID); err != nil {
			return 0, fmt.Errorf("failed to invalidate pack %s: %w", packID, err)
		}
	}
	return len(hit), nil
}

// TouchPack bumps access accounting for a pack. No-op when absent.
func (s *Store) TouchPack(ctx context.Context, packID string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`UPDATE context_packs SET access_count = access_count + 1 WHERE pack_id = ?`, packID)
	if err != nil {
		return fmt.Errorf("failed to touch pack %s: %w", packID, err)
	}
	return nil
}

const packSelect = `
	SELECT pack_id, pack_type, target_id, summary, key_facts, code_snippets,
		related_files, confidence, created_at, access_count, last_outcome,
		success_count, failure_count, version, invalidation_triggers
	FROM context_packs`

// scanPack reads one pack row. Malformed persisted JSON fails closed with a
// parse_error naming the artifact.
func scanPack(scan func(dest ...interface{}) error) (*ContextPack, error) {
	var pack ContextPack
	var targetID, summary, keyFacts, snippets, relatedFiles, lastOutcome, triggers sql.NullString
	err := scan(&pack.PackID, &pack.PackType, &targetID, &summary, &keyFacts,
		&snippets, &relatedFiles, &pack.Confidence, &pack.CreatedAt,
		&pack.AccessCount, &lastOutcome, &pack.SuccessCount, &pack.FailureCount,
		&pack.Version, &triggers)
	if err != nil {
		return nil, err
	}

	pack.TargetID = targetID.String
	pack.Summary = summary.String
	pack.LastOutcome = lastOutcome.String
	pack.Confidence = ClampPackConfidence(pack.Confidence)

	fields := []struct {
		name string
		raw  sql.NullString
		dst  interface{}
	}{
		{"key_facts", keyFacts, &pack.KeyFacts},
		{"code_snippets", snippets, &pack.CodeSnippets},
		{"related_files", relatedFiles, &pack.RelatedFiles},
		{"invalidation_triggers", triggers, &pack.InvalidationTriggers},
	}
	for _, f := range fields {
		if !f.raw.Valid || f.raw.String == "" || f.raw.String == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw.String), f.dst); err != nil {
			return nil, errtag.Wrap(errtag.ParseError, err,
				"malformed %s on pack %s", f.name, pack.PackID)
		}
	}
	return &pack, nil
}
