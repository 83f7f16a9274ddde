package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertFunction writes function knowledge with last-write-wins semantics
// keyed by id. Confidence is clamped to [0,1]; missing optional fields
// default to zero/null.
func (s *Store) UpsertFunction(ctx context.Context, fn FunctionKnowledge) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if fn.ID == "" {
		fn.ID = generateID()
	}
	fn.Confidence = clamp01(fn.Confidence)

	var lastAccessed interface{}
	if fn.LastAccessed != nil {
		lastAccessed = fn.LastAccessed.UTC()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO functions (id, file_path, name, signature, purpose, start_line, end_line,
			confidence, access_count, last_accessed, validation_count, successes, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_path = excluded.file_path,
			name = excluded.name,
			signature = excluded.signature,
			purpose = excluded.purpose,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			confidence = excluded.confidence,
			access_count = excluded.access_count,
			last_accessed = excluded.last_accessed,
			validation_count = excluded.validation_count,
			successes = excluded.successes,
			failures = excluded.failures
	`, fn.ID, fn.FilePath, fn.Name, fn.Signature, fn.Purpose, fn.StartLine, fn.EndLine,
		fn.Confidence, fn.AccessCount, lastAccessed, fn.ValidationCount,
		fn.Outcomes.Successes, fn.Outcomes.Failures)
	if err != nil {
		return fmt.Errorf("failed to upsert function %s: %w", fn.ID, err)
	}
	return nil
}

// GetFunction returns the function with the given id, or nil when absent.
func (s *Store) GetFunction(ctx context.Context, id string) (*FunctionKnowledge, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var fn FunctionKnowledge
	var signature, purpose sql.NullString
	var lastAccessed sql.NullTime
	err = db.QueryRowContext(ctx, `
		SELECT id, file_path, name, signature, purpose, start_line, end_line,
			confidence, access_count, last_accessed, validation_count, successes, failures
		FROM functions WHERE id = ?
	`, id).Scan(&fn.ID, &fn.FilePath, &fn.Name, &signature, &purpose,
		&fn.StartLine, &fn.EndLine, &fn.Confidence, &fn.AccessCount,
		&lastAccessed, &fn.ValidationCount, &fn.Outcomes.Successes, &fn.Outcomes.Failures)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get function %s: %w", id, err)
	}

	fn.Signature = signature.String
	fn.Purpose = purpose.String
	if lastAccessed.Valid {
		t := lastAccessed.Time
		fn.LastAccessed = &t
	}
	return &fn, nil
}

// TouchFunction bumps access accounting for a function. No-op when the id
// is absent.
func (s *Store) TouchFunction(ctx context.Context, id string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE functions SET access_count = access_count + 1, last_accessed = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch function %s: %w", id, err)
	}
	return nil
}

// RecordFunctionOutcome records a validation pass or failure against a
// function's outcome history.
func (s *Store) RecordFunctionOutcome(ctx context.Context, id string, success bool) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	column := "failures"
	if success {
		column = "successes"
	}
	res, err := db.ExecContext(ctx, `
		UPDATE functions SET `+column+` = `+column+` + 1,
			validation_count = validation_count + 1
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to record outcome for function %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("function not found: %s", id)
	}
	return nil
}
