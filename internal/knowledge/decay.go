package knowledge

import (
	"context"
	"fmt"

	"github.com/CanopyHQ/librarian/internal/errtag"
)

// ApplyTimeDecay subtracts amount from every stored confidence value,
// functions and packs alike, clamped at each kind's floor. This is how
// unvisited knowledge loses confidence over time without an explicit
// negative outcome. Returns the number of rows changed. Both updates run in
// one transaction so readers never observe a half-decayed store.
func (s *Store) ApplyTimeDecay(ctx context.Context, amount float64) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	if amount < 0 {
		return 0, errtag.New(errtag.InvalidConfig, "decay amount must be non-negative, got %v", amount)
	}
	if amount == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin decay: %w", err)
	}
	defer tx.Rollback()

	var changed int64

	res, err := tx.ExecContext(ctx, `
		UPDATE functions SET confidence = MAX(?, confidence - ?)
		WHERE confidence > ?
	`, s.decayFloor, amount, s.decayFloor)
	if err != nil {
		return 0, fmt.Errorf("failed to decay function confidence: %w", err)
	}
	n, _ := res.RowsAffected()
	changed += n

	res, err = tx.ExecContext(ctx, `
		UPDATE context_packs SET confidence = MAX(?, confidence - ?)
		WHERE confidence > ?
	`, PackConfidenceFloor, amount, PackConfidenceFloor)
	if err != nil {
		return 0, fmt.Errorf("failed to decay pack confidence: %w", err)
	}
	n, _ = res.RowsAffected()
	changed += n

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit decay: %w", err)
	}
	return changed, nil
}
