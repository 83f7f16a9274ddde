package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MigrationReportKind identifies the audit artifact format.
const MigrationReportKind = "LibrarianSchemaMigrationReport.v1"

// MigrationReport is the audit artifact written whenever Initialize applies
// schema migrations.
type MigrationReport struct {
	Kind        string    `json:"kind"`
	FromVersion int       `json:"from_version"`
	ToVersion   int       `json:"to_version"`
	Applied     []string  `json:"applied"`
	AppliedAt   time.Time `json:"applied_at"`
}

type migrationStep struct {
	version int
	name    string
	sql     string
}

// Migration steps are append-only and idempotent (IF NOT EXISTS throughout)
// so a replay from any recorded version converges on the same schema.
var migrations = []migrationStep{
	{
		version: 1,
		name:    "create_functions",
		sql: `
		CREATE TABLE IF NOT EXISTS functions (
			id TEXT PRIMARY KEY,
			file_path TEXT NOT NULL,
			name TEXT NOT NULL,
			signature TEXT,
			purpose TEXT,
			start_line INTEGER DEFAULT 0,
			end_line INTEGER DEFAULT 0,
			confidence REAL DEFAULT 0.5,
			access_count INTEGER DEFAULT 0,
			last_accessed DATETIME,
			validation_count INTEGER DEFAULT 0,
			successes INTEGER DEFAULT 0,
			failures INTEGER DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_functions_file_path ON functions(file_path);
		CREATE INDEX IF NOT EXISTS idx_functions_name ON functions(name);`,
	},
	{
		version: 2,
		name:    "create_context_packs",
		sql: `
		CREATE TABLE IF NOT EXISTS context_packs (
			pack_id TEXT PRIMARY KEY,
			pack_type TEXT NOT NULL,
			target_id TEXT,
			summary TEXT,
			key_facts TEXT,
			code_snippets TEXT,
			related_files TEXT,
			confidence REAL DEFAULT 0.5,
			created_at DATETIME NOT NULL,
			access_count INTEGER DEFAULT 0,
			last_outcome TEXT DEFAULT '',
			success_count INTEGER DEFAULT 0,
			failure_count INTEGER DEFAULT 0,
			version INTEGER DEFAULT 1,
			invalidation_triggers TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_context_packs_type ON context_packs(pack_type);
		CREATE INDEX IF NOT EXISTS idx_context_packs_target ON context_packs(target_id);`,
	},
	{
		version: 3,
		name:    "create_embeddings",
		sql: `
		CREATE TABLE IF NOT EXISTS embeddings (
			entity_id TEXT PRIMARY KEY,
			vector TEXT NOT NULL,
			model_id TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
	},
	{
		version: 4,
		name:    "create_query_cache",
		sql: `
		CREATE TABLE IF NOT EXISTS query_cache (
			query_hash TEXT PRIMARY KEY,
			query_params TEXT,
			response TEXT,
			created_at DATETIME NOT NULL,
			last_accessed DATETIME,
			access_count INTEGER DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_query_cache_created_at ON query_cache(created_at);`,
	},
}

// migrate applies pending migration steps inside transactions and records
// each in the schema_migrations ledger. First-ever initialize starts at
// version 0.
func (s *Store) migrate(ctx context.Context, db *sql.DB) (*MigrationReport, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("failed to create migration ledger: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return nil, fmt.Errorf("failed to read migration ledger: %w", err)
	}

	report := &MigrationReport{
		Kind:        MigrationReportKind,
		FromVersion: current,
		ToVersion:   current,
		Applied:     []string{},
		AppliedAt:   time.Now().UTC(),
	}

	for _, step := range migrations {
		if step.version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to begin migration %d: %w", step.version, err)
		}
		if _, err := tx.ExecContext(ctx, step.sql); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("migration %d (%s) failed: %w", step.version, step.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			step.version, step.name, time.Now().UTC()); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to record migration %d: %w", step.version, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit migration %d: %w", step.version, err)
		}
		report.Applied = append(report.Applied, fmt.Sprintf("%d_%s", step.version, step.name))
		report.ToVersion = step.version
	}

	return report, nil
}

// writeMigrationReport persists the audit artifact under <dataDir>/audit.
func (s *Store) writeMigrationReport(report *MigrationReport) error {
	auditDir := filepath.Join(s.dataDir, "audit")
	if err := os.MkdirAll(auditDir, 0o700); err != nil {
		return fmt.Errorf("failed to create audit dir: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode migration report: %w", err)
	}

	name := fmt.Sprintf("migration-%s.json", report.AppliedAt.Format("20060102T150405Z"))
	if err := os.WriteFile(filepath.Join(auditDir, name), data, 0o600); err != nil {
		return fmt.Errorf("failed to write migration report: %w", err)
	}
	return nil
}
