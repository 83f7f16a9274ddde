// Package knowledge provides the SQLite-backed store for functions, context
// packs, embeddings and the query cache. All confidence values are clamped
// at write time; pack confidence additionally honors the application
// floor/ceiling. Mutating calls are atomic per call.
package knowledge

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/CanopyHQ/librarian/internal/errtag"
	"github.com/CanopyHQ/librarian/internal/workspace"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DefaultDatabaseFile is the database filename inside the reserved
// storage directory.
const DefaultDatabaseFile = "librarian.db"

// Options configures a Store.
type Options struct {
	// DataDir is the workspace's reserved storage directory. Required.
	DataDir string
	// DatabaseFile is the database path, resolved against DataDir.
	// Paths resolving outside DataDir are rejected at construction.
	DatabaseFile string
	// DecayFloor is the minimum confidence ApplyTimeDecay leaves on
	// function knowledge. Defaults to DefaultDecayFloor.
	DecayFloor float64
	Logger     *zap.Logger
}

// Store is the persistent knowledge store. Construct with NewStore, then
// Initialize before use.
type Store struct {
	mu          sync.Mutex
	db          *sql.DB
	dataDir     string
	dbPath      string
	decayFloor  float64
	log         *zap.Logger
	vecIdx      *vecIndex
	initialized bool
}

// NewStore validates options and resolves the database path. It fails with
// storage_path_escape if the configured path resolves outside the reserved
// storage directory. No I/O happens until Initialize.
func NewStore(opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, errtag.New(errtag.InvalidConfig, "storage data dir is required")
	}
	if opts.DatabaseFile == "" {
		opts.DatabaseFile = DefaultDatabaseFile
	}
	if opts.DecayFloor == 0 {
		opts.DecayFloor = DefaultDecayFloor
	}
	if opts.DecayFloor < 0 || opts.DecayFloor >= 1 {
		return nil, errtag.New(errtag.InvalidConfig, "decay floor %v outside [0,1)", opts.DecayFloor)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	dbPath, err := workspace.ResolveStoragePath(opts.DataDir, opts.DatabaseFile)
	if err != nil {
		return nil, err
	}

	return &Store{
		dataDir:    opts.DataDir,
		dbPath:     dbPath,
		decayFloor: opts.DecayFloor,
		log:        opts.Logger,
	}, nil
}

// Initialize opens the database, applies pending schema migrations and, when
// any were applied, writes a migration report to the audit directory.
// Idempotent: a second call on an initialized store is a no-op.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o700); err != nil {
		return fmt.Errorf("failed to create storage dir: %w", err)
	}

	db, err := sql.Open("sqlite3", s.dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	report, err := s.migrate(ctx, db)
	if err != nil {
		db.Close()
		return err
	}
	if len(report.Applied) > 0 {
		if err := s.writeMigrationReport(report); err != nil {
			// The schema is already correct; losing the audit artifact is
			// not fatal.
			s.log.Warn("failed to write migration report", zap.Error(err))
		}
		s.log.Info("schema migrated",
			zap.Int("from_version", report.FromVersion),
			zap.Int("to_version", report.ToVersion),
			zap.Strings("applied", report.Applied))
	}

	s.db = db
	s.vecIdx = newVecIndex(db, s.log)
	s.initialized = true
	s.log.Debug("knowledge store initialized", zap.String("path", s.dbPath))
	return nil
}

// IsInitialized reports whether Initialize has completed.
func (s *Store) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Close releases the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.vecIdx = nil
	s.initialized = false
	return err
}

// DatabasePath returns the resolved database file path.
func (s *Store) DatabasePath() string { return s.dbPath }

func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, errtag.New(errtag.NotInitialized, "store is not initialized")
	}
	return s.db, nil
}

// Stats summarizes the store contents for status reporting.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	db, err := s.conn()
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM functions`, &st.Functions},
		{`SELECT COUNT(*) FROM context_packs`, &st.ContextPacks},
		{`SELECT COUNT(*) FROM embeddings`, &st.Embeddings},
		{`SELECT COUNT(*) FROM query_cache`, &st.QueryCacheEntries},
		{`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`, &st.SchemaVersion},
	}
	for _, c := range counts {
		if err := db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("failed to count: %w", err)
		}
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DatabaseSize = humanSize(info.Size())
	} else {
		st.DatabaseSize = "unknown"
	}
	return st, nil
}

func humanSize(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d B", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	}
}

func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
