package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/outpost/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the database file created under the base directory.
const FileName = "outpost.db"

// Init initializes the SQLite database at baseDir/outpost.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.outpost.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// synchronous(FULL) makes every committed write durable before Exec returns,
	// which the write service relies on when it reports success immediately.
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
// Call after Init if you need to tune pool behavior for contention.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS timeline_items (
		  id                TEXT PRIMARY KEY,
		  server_id         TEXT,
		  interaction_id    TEXT NOT NULL,
		  profile_id        TEXT NOT NULL,
		  item_type         TEXT NOT NULL CHECK (item_type IN ('message', 'transaction')),
		  from_entity_id    TEXT NOT NULL,
		  to_entity_id      TEXT,
		  content           TEXT,
		  message_type      TEXT,
		  amount            REAL,
		  currency_id       TEXT,
		  currency_code     TEXT,
		  currency_symbol   TEXT,
		  transaction_type  TEXT,
		  from_wallet_id    TEXT,
		  to_wallet_id      TEXT,
		  sync_status       TEXT NOT NULL DEFAULT 'pending',
		  local_status      TEXT NOT NULL DEFAULT 'pending',
		  retry_count       INTEGER NOT NULL DEFAULT 0,
		  last_error        TEXT,
		  next_attempt_at   INTEGER,
		  timeline_metadata TEXT,
		  created_at        INTEGER NOT NULL,
		  updated_at        INTEGER NOT NULL,
		  CHECK (
		    (item_type = 'message'
		      AND content IS NOT NULL
		      AND amount IS NULL AND currency_id IS NULL AND currency_code IS NULL
		      AND currency_symbol IS NULL AND transaction_type IS NULL
		      AND from_wallet_id IS NULL AND to_wallet_id IS NULL)
		    OR
		    (item_type = 'transaction'
		      AND content IS NULL AND message_type IS NULL
		      AND amount IS NOT NULL AND from_wallet_id IS NOT NULL
		      AND to_entity_id IS NOT NULL)
		  )
		);

		CREATE INDEX IF NOT EXISTS idx_timeline_items_profile_status
		ON timeline_items(profile_id, sync_status, local_status, next_attempt_at);

		CREATE INDEX IF NOT EXISTS idx_timeline_items_profile_type_created
		ON timeline_items(profile_id, item_type, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_timeline_items_profile_interaction
		ON timeline_items(profile_id, interaction_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_timeline_items_server_id
		ON timeline_items(server_id)
		WHERE server_id IS NOT NULL;
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
