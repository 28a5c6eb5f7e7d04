package sqlitestore

import (
	"fmt"

	"github.com/jamesainslie/sift/pkg/sift/store"
)

// CurrentSchemaVersion is stored in PRAGMA user_version.
const CurrentSchemaVersion = 1

// migrations[i] upgrades version i to i+1.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS entries (
    path         TEXT PRIMARY KEY,
    parent_path  TEXT NOT NULL,
    name         TEXT NOT NULL,
    kind         TEXT NOT NULL,
    size         INTEGER NOT NULL DEFAULT 0,
    extension    TEXT NOT NULL DEFAULT '',
    mtime        INTEGER NOT NULL,
    ctime        INTEGER NOT NULL,
    indexed_at   INTEGER NOT NULL,
    content_hash TEXT,
    walked       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_entries_parent ON entries(parent_path);
CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind, path);
CREATE INDEX IF NOT EXISTS idx_entries_extension ON entries(extension, path);
CREATE INDEX IF NOT EXISTS idx_entries_hash ON entries(content_hash) WHERE content_hash IS NOT NULL;

CREATE TABLE IF NOT EXISTS staging (
    stage        TEXT NOT NULL,
    path         TEXT NOT NULL,
    parent_path  TEXT NOT NULL,
    name         TEXT NOT NULL,
    kind         TEXT NOT NULL,
    size         INTEGER NOT NULL DEFAULT 0,
    extension    TEXT NOT NULL DEFAULT '',
    mtime        INTEGER NOT NULL,
    ctime        INTEGER NOT NULL,
    indexed_at   INTEGER NOT NULL,
    content_hash TEXT,
    walked       INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (stage, path)
);

CREATE TABLE IF NOT EXISTS roots (
    root   TEXT PRIMARY KEY,
    record TEXT NOT NULL
);
`,
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("%w: have %d, support %d", store.ErrSchemaTooNew, version, CurrentSchemaVersion)
	}

	for v := version; v < CurrentSchemaVersion; v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying schema %d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Debug("schema migrated", "version", v+1)
	}
	return nil
}
