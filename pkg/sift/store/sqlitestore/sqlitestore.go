// Package sqlitestore is the SQLite-backed index store, registered as
// "sqlite". Entries live in one table keyed by path with secondary indexes
// on parent path, kind, extension and content hash.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// Name is the registered backend name.
const Name = "sqlite"

func init() {
	store.Register(Name, func(path string) (store.Store, error) {
		return Open(path)
	})
}

// entryColumns is the column list shared by entries and staging.
const entryColumns = `path, parent_path, name, kind, size, extension, mtime, ctime, indexed_at, content_hash, walked`

// Store is a store.Store backed by SQLite.
type Store struct {
	db  *sql.DB
	log *log.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database file at path and applies the schema.
// Staging rows left behind by an interrupted rebuild are purged.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, log: logging.Get("store")}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`DELETE FROM staging`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("purging staged rows: %w", err)
	}
	return s, nil
}

// Backend returns "sqlite".
func (s *Store) Backend() string {
	return Name
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (types.IndexEntry, error) {
	var (
		e    types.IndexEntry
		kind string
		hash sql.NullString
	)
	err := r.Scan(&e.Path, &e.ParentPath, &e.Name, &kind, &e.Size, &e.Extension,
		&e.ModTime, &e.CreateTime, &e.IndexedAt, &hash, &e.Walked)
	if err != nil {
		return e, err
	}
	if err := e.Kind.UnmarshalText([]byte(kind)); err != nil {
		return e, err
	}
	e.ContentHash = hash.String
	return e, nil
}

func entryArgs(e *types.IndexEntry) []any {
	var hash sql.NullString
	if e.HasHash() {
		hash = sql.NullString{String: e.ContentHash, Valid: true}
	}
	return []any{e.Path, e.ParentPath, e.Name, e.Kind.String(), e.Size, e.Extension,
		e.ModTime, e.CreateTime, e.IndexedAt, hash, e.Walked}
}

// Get returns the entry stored for path.
func (s *Store) Get(ctx context.Context, path string) (types.IndexEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE path = ?`, path)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	return e, err
}

// Upsert inserts or replaces entries in one transaction.
func (s *Store) Upsert(ctx context.Context, entries []types.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEntries(ctx, tx, `INSERT OR REPLACE INTO entries (`+entryColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`, nil, entries)
	})
}

func insertEntries(ctx context.Context, tx *sql.Tx, query string, prefix []any, entries []types.IndexEntry) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range entries {
		args := append(append([]any{}, prefix...), entryArgs(&entries[i])...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("writing %s: %w", entries[i].Path, err)
		}
	}
	return nil
}

// DeleteSubtree removes root, its descendants and overlapping root records.
func (s *Store) DeleteSubtree(ctx context.Context, root string) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := dropRootRecords(ctx, tx, root); err != nil {
			return err
		}
		var err error
		n, err = deleteRows(ctx, tx, root)
		return err
	})
	return n, err
}

func deleteRows(ctx context.Context, tx *sql.Tx, root string) (int64, error) {
	lo := store.SubtreePrefix(root)
	res, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE path = ? OR (path >= ? AND path < ?)`,
		root, lo, store.PrefixUpperBound(lo))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func dropRootRecords(ctx context.Context, tx *sql.Tx, root string) error {
	rows, err := tx.QueryContext(ctx, `SELECT root FROM roots`)
	if err != nil {
		return err
	}
	var names []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			rows.Close()
			return err
		}
		names = append(names, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range store.AffectedRoots(root, names) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM roots WHERE root = ?`, r); err != nil {
			return err
		}
	}
	return nil
}

// Query iterates matching entries in path order.
func (s *Store) Query(ctx context.Context, q store.Query, fn func(types.IndexEntry) error) error {
	var (
		where []string
		args  []any
	)
	if q.Recurse {
		lo := store.SubtreePrefix(q.Root)
		where = append(where, `path >= ? AND path < ?`)
		args = append(args, lo, store.PrefixUpperBound(lo))
	} else {
		where = append(where, `parent_path = ? AND path <> ?`)
		args = append(args, q.Root, q.Root)
	}
	switch q.Kind {
	case store.FilesOnly:
		where = append(where, `kind = ?`)
		args = append(args, types.KindFile.String())
	case store.DirsOnly:
		where = append(where, `kind = ?`)
		args = append(args, types.KindDirectory.String())
	}
	if q.Extension != "" {
		where = append(where, `extension = ?`)
		args = append(args, q.Extension)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE `+strings.Join(where, " AND ")+` ORDER BY path`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ByHash returns the files with the given content hash.
func (s *Store) ByHash(ctx context.Context, hash string) ([]types.IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE content_hash = ? ORDER BY path`, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.IndexEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RootRecord returns the committed record for root.
func (s *Store) RootRecord(ctx context.Context, root string) (types.RootRecord, error) {
	var (
		rec  types.RootRecord
		data []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT record FROM roots WHERE root = ?`, root).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("%w: root record %s", store.ErrNotFound, root)
	}
	if err != nil {
		return rec, err
	}
	return rec, json.Unmarshal(data, &rec)
}

// Roots lists all committed root records.
func (s *Store) Roots(ctx context.Context) ([]types.RootRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM roots ORDER BY root`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.RootRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec types.RootRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n)
	return n, err
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %w)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
