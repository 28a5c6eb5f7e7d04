// Package store defines the persisted index of filesystem entries.
//
// A store holds one row per path plus a root record per committed snapshot.
// Rows can be listed by subtree, by parent, by kind, by extension and by
// content hash. Snapshots are rebuilt through a Stage: rows are written to a
// staging generation and only replace the live subtree on Commit, so a
// cancelled rebuild leaves the previous snapshot untouched.
//
// Backends register themselves by name; import them for side effects:
//
//	import _ "github.com/jamesainslie/sift/pkg/sift/store/badgerstore"
//
//	st, err := store.Open("badger", path)
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/jamesainslie/sift/pkg/sift/types"
)

var (
	// ErrNotFound is returned when a path or root record is not stored.
	ErrNotFound = errors.New("not found")

	// ErrSchemaTooNew is returned when the store was written by a newer sift.
	ErrSchemaTooNew = errors.New("index schema is newer than supported")

	// ErrUnknownBackend is returned by Open for an unregistered backend.
	ErrUnknownBackend = errors.New("unknown index backend")

	// ErrStageDone is returned when a committed or discarded stage is reused.
	ErrStageDone = errors.New("stage already finished")
)

// KindFilter restricts a Query to files or directories.
type KindFilter int

// Kind filters.
const (
	AnyKind KindFilter = iota
	FilesOnly
	DirsOnly
)

// Match reports whether an entry passes the filter.
func (k KindFilter) Match(e *types.IndexEntry) bool {
	switch k {
	case FilesOnly:
		return e.Kind == types.KindFile
	case DirsOnly:
		return e.Kind == types.KindDirectory
	default:
		return true
	}
}

// Query selects entries strictly beneath Root. Results are delivered in
// path order.
type Query struct {
	Root string

	// Recurse includes all descendants; false limits the query to direct
	// children of Root.
	Recurse bool

	Kind KindFilter

	// Extension, if set, matches the lower-cased extension including the dot.
	Extension string
}

// Store is a persisted index. Implementations are safe for concurrent use
// by a single process.
type Store interface {
	// Get returns the entry for path or ErrNotFound.
	Get(ctx context.Context, path string) (types.IndexEntry, error)

	// Upsert inserts or replaces entries by path.
	Upsert(ctx context.Context, entries []types.IndexEntry) error

	// DeleteSubtree removes root and every entry beneath it, and drops the
	// root records of root and of every snapshot nested in or enclosing it.
	// It returns the number of entries removed.
	DeleteSubtree(ctx context.Context, root string) (int64, error)

	// Query calls fn for each matching entry. An error from fn stops the
	// iteration and is returned.
	Query(ctx context.Context, q Query, fn func(types.IndexEntry) error) error

	// ByHash returns the files carrying the given content hash, by path.
	ByHash(ctx context.Context, hash string) ([]types.IndexEntry, error)

	// RootRecord returns the committed record of a snapshot or ErrNotFound.
	RootRecord(ctx context.Context, root string) (types.RootRecord, error)

	// Roots lists all committed root records ordered by root.
	Roots(ctx context.Context) ([]types.RootRecord, error)

	// BeginStage starts a staging generation for rebuilding root.
	BeginStage(ctx context.Context, root string, generation int64) (Stage, error)

	// Count returns the total number of stored entries.
	Count(ctx context.Context) (int64, error)

	// Backend names the implementation.
	Backend() string

	Close() error
}

// Stage collects the rows of a rebuild. Exactly one of Commit or Discard
// must be called.
type Stage interface {
	// Put writes rows to the staging generation. They are not visible to
	// readers until Commit.
	Put(ctx context.Context, entries []types.IndexEntry) error

	// Commit replaces the live subtree of the stage's root with the staged
	// rows. The root record is dropped first and the root entry and record
	// are written last, so an interrupted commit leaves no record and the
	// snapshot reads as stale.
	Commit(ctx context.Context, root types.IndexEntry, rec types.RootRecord) error

	// Discard drops the staged rows.
	Discard(ctx context.Context) error
}

// Opener opens a backend at path.
type Opener func(path string) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Opener{}
)

// Register makes a backend available to Open. It panics on a duplicate name.
func Register(name string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("store: Register called twice for backend " + name)
	}
	registry[name] = open
}

// Backends lists the registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the named backend at path.
func Open(backend, path string) (Store, error) {
	registryMu.RLock()
	open, ok := registry[backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownBackend, backend,
			strings.Join(Backends(), ", "))
	}
	st, err := open(path)
	if err != nil {
		return nil, types.IndexError("open "+backend, err)
	}
	return st, nil
}

const sep = string(filepath.Separator)

// IsUnder reports whether path is root or lies beneath it. "/data/foobar"
// is not under "/data/foo".
func IsUnder(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, SubtreePrefix(root))
}

// SubtreePrefix returns root with a trailing separator; every descendant
// path starts with it.
func SubtreePrefix(root string) string {
	if strings.HasSuffix(root, sep) {
		return root
	}
	return root + sep
}

// PrefixUpperBound returns the smallest string greater than every string
// with the given prefix, for range scans. The separator is ASCII so the
// increment never carries.
func PrefixUpperBound(prefix string) string {
	if prefix == "" {
		return ""
	}
	b := []byte(prefix)
	b[len(b)-1]++
	return string(b)
}

// AffectedRoots returns the roots whose snapshot overlaps root: root itself,
// roots nested beneath it and roots enclosing it.
func AffectedRoots(root string, roots []string) []string {
	var out []string
	for _, r := range roots {
		if IsUnder(r, root) || IsUnder(root, r) {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return out
}
