// Package badgerstore is the Badger-backed index store, registered as
// "badger". It is the default backend.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// Name is the registered backend name.
const Name = "badger"

func init() {
	store.Register(Name, func(path string) (store.Store, error) {
		return Open(path)
	})
}

// Store is a store.Store backed by Badger.
type Store struct {
	db  *badger.DB
	log *log.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens or creates a store in the directory at path. Staging rows left
// behind by an interrupted rebuild are purged.
func Open(path string) (*Store, error) {
	return open(badger.DefaultOptions(path))
}

// OpenInMemory opens a store that lives only in memory.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Store, error) {
	l := logging.Get("store")
	db, err := badger.Open(opts.WithLogger(badgerLogger{l: l}))
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, log: l}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.deletePrefix(prefixStage); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("purging staged rows: %w", err)
	}
	return s, nil
}

// Backend returns "badger".
func (s *Store) Backend() string {
	return Name
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the entry stored for path.
func (s *Store) Get(_ context.Context, path string) (types.IndexEntry, error) {
	var e types.IndexEntry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = getEntry(txn, path)
		return err
	})
	return e, err
}

func getEntry(txn *badger.Txn, path string) (types.IndexEntry, error) {
	var e types.IndexEntry
	item, err := txn.Get(entryKey(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return e, fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	if err != nil {
		return e, err
	}
	err = item.Value(e.Decode)
	return e, err
}

// Upsert writes entries, removing index keys left by a previous version of
// the same path.
func (s *Store) Upsert(ctx context.Context, entries []types.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	stale := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		for i := range entries {
			old, err := getEntry(txn, entries[i].Path)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			for _, k := range indexKeys(&old) {
				stale[string(k)] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range entries {
		for _, k := range indexKeys(&entries[i]) {
			delete(stale, string(k))
		}
	}
	for k := range stale {
		if err := wb.Delete([]byte(k)); err != nil {
			return err
		}
	}
	for i := range entries {
		if err := putEntry(wb, &entries[i]); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func putEntry(wb *badger.WriteBatch, e *types.IndexEntry) error {
	data, err := e.Encode()
	if err != nil {
		return err
	}
	if err := wb.Set(entryKey(e.Path), data); err != nil {
		return err
	}
	for _, k := range indexKeys(e) {
		var val []byte
		if strings.HasPrefix(string(k), prefixParent) {
			val = []byte(e.Path)
		}
		if err := wb.Set(k, val); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSubtree removes root, its descendants and overlapping root records.
func (s *Store) DeleteSubtree(ctx context.Context, root string) (int64, error) {
	if err := s.dropRootRecords(root); err != nil {
		return 0, err
	}
	return s.deleteRows(ctx, root)
}

// deleteRows removes the entries and index keys of root and its subtree.
func (s *Store) deleteRows(ctx context.Context, root string) (int64, error) {
	var keys [][]byte
	var n int64

	err := s.db.View(func(txn *badger.Txn) error {
		collect := func(e *types.IndexEntry) {
			keys = append(keys, entryKey(e.Path))
			keys = append(keys, indexKeys(e)...)
			n++
		}

		if e, err := getEntry(txn, root); err == nil {
			collect(&e)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		return iterate(txn, prefixEntry+store.SubtreePrefix(root), true, func(item *badger.Item) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e types.IndexEntry
			if err := item.Value(e.Decode); err != nil {
				return err
			}
			collect(&e)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return n, nil
}

// dropRootRecords deletes the records of every root overlapping root.
func (s *Store) dropRootRecords(root string) error {
	recs, err := s.Roots(context.Background())
	if err != nil {
		return err
	}
	names := make([]string, len(recs))
	for i := range recs {
		names[i] = recs[i].Root
	}
	affected := store.AffectedRoots(root, names)
	if len(affected) == 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, r := range affected {
			if err := txn.Delete(rootKey(r)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Query iterates matching entries in path order using the narrowest index.
func (s *Store) Query(ctx context.Context, q store.Query, fn func(types.IndexEntry) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		visit := func(e types.IndexEntry) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !q.Kind.Match(&e) || (q.Extension != "" && e.Extension != q.Extension) {
				return nil
			}
			return fn(e)
		}
		lookup := func(item *badger.Item) error {
			path := pathFromIndexKey(item.Key())
			if strings.HasPrefix(string(item.Key()), prefixParent) {
				val, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				path = string(val)
			}
			if path == q.Root {
				return nil
			}
			e, err := getEntry(txn, path)
			if err != nil {
				return err
			}
			return visit(e)
		}

		sub := store.SubtreePrefix(q.Root)
		switch {
		case !q.Recurse:
			return iterate(txn, prefixParent+q.Root+"\x00", true, lookup)
		case q.Extension != "":
			return iterate(txn, prefixExt+q.Extension+"\x00"+sub, false, lookup)
		case q.Kind == store.FilesOnly:
			return iterate(txn, prefixKind+types.KindFile.String()+"\x00"+sub, false, lookup)
		case q.Kind == store.DirsOnly:
			return iterate(txn, prefixKind+types.KindDirectory.String()+"\x00"+sub, false, lookup)
		default:
			return iterate(txn, prefixEntry+sub, true, func(item *badger.Item) error {
				var e types.IndexEntry
				if err := item.Value(e.Decode); err != nil {
					return err
				}
				return visit(e)
			})
		}
	})
}

// ByHash returns the files with the given content hash.
func (s *Store) ByHash(_ context.Context, hash string) ([]types.IndexEntry, error) {
	var out []types.IndexEntry
	err := s.db.View(func(txn *badger.Txn) error {
		return iterate(txn, prefixHash+hash+"\x00", false, func(item *badger.Item) error {
			e, err := getEntry(txn, pathFromIndexKey(item.Key()))
			if err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// RootRecord returns the committed record for root.
func (s *Store) RootRecord(_ context.Context, root string) (types.RootRecord, error) {
	var rec types.RootRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(rootKey(root))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: root record %s", store.ErrNotFound, root)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return decodeRecord(val, &rec)
		})
	})
	return rec, err
}

// Roots lists all committed root records.
func (s *Store) Roots(_ context.Context) ([]types.RootRecord, error) {
	var out []types.RootRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return iterate(txn, prefixRoot, true, func(item *badger.Item) error {
			var rec types.RootRecord
			if err := item.Value(func(val []byte) error { return decodeRecord(val, &rec) }); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// Count returns the number of stored entries.
func (s *Store) Count(_ context.Context) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		return iterate(txn, prefixEntry, false, func(*badger.Item) error {
			n++
			return nil
		})
	})
	return n, err
}

// iterate calls fn for every key with the given prefix in key order.
func iterate(txn *badger.Txn, prefix string, values bool, fn func(*badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = values
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

// deletePrefix removes every key with the given prefix.
func (s *Store) deletePrefix(prefix string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		return iterate(txn, prefix, false, func(item *badger.Item) error {
			keys = append(keys, item.KeyCopy(nil))
			return nil
		})
	})
	if err != nil || len(keys) == 0 {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}
