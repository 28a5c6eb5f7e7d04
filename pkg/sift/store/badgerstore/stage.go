package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// promoteChunk is the number of staged rows moved per write batch on commit.
const promoteChunk = 1000

func decodeRecord(val []byte, rec *types.RootRecord) error {
	return json.Unmarshal(val, rec)
}

type stage struct {
	s      *Store
	root   string
	prefix string

	mu   sync.Mutex
	done bool
	rows int64
}

// BeginStage starts a staging generation for root. Rows are kept under
// s:<root>\x00<generation>\x00 until Commit.
func (s *Store) BeginStage(_ context.Context, root string, generation int64) (store.Stage, error) {
	st := &stage{s: s, root: root, prefix: stagePrefix(root, generation)}
	// A previous attempt with the same generation must not leak rows in.
	if err := s.deletePrefix(st.prefix); err != nil {
		return nil, err
	}
	return st, nil
}

func (st *stage) Put(ctx context.Context, entries []types.IndexEntry) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return store.ErrStageDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wb := st.s.db.NewWriteBatch()
	defer wb.Cancel()
	for i := range entries {
		data, err := entries[i].Encode()
		if err != nil {
			return err
		}
		if err := wb.Set([]byte(st.prefix+entries[i].Path), data); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}
	st.rows += int64(len(entries))
	return nil
}

// Commit runs to completion once started; ctx is only checked up front.
// A failed commit leaves the stage open so Discard can still drop its rows.
func (st *stage) Commit(ctx context.Context, rootEntry types.IndexEntry, rec types.RootRecord) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return store.ErrStageDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	bg := context.WithoutCancel(ctx)

	if err := st.s.dropRootRecords(st.root); err != nil {
		return fmt.Errorf("dropping root records: %w", err)
	}
	removed, err := st.s.deleteRows(bg, st.root)
	if err != nil {
		return fmt.Errorf("deleting subtree: %w", err)
	}
	promoted, err := st.promote()
	if err != nil {
		return fmt.Errorf("promoting staged rows: %w", err)
	}

	recData, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	wb := st.s.db.NewWriteBatch()
	defer wb.Cancel()
	if err := putEntry(wb, &rootEntry); err != nil {
		return err
	}
	if err := wb.Set(rootKey(st.root), recData); err != nil {
		return err
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("writing root record: %w", err)
	}
	st.done = true

	st.s.log.Debug("snapshot committed", "root", st.root, "generation", rec.Generation,
		"removed", removed, "promoted", promoted)
	return nil
}

// promote moves staged rows into the live keyspace in chunks.
func (st *stage) promote() (int64, error) {
	var total int64
	for {
		var keys [][]byte
		var rows []types.IndexEntry

		err := st.s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(st.prefix)
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix) && len(rows) < promoteChunk; it.Next() {
				var e types.IndexEntry
				if err := it.Item().Value(e.Decode); err != nil {
					return err
				}
				keys = append(keys, it.Item().KeyCopy(nil))
				rows = append(rows, e)
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		if len(rows) == 0 {
			return total, nil
		}

		wb := st.s.db.NewWriteBatch()
		for i := range rows {
			if err := putEntry(wb, &rows[i]); err != nil {
				wb.Cancel()
				return total, err
			}
		}
		for _, k := range keys {
			if err := wb.Delete(k); err != nil {
				wb.Cancel()
				return total, err
			}
		}
		if err := wb.Flush(); err != nil {
			return total, err
		}
		total += int64(len(rows))
	}
}

func (st *stage) Discard(_ context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return nil
	}
	st.done = true
	return st.s.deletePrefix(st.prefix)
}
