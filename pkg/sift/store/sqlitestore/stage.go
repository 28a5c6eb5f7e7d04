package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

type stage struct {
	s    *Store
	root string
	id   string

	mu   sync.Mutex
	done bool
}

// BeginStage starts a staging generation for root, identified in the
// staging table by root and generation.
func (s *Store) BeginStage(ctx context.Context, root string, generation int64) (store.Stage, error) {
	st := &stage{s: s, root: root, id: fmt.Sprintf("%s\x00%016x", root, generation)}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM staging WHERE stage = ?`, st.id); err != nil {
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
	return st.s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEntries(ctx, tx,
			`INSERT OR REPLACE INTO staging (stage, `+entryColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			[]any{st.id}, entries)
	})
}

// Commit swaps the subtree in one transaction. A failed commit leaves the
// stage open so Discard can still drop its rows.
func (st *stage) Commit(ctx context.Context, rootEntry types.IndexEntry, rec types.RootRecord) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return store.ErrStageDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	recData, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	bg := context.WithoutCancel(ctx)
	var removed, promoted int64
	err = st.s.withTx(bg, func(tx *sql.Tx) error {
		if err := dropRootRecords(bg, tx, st.root); err != nil {
			return fmt.Errorf("dropping root records: %w", err)
		}
		var err error
		if removed, err = deleteRows(bg, tx, st.root); err != nil {
			return fmt.Errorf("deleting subtree: %w", err)
		}
		res, err := tx.ExecContext(bg,
			`INSERT OR REPLACE INTO entries (`+entryColumns+`) SELECT `+entryColumns+` FROM staging WHERE stage = ?`, st.id)
		if err != nil {
			return fmt.Errorf("promoting staged rows: %w", err)
		}
		if promoted, err = res.RowsAffected(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(bg, `DELETE FROM staging WHERE stage = ?`, st.id); err != nil {
			return err
		}
		if err := insertEntries(bg, tx,
			`INSERT OR REPLACE INTO entries (`+entryColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			nil, []types.IndexEntry{rootEntry}); err != nil {
			return err
		}
		_, err = tx.ExecContext(bg, `INSERT OR REPLACE INTO roots (root, record) VALUES (?, ?)`, st.root, recData)
		return err
	})
	if err != nil {
		return err
	}
	st.done = true

	st.s.log.Debug("snapshot committed", "root", st.root, "generation", rec.Generation,
		"removed", removed, "promoted", promoted)
	return nil
}

func (st *stage) Discard(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return nil
	}
	st.done = true
	_, err := st.s.db.ExecContext(context.WithoutCancel(ctx), `DELETE FROM staging WHERE stage = ?`, st.id)
	return err
}
