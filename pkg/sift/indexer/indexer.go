// Package indexer persists scanner output into a store.
//
// Rebuild streams a walk into a staging generation and commits it only once
// the walk finished, so a cancelled or failed rebuild leaves the previous
// snapshot of the root untouched. Concurrent rebuilds of the same root are
// collapsed into one.
package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/scanner"
	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// DefaultBatchSize is the number of rows staged per write.
const DefaultBatchSize = 1000

// Result summarizes a rebuild.
type Result struct {
	Root       string
	Generation int64
	Files      int64
	Folders    int64
	TotalSize  int64
	Errors     []types.ScanError
	Duration   time.Duration

	// Shared is set when the caller joined a rebuild already in flight for
	// the same root instead of starting its own.
	Shared bool
}

// Indexer writes index entries to a store.
type Indexer struct {
	store     store.Store
	batchSize int
	now       func() time.Time
	flight    singleflight.Group
	log       *log.Logger

	mu      sync.Mutex
	active  map[string]struct{}
	flights map[string]*flight
}

// flight is the shared state of one collapsed rebuild. It runs detached
// from any single caller and is cancelled once every waiter has gone.
type flight struct {
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	waiters   int
	abandoned bool
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithBatchSize sets the number of rows staged per write.
func WithBatchSize(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// WithClock replaces time.Now for generation numbers.
func WithClock(now func() time.Time) Option {
	return func(idx *Indexer) {
		idx.now = now
	}
}

// New creates an indexer writing to st.
func New(st store.Store, opts ...Option) *Indexer {
	idx := &Indexer{
		store:     st,
		batchSize: DefaultBatchSize,
		now:       time.Now,
		log:       logging.Get("indexer"),
		active:    make(map[string]struct{}),
		flights:   make(map[string]*flight),
	}
	for _, o := range opts {
		o(idx)
	}
	return idx
}

// Store returns the underlying store.
func (idx *Indexer) Store() store.Store {
	return idx.store
}

// Upsert inserts or replaces entries by path.
func (idx *Indexer) Upsert(ctx context.Context, entries []types.IndexEntry) error {
	if err := idx.store.Upsert(ctx, entries); err != nil {
		return types.IndexError("upsert", err)
	}
	return nil
}

// DeleteSubtree removes prefix and every path beneath it. Siblings sharing a
// name prefix ("/data/foobar" for "/data/foo") are not touched.
func (idx *Indexer) DeleteSubtree(ctx context.Context, prefix string) (int64, error) {
	prefix = filepath.Clean(prefix)
	n, err := idx.store.DeleteSubtree(ctx, prefix)
	if err != nil {
		return 0, types.IndexError("delete subtree", err)
	}
	idx.log.Debug("subtree deleted", "prefix", prefix, "entries", n)
	return n, nil
}

// Rebuild scans root with opts and replaces its snapshot. A rebuild already
// running for the same root is joined; its options win.
func (idx *Indexer) Rebuild(ctx context.Context, root string, opts scanner.Options) (*Result, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, types.RootError(root, err)
	}

	f, ch, err := idx.join(ctx, abs, opts)
	if err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		idx.leave(f)
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*Result)
		res.Shared = r.Shared
		return &res, nil
	case <-ctx.Done():
		if idx.leave(f) {
			// Last waiter: the rebuild was cancelled, wait for its discard.
			<-ch
		}
		return nil, ctx.Err()
	}
}

// join registers the caller as a waiter on the rebuild of root, starting
// one if none is running. A rebuild abandoned by all its waiters is allowed
// to finish discarding before a new one starts.
func (idx *Indexer) join(ctx context.Context, root string, opts scanner.Options) (*flight, <-chan singleflight.Result, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for {
		f := idx.flights[root]
		if f == nil {
			fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			f = &flight{ctx: fctx, cancel: cancel, done: make(chan struct{})}
			idx.flights[root] = f
		}
		if !f.abandoned {
			f.waiters++
			ch := idx.flight.DoChan(root, func() (any, error) {
				defer idx.finish(root, f)
				return idx.rebuild(f.ctx, root, opts)
			})
			return f, ch, nil
		}

		idx.mu.Unlock()
		select {
		case <-f.done:
		case <-ctx.Done():
			idx.mu.Lock()
			return nil, nil, ctx.Err()
		}
		idx.mu.Lock()
	}
}

// leave drops a waiter and reports whether it was the last one, in which
// case the shared rebuild is cancelled.
func (idx *Indexer) leave(f *flight) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return false
	}
	f.abandoned = true
	f.cancel()
	return true
}

// finish retires f so the next caller starts a fresh rebuild.
func (idx *Indexer) finish(root string, f *flight) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.flights[root] == f {
		delete(idx.flights, root)
		idx.flight.Forget(root)
	}
	close(f.done)
}

// InFlight reports whether a rebuild of root is running.
func (idx *Indexer) InFlight(root string) bool {
	abs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.active[abs]
	return ok
}

// Rebuilds returns the roots with a rebuild running, sorted.
func (idx *Indexer) Rebuilds() []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	roots := make([]string, 0, len(idx.active))
	for r := range idx.active {
		roots = append(roots, r)
	}
	slices.Sort(roots)
	return roots
}

func (idx *Indexer) track(root string, running bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if running {
		idx.active[root] = struct{}{}
	} else {
		delete(idx.active, root)
	}
}

func (idx *Indexer) rebuild(ctx context.Context, root string, opts scanner.Options) (*Result, error) {
	sc, err := scanner.New(opts)
	if err != nil {
		return nil, err
	}

	gen, err := idx.generation(ctx, root)
	if err != nil {
		return nil, err
	}

	stage, err := idx.store.BeginStage(ctx, root, gen)
	if err != nil {
		return nil, types.IndexError("begin stage", err)
	}
	idx.track(root, true)
	defer idx.track(root, false)

	res := &Result{Root: root, Generation: gen}
	buf := make([]types.IndexEntry, 0, idx.batchSize)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := stage.Put(ctx, buf); err != nil {
			return types.IndexError("stage", err)
		}
		buf = buf[:0]
		return nil
	}
	add := func(e types.IndexEntry) error {
		e.IndexedAt = gen
		buf = append(buf, e)
		if len(buf) >= idx.batchSize {
			return flush()
		}
		return nil
	}

	sum, err := sc.Walk(ctx, root, func(b scanner.Batch) error {
		if b.Depth > 0 {
			if err := add(b.Dir); err != nil {
				return err
			}
		}
		for _, e := range b.Folders {
			if err := add(e); err != nil {
				return err
			}
		}
		for _, e := range b.Files {
			if err := add(e); err != nil {
				return err
			}
		}
		res.Errors = append(res.Errors, b.Errors...)
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if dErr := stage.Discard(context.WithoutCancel(ctx)); dErr != nil {
			idx.log.Warn("discarding staged rows", "root", root, "error", dErr)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			idx.log.Info("rebuild cancelled", "root", root)
		}
		return nil, err
	}

	rootEntry := sum.Root
	rootEntry.IndexedAt = gen
	opts.Normalize()
	rec := types.RootRecord{
		Root:        root,
		Generation:  gen,
		RootModTime: rootEntry.ModTime,
		Options:     opts.Fingerprint(),
		Files:       sum.Files,
		Folders:     sum.Folders,
		TotalSize:   sum.TotalSize,
		Errors:      sum.Errors,
		DurationMs:  sum.Duration.Milliseconds(),
	}
	if err := stage.Commit(ctx, rootEntry, rec); err != nil {
		_ = stage.Discard(context.WithoutCancel(ctx))
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, types.IndexError("commit", err)
	}

	res.Files = sum.Files
	res.Folders = sum.Folders
	res.TotalSize = sum.TotalSize
	res.Duration = sum.Duration
	idx.log.Info("rebuild committed", "root", root, "generation", gen,
		"files", res.Files, "folders", res.Folders, "errors", len(res.Errors), "elapsed", res.Duration)
	return res, nil
}

// generation returns max(now, newest overlapping generation + 1) so rows of
// a rebuild never carry an older IndexedAt than a prior pass over them.
func (idx *Indexer) generation(ctx context.Context, root string) (int64, error) {
	gen := idx.now().UnixMilli()
	recs, err := idx.store.Roots(ctx)
	if err != nil {
		return 0, types.IndexError("list roots", err)
	}
	for _, r := range recs {
		if store.IsUnder(r.Root, root) || store.IsUnder(root, r.Root) {
			gen = max(gen, r.Generation+1)
		}
	}
	return gen, nil
}
