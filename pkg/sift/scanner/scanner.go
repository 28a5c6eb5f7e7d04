// Package scanner walks a directory tree and produces index entries for every
// file and directory beneath it.
//
// The walk is depth-first and emits one Batch per directory. Within a
// directory all entries are stat'ed concurrently, bounded by
// Options.StatConcurrency, and regular files no larger than the hash size
// limit are hashed inside the same bounded slot. Symlinks and special files
// are skipped. Per-entry failures are recorded and the walk continues; only
// an unusable root fails the scan.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// ErrNotDirectory is wrapped by the root error when the root is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// Batch is the output for one directory.
type Batch struct {
	// Dir is the directory's own entry. It supersedes the entry for the same
	// path in the parent's batch: a directory that could not be listed is
	// reported here with Walked=false.
	Dir types.IndexEntry

	// Depth is the distance from the root; the root batch has depth 0.
	Depth int

	// Files and Folders are the direct children, sorted by path.
	Files   []types.IndexEntry
	Folders []types.IndexEntry

	Errors []types.ScanError
}

// Summary totals a finished walk.
type Summary struct {
	Root      types.IndexEntry
	Files     int64
	Folders   int64
	TotalSize int64
	Errors    int64
	Duration  time.Duration
}

// Result holds everything a Scan found, sorted by path.
type Result struct {
	Root     types.IndexEntry
	Files    []types.IndexEntry
	Folders  []types.IndexEntry
	Errors   []types.ScanError
	Duration time.Duration
}

// TotalSize sums the sizes of all files.
func (r *Result) TotalSize() int64 {
	var n int64
	for i := range r.Files {
		n += r.Files[i].Size
	}
	return n
}

// Entries returns folders and files together, sorted by path.
func (r *Result) Entries() []types.IndexEntry {
	out := make([]types.IndexEntry, 0, len(r.Files)+len(r.Folders))
	out = append(out, r.Folders...)
	out = append(out, r.Files...)
	types.SortEntries(out)
	return out
}

// Scanner walks directory trees. A Scanner holds only configuration and may
// be used for concurrent walks.
type Scanner struct {
	opts Options
	excl *excluder
	log  *log.Logger
}

// New creates a scanner. It fails only on malformed exclude patterns.
func New(opts Options) (*Scanner, error) {
	opts.normalize()
	excl, err := newExcluder(opts.Exclude)
	if err != nil {
		return nil, err
	}
	return &Scanner{
		opts: opts,
		excl: excl,
		log:  logging.Get("scanner"),
	}, nil
}

// Options returns the effective options.
func (s *Scanner) Options() Options {
	return s.opts
}

// walk holds the state of one traversal.
type walk struct {
	s     *Scanner
	root  string
	depth int
	fn    func(Batch) error

	files   atomic.Int64
	folders atomic.Int64
	bytes   atomic.Int64
	errs    atomic.Int64
}

// Walk traverses root and calls fn once per directory, parent before child.
// An error returned by fn stops the walk and is returned. The root must be
// a readable directory, otherwise the error wraps types.ErrRootUnavailable.
func (s *Scanner) Walk(ctx context.Context, root string, fn func(Batch) error) (*Summary, error) {
	start := time.Now()

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, types.RootError(root, err)
	}
	info, err := s.opts.Fs.Stat(abs)
	if err != nil {
		return nil, types.RootError(abs, err)
	}
	if !info.IsDir() {
		return nil, types.RootError(abs, ErrNotDirectory)
	}
	names, err := readNames(s.opts.Fs, abs)
	if err != nil {
		return nil, types.RootError(abs, err)
	}

	w := &walk{
		s:     s,
		root:  abs,
		depth: s.opts.EffectiveDepth(),
		fn:    fn,
	}

	rootEntry := w.entry(abs, filepath.Dir(abs), info)
	rootEntry.Walked = true

	s.log.Debug("walk started", "root", abs, "depth", w.depth, "concurrency", s.opts.StatConcurrency)
	s.opts.Reporter.Start(abs)

	if err := w.visit(ctx, rootEntry, names, 0); err != nil {
		return nil, err
	}

	sum := &Summary{
		Root:      rootEntry,
		Files:     w.files.Load(),
		Folders:   w.folders.Load(),
		TotalSize: w.bytes.Load(),
		Errors:    w.errs.Load(),
		Duration:  time.Since(start),
	}
	s.opts.Reporter.Complete(sum.Files, sum.Folders)
	s.log.Debug("walk finished", "root", abs, "files", sum.Files, "folders", sum.Folders,
		"errors", sum.Errors, "elapsed", sum.Duration)
	return sum, nil
}

// Scan walks root and returns the collected result.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	res := &Result{}
	folderIdx := make(map[string]int)

	sum, err := s.Walk(ctx, root, func(b Batch) error {
		if b.Depth > 0 {
			if i, ok := folderIdx[b.Dir.Path]; ok {
				res.Folders[i] = b.Dir
			}
		}
		res.Files = append(res.Files, b.Files...)
		for _, f := range b.Folders {
			folderIdx[f.Path] = len(res.Folders)
			res.Folders = append(res.Folders, f)
		}
		res.Errors = append(res.Errors, b.Errors...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Root = sum.Root
	res.Duration = sum.Duration
	types.SortEntries(res.Files)
	types.SortEntries(res.Folders)
	slices.SortFunc(res.Errors, func(a, b types.ScanError) int {
		return strings.Compare(a.Path, b.Path)
	})
	return res, nil
}

// Stream walks root in a goroutine and delivers batches on the returned
// channel, which is closed when the walk ends. The error channel then yields
// exactly one value, nil on success. Cancel ctx to abandon the stream early.
func (s *Scanner) Stream(ctx context.Context, root string) (<-chan Batch, <-chan error) {
	out := make(chan Batch, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		_, err := s.Walk(ctx, root, func(b Batch) error {
			select {
			case out <- b:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		close(out)
		errc <- err
	}()

	return out, errc
}

// child is the outcome of inspecting one directory entry.
type child struct {
	entry types.IndexEntry
	keep  bool
	err   *types.ScanError
}

// visit processes one directory whose listing has been read, then recurses.
func (w *walk) visit(ctx context.Context, dir types.IndexEntry, names []string, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	names = w.filter(dir.Path, names)
	results := make([]child, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.s.opts.StatConcurrency)
	for i, name := range names {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = w.inspect(filepath.Join(dir.Path, name), dir.Path, depth+1)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := Batch{Dir: dir, Depth: depth}
	for i := range results {
		r := &results[i]
		if r.err != nil {
			batch.Errors = append(batch.Errors, *r.err)
			continue
		}
		if !r.keep {
			continue
		}
		if r.entry.IsDir() {
			batch.Folders = append(batch.Folders, r.entry)
		} else {
			batch.Files = append(batch.Files, r.entry)
		}
	}
	w.errs.Add(int64(len(batch.Errors)))

	if err := w.fn(batch); err != nil {
		return err
	}
	w.s.opts.Reporter.Update(w.files.Load(), w.folders.Load(), dir.Path)

	for _, sub := range batch.Folders {
		if !sub.Walked {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		subNames, err := readNames(w.s.opts.Fs, sub.Path)
		if err != nil {
			w.errs.Add(1)
			sub.Walked = false
			if err := w.fn(Batch{
				Dir:    sub,
				Depth:  depth + 1,
				Errors: []types.ScanError{scanError(sub.Path, "readdir", err)},
			}); err != nil {
				return err
			}
			continue
		}
		if err := w.visit(ctx, sub, subNames, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// filter drops hidden and excluded names and sorts the rest.
func (w *walk) filter(dir string, names []string) []string {
	kept := names[:0]
	for _, name := range names {
		if !w.s.opts.IncludeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		if w.s.excl.match(w.rel(filepath.Join(dir, name))) {
			continue
		}
		kept = append(kept, name)
	}
	slices.Sort(kept)
	return kept
}

func (w *walk) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return rel
}

// inspect stats one entry and hashes it if it is a small enough regular file.
func (w *walk) inspect(path, parent string, depth int) child {
	info, err := lstat(w.s.opts.Fs, path)
	if err != nil {
		e := scanError(path, "stat", err)
		return child{err: &e}
	}

	mode := info.Mode()
	switch {
	case mode.IsDir():
		entry := w.entry(path, parent, info)
		entry.Walked = w.depth == 0 || depth < w.depth
		w.folders.Add(1)
		return child{entry: entry, keep: true}

	case mode.IsRegular():
		entry := w.entry(path, parent, info)
		if entry.Size <= w.s.opts.HashSizeLimit {
			sum, err := hashFile(w.s.opts.Fs, path, w.s.opts.HashSizeLimit)
			if err != nil {
				e := scanError(path, "hash", err)
				return child{err: &e}
			}
			entry.ContentHash = sum
		}
		w.files.Add(1)
		w.bytes.Add(entry.Size)
		w.s.opts.Reporter.Update(w.files.Load(), w.folders.Load(), path)
		return child{entry: entry, keep: true}

	default:
		// Symlinks, sockets, devices and pipes are not indexed.
		return child{}
	}
}

func (w *walk) entry(path, parent string, info os.FileInfo) types.IndexEntry {
	e := types.IndexEntry{
		Path:       path,
		ParentPath: parent,
		Name:       filepath.Base(path),
		ModTime:    info.ModTime().UnixMilli(),
		CreateTime: createTime(info),
	}
	if info.IsDir() {
		e.Kind = types.KindDirectory
		return e
	}
	e.Kind = types.KindFile
	e.Size = info.Size()
	e.Extension = types.ExtensionOf(e.Name)
	return e
}

func scanError(path, op string, err error) types.ScanError {
	return types.ScanError{Path: path, Op: op, Error: err.Error()}
}

// lstat uses Lstat when the filesystem supports it.
func lstat(fs afero.Fs, path string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return fs.Stat(path)
}

// readNames lists a directory without stat'ing its entries.
func readNames(fs afero.Fs, dir string) ([]string, error) {
	f, err := fs.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	return names, nil
}
