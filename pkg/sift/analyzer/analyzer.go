// Package analyzer answers "what is under this root" from the index when a
// fresh snapshot exists, rebuilding it first when it does not, and from a
// direct scan when the index cannot be used at all.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/jamesainslie/sift/pkg/sift/dupes"
	"github.com/jamesainslie/sift/pkg/sift/indexer"
	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/progress"
	"github.com/jamesainslie/sift/pkg/sift/scanner"
	"github.com/jamesainslie/sift/pkg/sift/staleness"
	"github.com/jamesainslie/sift/pkg/sift/stats"
	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// ErrNoIndex is wrapped when an operation needs the index and none is open.
var ErrNoIndex = errors.New("no index configured")

// ReasonForced marks a rebuild requested regardless of staleness.
const ReasonForced staleness.Reason = "forced"

// Source tells where a report's numbers came from.
type Source string

// Report sources.
const (
	// SourceIndex means a fresh snapshot was reused.
	SourceIndex Source = "index"
	// SourceRebuild means the snapshot was rebuilt for this report.
	SourceRebuild Source = "rebuild"
	// SourceScan means the tree was scanned without touching the index.
	SourceScan Source = "scan"
)

// Request describes one analysis.
type Request struct {
	Root    string
	Options types.ScanOptions

	// Duplicates adds duplicate groups to the report.
	Duplicates bool

	// Force rebuilds even when the snapshot is fresh.
	Force bool

	// Reporter receives progress while scanning. Optional.
	Reporter *progress.Reporter
}

// Report is the outcome of an analysis.
type Report struct {
	Root         string `json:"root" yaml:"root"`
	TotalFiles   int64  `json:"total_files" yaml:"total_files"`
	TotalFolders int64  `json:"total_folders" yaml:"total_folders"`
	TotalSize    int64  `json:"total_size" yaml:"total_size"`

	FilesByExtension map[string][]string  `json:"files_by_extension" yaml:"files_by_extension"`
	ByCategory       []stats.CategoryStat `json:"by_category" yaml:"by_category"`
	LargestFiles     []types.IndexEntry   `json:"largest_files" yaml:"largest_files"`
	EmptyFolders     []string             `json:"empty_folders" yaml:"empty_folders"`

	// DuplicateFiles is only filled when requested.
	DuplicateFiles []dupes.DuplicateGroup `json:"duplicate_files,omitempty" yaml:"duplicate_files,omitempty"`
	WastedBytes    int64                  `json:"wasted_bytes,omitempty" yaml:"wasted_bytes,omitempty"`

	// Errors lists the entries that could not be read during this call's
	// scan. A reused snapshot keeps only their number in ErrorCount.
	Errors     []types.ScanError `json:"errors,omitempty" yaml:"errors,omitempty"`
	ErrorCount int64             `json:"error_count" yaml:"error_count"`

	Source      Source           `json:"source" yaml:"source"`
	StaleReason staleness.Reason `json:"stale_reason,omitempty" yaml:"stale_reason,omitempty"`

	// IndexedAt is the snapshot generation in epoch ms, zero for scans.
	IndexedAt int64         `json:"indexed_at,omitempty" yaml:"indexed_at,omitempty"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Category returns the stat of one category.
func (r *Report) Category(c stats.Category) stats.CategoryStat {
	for _, cs := range r.ByCategory {
		if cs.Category == c {
			return cs
		}
	}
	return stats.CategoryStat{Category: c}
}

func (r *Report) setStats(s *stats.Stats) {
	r.TotalFiles = s.TotalFiles
	r.TotalFolders = s.TotalFolders
	r.TotalSize = s.TotalSize
	r.FilesByExtension = s.FilesByExtension
	r.ByCategory = s.ByCategory
	r.LargestFiles = s.LargestFiles
	r.EmptyFolders = s.EmptyFolders
}

func (r *Report) setDuplicates(groups []dupes.DuplicateGroup) {
	r.DuplicateFiles = groups
	r.WastedBytes = dupes.TotalWasted(groups)
}

// Config configures an Analyzer.
type Config struct {
	// Staleness selects how thoroughly snapshots are checked.
	Staleness staleness.Mode

	// TopN is the number of largest files reported.
	TopN int

	// StatConcurrency caps stat calls per directory; zero uses the tuner.
	StatConcurrency int

	// Fs is the filesystem analyzed. Nil means the OS filesystem.
	Fs afero.Fs
}

// Analyzer ties the scanner, the index and the derived views together.
type Analyzer struct {
	cfg    Config
	store  store.Store
	idx    *indexer.Indexer
	oracle *staleness.Oracle
	agg    *stats.Aggregator
	dupes  *dupes.Detector
	log    *log.Logger
}

// New creates an analyzer over idx. A nil idx disables the index and every
// call scans directly.
func New(idx *indexer.Indexer, cfg Config) *Analyzer {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.TopN <= 0 {
		cfg.TopN = stats.DefaultTopN
	}
	a := &Analyzer{cfg: cfg, idx: idx, log: logging.Get("analyzer")}
	if idx != nil {
		a.store = idx.Store()
		a.oracle = staleness.New(a.store, cfg.Fs, cfg.Staleness)
		a.agg = stats.NewAggregator(a.store, cfg.TopN)
		a.dupes = dupes.NewDetector(a.store)
	}
	return a
}

// Indexer returns the indexer, nil when the index is disabled.
func (a *Analyzer) Indexer() *indexer.Indexer {
	return a.idx
}

// Oracle returns the staleness oracle, nil when the index is disabled.
func (a *Analyzer) Oracle() *staleness.Oracle {
	return a.oracle
}

func (a *Analyzer) scanOptions(req Request) scanner.Options {
	return scanner.Options{
		ScanOptions:     req.Options,
		StatConcurrency: a.cfg.StatConcurrency,
		Reporter:        req.Reporter,
		Fs:              a.cfg.Fs,
	}
}

// Analyze reports on req.Root. A fresh snapshot is read as is; a stale or
// missing one is rebuilt first. When the index cannot be read or written
// the report comes from a direct scan and a warning is logged. Only an
// unusable root or a cancelled context fails the call.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	abs, err := filepath.Abs(req.Root)
	if err != nil {
		return nil, types.RootError(req.Root, err)
	}
	req.Root = abs
	req.Options.Normalize()

	if a.idx == nil {
		return a.QuickScan(ctx, req)
	}

	var reason staleness.Reason
	if req.Force {
		reason = ReasonForced
	} else {
		v := a.oracle.Check(ctx, abs, req.Options)
		if !v.Stale {
			rep, err := a.fromIndex(ctx, req, v.Record)
			if err == nil {
				req.Reporter.Complete(rep.TotalFiles, rep.TotalFolders)
				rep.Elapsed = time.Since(start)
				return rep, nil
			}
			if ctx.Err() != nil {
				return nil, err
			}
			a.log.Warn("reading fresh snapshot failed, rebuilding", "root", abs, "error", err)
			reason = staleness.IndexUnavailable
		} else {
			reason = v.Reason
		}
	}

	a.log.Debug("rebuilding snapshot", "root", abs, "reason", reason)
	res, err := a.idx.Rebuild(ctx, abs, a.scanOptions(req))
	if err != nil {
		if !errors.Is(err, types.ErrIndexUnavailable) || ctx.Err() != nil {
			return nil, err
		}
		a.log.Warn("index unavailable, falling back to a direct scan", "root", abs, "error", err)
		return a.QuickScan(ctx, req)
	}

	rep, err := a.fromIndex(ctx, req, &types.RootRecord{
		Root:       abs,
		Generation: res.Generation,
		Errors:     int64(len(res.Errors)),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		a.log.Warn("reading rebuilt snapshot failed, falling back to a direct scan", "root", abs, "error", err)
		return a.QuickScan(ctx, req)
	}
	rep.Source = SourceRebuild
	rep.StaleReason = reason
	rep.Errors = res.Errors
	rep.Elapsed = time.Since(start)
	return rep, nil
}

// fromIndex builds a report from the committed snapshot described by rec.
func (a *Analyzer) fromIndex(ctx context.Context, req Request, rec *types.RootRecord) (*Report, error) {
	s, err := a.agg.Aggregate(ctx, req.Root, req.Options.Recurse)
	if err != nil {
		return nil, err
	}
	rep := &Report{
		Root:       req.Root,
		Source:     SourceIndex,
		ErrorCount: rec.Errors,
		IndexedAt:  rec.Generation,
	}
	rep.setStats(s)
	if req.Duplicates {
		groups, err := a.dupes.FindDuplicates(ctx, req.Root, req.Options.Recurse)
		if err != nil {
			return nil, err
		}
		rep.setDuplicates(groups)
	}
	return rep, nil
}

// QuickScan reports on req.Root straight from a scan, leaving the index
// untouched.
func (a *Analyzer) QuickScan(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	req.Options.Normalize()
	sc, err := scanner.New(a.scanOptions(req))
	if err != nil {
		return nil, fmt.Errorf("quick scan: %w", err)
	}
	abs, err := filepath.Abs(req.Root)
	if err != nil {
		return nil, types.RootError(req.Root, err)
	}

	acc := stats.NewAccumulator(abs, req.Options.Recurse, a.cfg.TopN)
	grp := dupes.NewGrouper()
	rep := &Report{Root: abs, Source: SourceScan}

	batches, errc := sc.Stream(ctx, abs)
	for b := range batches {
		acc.Add(&b.Dir)
		for i := range b.Folders {
			acc.Add(&b.Folders[i])
		}
		for i := range b.Files {
			acc.Add(&b.Files[i])
			if req.Duplicates {
				grp.Add(&b.Files[i])
			}
		}
		rep.Errors = append(rep.Errors, b.Errors...)
	}
	if err := <-errc; err != nil {
		return nil, err
	}

	rep.setStats(acc.Stats())
	if req.Duplicates {
		rep.setDuplicates(grp.Groups())
	}
	rep.ErrorCount = int64(len(rep.Errors))
	rep.Elapsed = time.Since(start)
	return rep, nil
}

// Ensure makes sure req.Root has a fresh snapshot taken with req.Options,
// rebuilding it when the oracle finds it stale or req.Force is set. It
// reports whether a rebuild ran.
func (a *Analyzer) Ensure(ctx context.Context, req Request) (bool, error) {
	if a.idx == nil {
		return false, types.IndexError("ensure", ErrNoIndex)
	}
	abs, err := filepath.Abs(req.Root)
	if err != nil {
		return false, types.RootError(req.Root, err)
	}
	req.Root = abs
	req.Options.Normalize()

	if !req.Force {
		if v := a.oracle.Check(ctx, abs, req.Options); !v.Stale {
			return false, nil
		}
	}
	if _, err := a.idx.Rebuild(ctx, abs, a.scanOptions(req)); err != nil {
		return false, err
	}
	return true, nil
}

// Rebuild forces a new snapshot of root without building a report.
func (a *Analyzer) Rebuild(ctx context.Context, req Request) (*indexer.Result, error) {
	if a.idx == nil {
		return nil, types.IndexError("rebuild", ErrNoIndex)
	}
	req.Options.Normalize()
	return a.idx.Rebuild(ctx, req.Root, a.scanOptions(req))
}
