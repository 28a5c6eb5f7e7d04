// Package stats derives totals, category roll-ups, the largest files and
// empty folders from index entries.
//
// An Accumulator consumes entries one at a time, so it serves both the
// persisted index (Aggregator) and a live scan stream. Empty folders are
// found from ParentPath relations alone: a directory is empty when it was
// walked, no file lies anywhere beneath it and every directory beneath it
// was walked too.
package stats

import (
	"cmp"
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// DefaultTopN is the number of largest files reported.
const DefaultTopN = 10

// CategoryStat totals the files of one category.
type CategoryStat struct {
	Category   Category `json:"category" yaml:"category"`
	FileCount  int64    `json:"file_count" yaml:"file_count"`
	TotalBytes int64    `json:"total_bytes" yaml:"total_bytes"`
}

// Stats is the aggregate view of a root. The root itself is not counted.
type Stats struct {
	Root         string `json:"root" yaml:"root"`
	TotalFiles   int64  `json:"total_files" yaml:"total_files"`
	TotalFolders int64  `json:"total_folders" yaml:"total_folders"`
	TotalSize    int64  `json:"total_size" yaml:"total_size"`

	// ByCategory holds every category in the order of Categories.
	ByCategory []CategoryStat `json:"by_category" yaml:"by_category"`

	// LargestFiles is ordered by size descending, then path.
	LargestFiles []types.IndexEntry `json:"largest_files" yaml:"largest_files"`

	// EmptyFolders is sorted by path.
	EmptyFolders []string `json:"empty_folders" yaml:"empty_folders"`

	// FilesByExtension maps each extension to its sorted file paths.
	// Extensionless files are listed under "".
	FilesByExtension map[string][]string `json:"files_by_extension" yaml:"files_by_extension"`
}

// Category returns the stat of one category.
func (s *Stats) Category(c Category) CategoryStat {
	for _, cs := range s.ByCategory {
		if cs.Category == c {
			return cs
		}
	}
	return CategoryStat{Category: c}
}

// dirState tracks what is known about a directory's subtree.
type dirState struct {
	parent   string
	occupied bool
}

// Accumulator builds Stats from entries beneath a root, in any order.
// With recurse false only direct children of the root are counted, but
// descendants still decide whether those children are empty.
type Accumulator struct {
	root    string
	recurse bool
	topN    int

	stats   Stats
	byCat   map[Category]*CategoryStat
	dirs    map[string]*dirState
	pending []string
}

// NewAccumulator returns an accumulator for root.
func NewAccumulator(root string, recurse bool, topN int) *Accumulator {
	if topN <= 0 {
		topN = DefaultTopN
	}
	a := &Accumulator{
		root:    filepath.Clean(root),
		recurse: recurse,
		topN:    topN,
		byCat:   make(map[Category]*CategoryStat, len(Categories)),
		dirs:    make(map[string]*dirState),
	}
	a.stats.Root = a.root
	a.stats.FilesByExtension = make(map[string][]string)
	a.stats.ByCategory = make([]CategoryStat, len(Categories))
	for i, c := range Categories {
		a.stats.ByCategory[i].Category = c
		a.byCat[c] = &a.stats.ByCategory[i]
	}
	return a
}

// Add records one entry. Entries outside the root and the root itself are
// ignored. A directory seen twice keeps its last state.
func (a *Accumulator) Add(e *types.IndexEntry) {
	if e.Path == a.root || !store.IsUnder(e.Path, a.root) {
		return
	}
	inScope := a.recurse || e.ParentPath == a.root

	if e.IsDir() {
		d, seen := a.dirs[e.Path]
		if !seen {
			d = &dirState{parent: e.ParentPath}
			a.dirs[e.Path] = d
			if inScope {
				a.stats.TotalFolders++
			}
		}
		if !e.Walked {
			// An unlisted subtree may hold files.
			a.pending = append(a.pending, e.Path)
		}
		return
	}

	a.pending = append(a.pending, e.ParentPath)
	if !inScope {
		return
	}
	a.stats.TotalFiles++
	a.stats.TotalSize += e.Size
	cs := a.byCat[CategoryOf(e.Extension)]
	cs.FileCount++
	cs.TotalBytes += e.Size
	a.stats.FilesByExtension[e.Extension] = append(a.stats.FilesByExtension[e.Extension], e.Path)
	a.offerLargest(e)
}

// offerLargest keeps the topN largest files ordered by size, then path.
func (a *Accumulator) offerLargest(e *types.IndexEntry) {
	l := a.stats.LargestFiles
	if len(l) == a.topN && compareLargest(e, &l[len(l)-1]) >= 0 {
		return
	}
	i, _ := slices.BinarySearchFunc(l, e, func(x types.IndexEntry, t *types.IndexEntry) int {
		return compareLargest(&x, t)
	})
	l = slices.Insert(l, i, *e)
	if len(l) > a.topN {
		l = l[:a.topN]
	}
	a.stats.LargestFiles = l
}

func compareLargest(a, b *types.IndexEntry) int {
	if c := cmp.Compare(b.Size, a.Size); c != 0 {
		return c
	}
	return strings.Compare(a.Path, b.Path)
}

// occupy marks dir and its ancestors as holding something that keeps them
// from being empty. Marking stops at the first ancestor already marked.
func (a *Accumulator) occupy(dir string) {
	for {
		d, ok := a.dirs[dir]
		if !ok || d.occupied {
			return
		}
		d.occupied = true
		dir = d.parent
	}
}

// Stats returns the result. It may be called more than once.
func (a *Accumulator) Stats() *Stats {
	for _, p := range a.pending {
		a.occupy(p)
	}
	a.pending = a.pending[:0]

	out := a.stats
	out.ByCategory = slices.Clone(a.stats.ByCategory)
	out.LargestFiles = slices.Clone(a.stats.LargestFiles)
	out.FilesByExtension = make(map[string][]string, len(a.stats.FilesByExtension))
	for ext, paths := range a.stats.FilesByExtension {
		sorted := slices.Clone(paths)
		slices.Sort(sorted)
		out.FilesByExtension[ext] = sorted
	}
	out.EmptyFolders = []string{}
	for path, d := range a.dirs {
		if d.occupied {
			continue
		}
		if a.recurse || d.parent == a.root {
			out.EmptyFolders = append(out.EmptyFolders, path)
		}
	}
	slices.Sort(out.EmptyFolders)
	return &out
}

// Aggregator computes Stats from a store.
type Aggregator struct {
	store store.Store
	topN  int
}

// NewAggregator returns an aggregator reporting topN largest files.
func NewAggregator(st store.Store, topN int) *Aggregator {
	return &Aggregator{store: st, topN: topN}
}

// Aggregate reads the indexed entries beneath root. With recurse false the
// totals cover direct children only. Entries are read recursively either way
// because emptiness depends on descendants.
func (g *Aggregator) Aggregate(ctx context.Context, root string, recurse bool) (*Stats, error) {
	root = filepath.Clean(root)
	acc := NewAccumulator(root, recurse, g.topN)
	err := g.store.Query(ctx, store.Query{Root: root, Recurse: true}, func(e types.IndexEntry) error {
		acc.Add(&e)
		return nil
	})
	if err != nil {
		return nil, types.IndexError("aggregate", err)
	}
	return acc.Stats(), nil
}
