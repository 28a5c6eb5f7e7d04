// Package dupes groups files by content hash.
//
// Only files that carry a hash take part, so files above the hash size limit
// are never reported as duplicates.
package dupes

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// DuplicateGroup is a set of two or more files with the same content.
type DuplicateGroup struct {
	ContentHash string `json:"content_hash" yaml:"content_hash"`

	// Size is the size of each member.
	Size int64 `json:"size" yaml:"size"`

	// Paths is sorted.
	Paths []string `json:"paths" yaml:"paths"`
	Count int      `json:"count" yaml:"count"`

	// WastedBytes is the space taken by every copy beyond the first.
	WastedBytes int64 `json:"wasted_bytes" yaml:"wasted_bytes"`
}

// TotalWasted sums WastedBytes over groups.
func TotalWasted(groups []DuplicateGroup) int64 {
	var n int64
	for i := range groups {
		n += groups[i].WastedBytes
	}
	return n
}

// Grouper collects files incrementally.
type Grouper struct {
	byHash map[string]*DuplicateGroup
}

// NewGrouper returns an empty grouper.
func NewGrouper() *Grouper {
	return &Grouper{byHash: make(map[string]*DuplicateGroup)}
}

// Add records a file. Directories and files without a hash are ignored.
func (g *Grouper) Add(e *types.IndexEntry) {
	if e.IsDir() || !e.HasHash() {
		return
	}
	grp, ok := g.byHash[e.ContentHash]
	if !ok {
		grp = &DuplicateGroup{ContentHash: e.ContentHash, Size: e.Size}
		g.byHash[e.ContentHash] = grp
	}
	grp.Paths = append(grp.Paths, e.Path)
}

// Groups returns the groups with more than one member, members sorted by
// path and groups sorted by their first member.
func (g *Grouper) Groups() []DuplicateGroup {
	out := []DuplicateGroup{}
	for _, grp := range g.byHash {
		if len(grp.Paths) < 2 {
			continue
		}
		paths := slices.Clone(grp.Paths)
		slices.Sort(paths)
		out = append(out, DuplicateGroup{
			ContentHash: grp.ContentHash,
			Size:        grp.Size,
			Paths:       paths,
			Count:       len(paths),
			WastedBytes: grp.Size * int64(len(paths)-1),
		})
	}
	slices.SortFunc(out, func(a, b DuplicateGroup) int {
		return strings.Compare(a.Paths[0], b.Paths[0])
	})
	return out
}

// Group returns the duplicate groups among in-memory entries.
func Group(entries []types.IndexEntry) []DuplicateGroup {
	g := NewGrouper()
	for i := range entries {
		g.Add(&entries[i])
	}
	return g.Groups()
}

// Detector finds duplicates in a store.
type Detector struct {
	store store.Store
}

// NewDetector returns a detector reading st.
func NewDetector(st store.Store) *Detector {
	return &Detector{store: st}
}

// FindDuplicates groups the indexed files beneath root, or only its direct
// children when recurse is false.
func (d *Detector) FindDuplicates(ctx context.Context, root string, recurse bool) ([]DuplicateGroup, error) {
	g := NewGrouper()
	q := store.Query{Root: filepath.Clean(root), Recurse: recurse, Kind: store.FilesOnly}
	err := d.store.Query(ctx, q, func(e types.IndexEntry) error {
		g.Add(&e)
		return nil
	})
	if err != nil {
		return nil, types.IndexError("find duplicates", err)
	}
	return g.Groups(), nil
}

// Copies returns every indexed file with the same content as path,
// including path itself, sorted. A file without a hash has no copies.
func (d *Detector) Copies(ctx context.Context, path string) ([]types.IndexEntry, error) {
	e, err := d.store.Get(ctx, filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	if !e.HasHash() {
		return nil, nil
	}
	copies, err := d.store.ByHash(ctx, e.ContentHash)
	if err != nil {
		return nil, types.IndexError("copies", err)
	}
	return copies, nil
}
