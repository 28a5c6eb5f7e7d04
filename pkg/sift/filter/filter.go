// Package filter selects, sorts and limits indexed entries. It backs the
// find command: size bounds, age, extensions, categories and name patterns
// are evaluated against index rows without touching the filesystem.
package filter

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/jamesainslie/sift/pkg/sift/stats"
	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// SortField specifies the field to sort entries by.
type SortField int

const (
	// SortSize sorts by size in bytes.
	SortSize SortField = iota
	// SortAge sorts by age, the time since the last modification.
	SortAge
	// SortPath sorts by path.
	SortPath
	// SortName sorts by base name, then path.
	SortName
)

var sortFieldNames = map[SortField]string{
	SortSize: "size",
	SortAge:  "age",
	SortPath: "path",
	SortName: "name",
}

// String returns the name of the sort field.
func (s SortField) String() string {
	if name, ok := sortFieldNames[s]; ok {
		return name
	}
	return sortFieldNames[SortSize]
}

// ErrInvalidSortField indicates that the sort field string could not be parsed.
var ErrInvalidSortField = errors.New("invalid sort field")

// ErrInvalidPattern is returned for a glob that does not compile.
var ErrInvalidPattern = errors.New("invalid pattern")

// ParseSortField parses "size", "age", "path" or "name" (case-insensitive).
func ParseSortField(s string) (SortField, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range sortFieldNames {
		if name == s {
			return f, nil
		}
	}
	return SortSize, fmt.Errorf("%w: %q", ErrInvalidSortField, s)
}

// ErrInvalidKind is returned by ParseKind for an unknown kind.
var ErrInvalidKind = errors.New("invalid kind")

// ParseKind parses "file", "dir" or "any" and their short forms.
func ParseKind(s string) (store.KindFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file", "files", "f":
		return store.FilesOnly, nil
	case "dir", "dirs", "directory", "d":
		return store.DirsOnly, nil
	case "any", "all", "":
		return store.AnyKind, nil
	}
	return store.FilesOnly, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// DefaultLimit is the number of entries returned unless changed.
const DefaultLimit = 50

// Filter defines criteria for selecting, sorting and limiting entries.
type Filter struct {
	// MinSize excludes files smaller than this many bytes.
	MinSize int64

	// MaxSize excludes files larger than this many bytes. 0 means no bound.
	MaxSize int64

	// Include holds glob patterns matched against the full path, so "*"
	// stops at a separator and "**" does not. If any are set, an entry must
	// match at least one.
	Include []string

	// Exclude holds glob patterns; matching entries are dropped.
	Exclude []string

	// Extensions restricts results to these lower-cased extensions.
	Extensions []string

	// Categories restricts results to files of these categories.
	Categories []stats.Category

	// OlderThan keeps entries modified at least this long ago.
	OlderThan time.Duration

	// NewerThan keeps entries modified at most this long ago.
	NewerThan time.Duration

	// Kind selects files, directories or both. Files by default.
	Kind store.KindFilter

	// DuplicatesOnly keeps files whose content hash is shared with another
	// selected file.
	DuplicatesOnly bool

	SortBy         SortField
	SortDescending bool

	// Limit is the maximum number of entries returned. 0 means unlimited.
	Limit int

	include []glob.Glob
	exclude []glob.Glob
	now     func() time.Time
}

// Option configures a Filter.
type Option func(*Filter)

// New creates a filter. Defaults: files only, largest first, 50 results.
// It fails when a pattern does not compile.
func New(opts ...Option) (*Filter, error) {
	f := &Filter{
		Kind:           store.FilesOnly,
		Limit:          DefaultLimit,
		SortBy:         SortSize,
		SortDescending: true,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	var err error
	if f.include, err = compile(f.Include); err != nil {
		return nil, err
	}
	if f.exclude, err = compile(f.Exclude); err != nil {
		return nil, err
	}
	return f, nil
}

func compile(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, filepath.Separator)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPattern, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// WithLimit sets the maximum number of entries. Negative means unlimited.
func WithLimit(limit int) Option {
	return func(f *Filter) {
		f.Limit = max(limit, 0)
	}
}

// WithMinSize sets the minimum file size in bytes.
func WithMinSize(n int64) Option {
	return func(f *Filter) {
		f.MinSize = max(n, 0)
	}
}

// WithMaxSize sets the maximum file size in bytes.
func WithMaxSize(n int64) Option {
	return func(f *Filter) {
		f.MaxSize = max(n, 0)
	}
}

// WithInclude sets the include patterns.
func WithInclude(patterns ...string) Option {
	return func(f *Filter) {
		f.Include = patterns
	}
}

// WithExclude sets the exclude patterns.
func WithExclude(patterns ...string) Option {
	return func(f *Filter) {
		f.Exclude = patterns
	}
}

// WithExtensions sets the extensions to keep. They are lower-cased and
// given a leading dot if missing.
func WithExtensions(extensions ...string) Option {
	return func(f *Filter) {
		f.Extensions = f.Extensions[:0]
		for _, ext := range extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			f.Extensions = append(f.Extensions, ext)
		}
	}
}

// WithCategories sets the categories to keep.
func WithCategories(categories ...stats.Category) Option {
	return func(f *Filter) {
		f.Categories = categories
	}
}

// WithOlderThan keeps entries modified at least d ago.
func WithOlderThan(d time.Duration) Option {
	return func(f *Filter) {
		f.OlderThan = d
	}
}

// WithNewerThan keeps entries modified at most d ago.
func WithNewerThan(d time.Duration) Option {
	return func(f *Filter) {
		f.NewerThan = d
	}
}

// WithKind selects files, directories or both.
func WithKind(k store.KindFilter) Option {
	return func(f *Filter) {
		f.Kind = k
	}
}

// WithDuplicatesOnly keeps only files that have a copy among the results.
func WithDuplicatesOnly(on bool) Option {
	return func(f *Filter) {
		f.DuplicatesOnly = on
	}
}

// WithSortBy sets the sort field.
func WithSortBy(field SortField) Option {
	return func(f *Filter) {
		f.SortBy = field
	}
}

// WithSortDescending sets the sort direction.
func WithSortDescending(desc bool) Option {
	return func(f *Filter) {
		f.SortDescending = desc
	}
}

// WithClock replaces time.Now for age checks.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) {
		f.now = now
	}
}

// Match reports whether e passes every criterion except DuplicatesOnly,
// which needs the whole result set.
func (f *Filter) Match(e *types.IndexEntry) bool {
	return f.Kind.Match(e) &&
		f.matchSize(e) &&
		f.matchExtension(e) &&
		f.matchCategory(e) &&
		f.matchAge(e) &&
		f.matchPatterns(e)
}

func (f *Filter) matchSize(e *types.IndexEntry) bool {
	if e.IsDir() {
		return true
	}
	if f.MinSize > 0 && e.Size < f.MinSize {
		return false
	}
	return f.MaxSize <= 0 || e.Size <= f.MaxSize
}

func (f *Filter) matchExtension(e *types.IndexEntry) bool {
	return len(f.Extensions) == 0 || slices.Contains(f.Extensions, e.Extension)
}

func (f *Filter) matchCategory(e *types.IndexEntry) bool {
	if len(f.Categories) == 0 {
		return true
	}
	return !e.IsDir() && slices.Contains(f.Categories, stats.CategoryOf(e.Extension))
}

func (f *Filter) matchAge(e *types.IndexEntry) bool {
	now := f.now()
	mt := e.ModTimeTime()
	if f.OlderThan > 0 && mt.After(now.Add(-f.OlderThan)) {
		return false
	}
	if f.NewerThan > 0 && mt.Before(now.Add(-f.NewerThan)) {
		return false
	}
	return true
}

func (f *Filter) matchPatterns(e *types.IndexEntry) bool {
	if matchAny(f.exclude, e.Path) {
		return false
	}
	return len(f.include) == 0 || matchAny(f.include, e.Path)
}

func matchAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Sort returns a sorted copy of entries. Ties are broken by path so the
// order is deterministic. For SortAge "descending" means oldest first.
func (f *Filter) Sort(entries []types.IndexEntry) []types.IndexEntry {
	sorted := slices.Clone(entries)
	if sorted == nil {
		sorted = []types.IndexEntry{}
	}
	slices.SortFunc(sorted, func(a, b types.IndexEntry) int {
		var c int
		switch f.SortBy {
		case SortAge:
			// Older entries have the larger age.
			c = cmp.Compare(b.ModTime, a.ModTime)
		case SortPath:
			c = strings.Compare(a.Path, b.Path)
		case SortName:
			c = strings.Compare(a.Name, b.Name)
		default:
			c = cmp.Compare(a.Size, b.Size)
		}
		if f.SortDescending {
			c = -c
		}
		if c == 0 {
			c = strings.Compare(a.Path, b.Path)
		}
		return c
	})
	return sorted
}

// Apply runs Match, the duplicate check, Sort and Limit over entries.
func (f *Filter) Apply(entries []types.IndexEntry) []types.IndexEntry {
	var matched []types.IndexEntry
	for i := range entries {
		if f.Match(&entries[i]) {
			matched = append(matched, entries[i])
		}
	}
	return f.finish(matched)
}

// finish applies the set-level steps to matched entries.
func (f *Filter) finish(matched []types.IndexEntry) []types.IndexEntry {
	if f.DuplicatesOnly {
		matched = keepShared(matched)
	}
	sorted := f.Sort(matched)
	if f.Limit > 0 && len(sorted) > f.Limit {
		return sorted[:f.Limit]
	}
	return sorted
}

func keepShared(entries []types.IndexEntry) []types.IndexEntry {
	seen := make(map[string]int)
	for i := range entries {
		if entries[i].HasHash() {
			seen[entries[i].ContentHash]++
		}
	}
	return slices.DeleteFunc(entries, func(e types.IndexEntry) bool {
		return seen[e.ContentHash] < 2
	})
}

// Find reads the entries beneath root from st and applies the filter.
func (f *Filter) Find(ctx context.Context, st store.Store, root string, recurse bool) ([]types.IndexEntry, error) {
	q := store.Query{Root: filepath.Clean(root), Recurse: recurse, Kind: f.Kind}
	if len(f.Extensions) == 1 {
		q.Extension = f.Extensions[0]
	}

	var matched []types.IndexEntry
	err := st.Query(ctx, q, func(e types.IndexEntry) error {
		if f.Match(&e) {
			matched = append(matched, e)
		}
		return nil
	})
	if err != nil {
		return nil, types.IndexError("find", err)
	}
	return f.finish(matched), nil
}
