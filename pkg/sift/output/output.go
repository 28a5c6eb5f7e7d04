// Package output renders analysis reports, duplicate groups and find results
// in the formats selectable with -o (pretty, plain, json, yaml and more).
//
// Formatters are registered by name and looked up at runtime:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, result); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jamesainslie/sift/pkg/sift/analyzer"
	"github.com/jamesainslie/sift/pkg/sift/dupes"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// ErrUnknownFormat is returned by Get for an unregistered name.
var ErrUnknownFormat = errors.New("unknown output format")

// Result is what a command hands to a formatter. Exactly one of Report,
// Duplicates or Files is normally set.
type Result struct {
	Root string `json:"root" yaml:"root"`

	// Report is set by analyze.
	Report *analyzer.Report `json:"report,omitempty" yaml:"report,omitempty"`

	// Duplicates is set by the dupes command.
	Duplicates []dupes.DuplicateGroup `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`

	// Files is set by find.
	Files []types.IndexEntry `json:"files,omitempty" yaml:"files,omitempty"`

	DaemonUp    bool     `json:"daemon_up" yaml:"daemon_up"`
	WatchActive bool     `json:"watch_active" yaml:"watch_active"`
	Warnings    []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Row is one line of a tabular rendering.
type Row struct {
	Size      int64  `json:"size" yaml:"size"`
	SizeHuman string `json:"size_human" yaml:"size_human"`
	Path      string `json:"path" yaml:"path"`

	// Group numbers duplicate groups from 1; zero for other rows.
	Group int `json:"group,omitempty" yaml:"group,omitempty"`
}

func row(size int64, path string, group int) Row {
	return Row{Size: size, SizeHuman: types.FormatSize(size), Path: path, Group: group}
}

// Rows flattens the result for line-oriented formats: find results as is,
// duplicate groups member by member, and a report's largest files.
func (r *Result) Rows() []Row {
	rows := []Row{}
	switch {
	case r.Files != nil:
		for _, e := range r.Files {
			rows = append(rows, row(e.Size, e.Path, 0))
		}
	case r.Duplicates != nil:
		rows = appendGroups(rows, r.Duplicates)
	case r.Report != nil:
		for _, e := range r.Report.LargestFiles {
			rows = append(rows, row(e.Size, e.Path, 0))
		}
	}
	return rows
}

func appendGroups(rows []Row, groups []dupes.DuplicateGroup) []Row {
	for i, g := range groups {
		for _, p := range g.Paths {
			rows = append(rows, row(g.Size, p, i+1))
		}
	}
	return rows
}

// TotalSize sums the sizes of the rows.
func (r *Result) TotalSize() int64 {
	if r.Report != nil && r.Files == nil && r.Duplicates == nil {
		return r.Report.TotalSize
	}
	var n int64
	for _, row := range r.Rows() {
		n += row.Size
	}
	return n
}

// Formatter renders a Result.
type Formatter interface {
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory creates a Formatter.
type FormatterFactory func() Formatter

// Registry maps names to formatter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds or replaces a formatter.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
	}
	return factory(), nil
}

// Available returns the registered names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in formatters.
var DefaultRegistry = NewRegistry()

// Register adds a formatter to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available lists the default registry's formatters.
func Available() []string {
	return DefaultRegistry.Available()
}
