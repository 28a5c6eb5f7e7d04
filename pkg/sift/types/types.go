// Package types provides the core data types shared by the sift indexer:
// index entries, traversal options, scan errors and size helpers.
package types

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// DefaultHashSizeLimit is the largest file size that gets a content hash.
const DefaultHashSizeLimit = 100 * MiB

// Kind distinguishes files from directories in the index.
type Kind uint8

const (
	// KindFile is a regular file.
	KindFile Kind = iota
	// KindDirectory is a directory.
	KindDirectory
)

const (
	kindFileName = "file"
	kindDirName  = "directory"
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	if k == KindDirectory {
		return kindDirName
	}
	return kindFileName
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case kindFileName, "f":
		*k = KindFile
	case kindDirName, "dir", "d":
		*k = KindDirectory
	default:
		return fmt.Errorf("unknown kind %q", string(b))
	}
	return nil
}

// IndexEntry describes one filesystem object in the index.
// Timestamps are epoch milliseconds.
type IndexEntry struct {
	// Path is the absolute path and the unique key within a store.
	Path string `json:"path" yaml:"path"`

	// ParentPath is the containing directory's Path. It is a lookup key,
	// not an ownership edge.
	ParentPath string `json:"parent_path" yaml:"parent_path"`

	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"kind" yaml:"kind"`

	// Size is 0 for directories.
	Size int64 `json:"size" yaml:"size"`

	// Extension is the lower-cased suffix including the dot, empty for
	// extensionless files and for directories.
	Extension string `json:"extension,omitempty" yaml:"extension,omitempty"`

	ModTime    int64 `json:"mtime" yaml:"mtime"`
	CreateTime int64 `json:"ctime" yaml:"ctime"`
	IndexedAt  int64 `json:"indexed_at" yaml:"indexed_at"`

	// ContentHash is the hex digest of the file content. Empty means absent:
	// directories and files above the hash size limit never carry one.
	ContentHash string `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`

	// Walked reports whether a directory's listing was read in the pass that
	// produced it. Directories at the depth boundary are recorded unwalked.
	Walked bool `json:"walked,omitempty" yaml:"walked,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (e *IndexEntry) IsDir() bool {
	return e.Kind == KindDirectory
}

// HasHash reports whether a content hash was recorded for the entry.
func (e *IndexEntry) HasHash() bool {
	return e.ContentHash != ""
}

// ModTimeTime returns ModTime as a time.Time.
func (e *IndexEntry) ModTimeTime() time.Time {
	return time.UnixMilli(e.ModTime)
}

// Encode serializes the entry for key-value storage.
func (e *IndexEntry) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode deserializes an entry produced by Encode.
func (e *IndexEntry) Decode(data []byte) error {
	return json.Unmarshal(data, e)
}

// ExtensionOf returns the lower-cased extension of a base name including the
// dot. Dotfiles without a further suffix (".bashrc") have no extension.
func ExtensionOf(name string) string {
	ext := filepath.Ext(name)
	if ext == name {
		return ""
	}
	return strings.ToLower(ext)
}

// SortEntries orders entries by path.
func SortEntries(entries []IndexEntry) {
	slices.SortFunc(entries, func(a, b IndexEntry) int {
		return strings.Compare(a.Path, b.Path)
	})
}

// ScanOptions configures a traversal.
type ScanOptions struct {
	// Recurse descends into subdirectories. When false only the root's direct
	// children are visited.
	Recurse bool `json:"recurse" yaml:"recurse"`

	// MaxDepth bounds recursion depth from the root; 0 means unlimited.
	// Direct children of the root are at depth 1.
	MaxDepth int `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`

	// IncludeHidden includes entries whose name begins with a dot.
	IncludeHidden bool `json:"include_hidden" yaml:"include_hidden"`

	// HashSizeLimit is the largest file size in bytes that gets hashed.
	HashSizeLimit int64 `json:"hash_size_limit" yaml:"hash_size_limit"`

	// Exclude holds doublestar patterns matched against paths relative to the root.
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// DefaultScanOptions returns a recursive scan that skips hidden entries.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Recurse:       true,
		HashSizeLimit: DefaultHashSizeLimit,
	}
}

// Normalize fills zero values with defaults.
func (o *ScanOptions) Normalize() {
	if o.HashSizeLimit <= 0 {
		o.HashSizeLimit = DefaultHashSizeLimit
	}
	if o.MaxDepth < 0 {
		o.MaxDepth = 0
	}
}

// EffectiveDepth returns the depth limit implied by Recurse and MaxDepth,
// 0 meaning unlimited.
func (o ScanOptions) EffectiveDepth() int {
	if !o.Recurse {
		return 1
	}
	return o.MaxDepth
}

// Fingerprint returns a stable string identifying the options that shape a
// snapshot's contents. Two snapshots with equal fingerprints are comparable.
func (o ScanOptions) Fingerprint() string {
	o.Normalize()
	exclude := slices.Clone(o.Exclude)
	slices.Sort(exclude)

	var b strings.Builder
	b.WriteString("depth=")
	b.WriteString(strconv.Itoa(o.EffectiveDepth()))
	b.WriteString(";hidden=")
	b.WriteString(strconv.FormatBool(o.IncludeHidden))
	b.WriteString(";hash=")
	b.WriteString(strconv.FormatInt(o.HashSizeLimit, 10))
	b.WriteString(";exclude=")
	b.WriteString(strings.Join(exclude, ","))
	return b.String()
}

// ScanError records a per-entry failure that did not stop the walk.
type ScanError struct {
	// Path is the file or directory where the error occurred.
	Path string `json:"path" yaml:"path"`

	// Op is the failed operation: "stat", "readdir" or "hash".
	Op string `json:"op" yaml:"op"`

	// Error is the error message.
	Error string `json:"error" yaml:"error"`
}

// RootRecord is the commit marker of a snapshot. It is written last by a
// rebuild, so a missing record means no complete snapshot exists for Root.
type RootRecord struct {
	Root        string `json:"root"`
	Generation  int64  `json:"generation"`
	RootModTime int64  `json:"root_mtime"`
	Options     string `json:"options"`
	Files       int64  `json:"files"`
	Folders     int64  `json:"folders"`
	TotalSize   int64  `json:"total_size"`
	Errors      int64  `json:"errors"`
	DurationMs  int64  `json:"duration_ms"`
}
