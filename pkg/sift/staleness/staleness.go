// Package staleness decides whether a committed snapshot still reflects the
// filesystem.
//
// The default ModeRoot compares only the root directory's mtime with the
// one recorded at commit time. That observes children of the root being
// added, removed or renamed, but not a file several levels down edited in
// place. ModeDirectories and ModeFull close that gap at the cost of a stat
// per indexed directory or per indexed entry.
//
// Every check fails open: when the answer cannot be determined the snapshot
// is reported stale.
package staleness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// Mode selects how much of the tree a check observes.
type Mode int

// Check modes.
const (
	// ModeRoot compares the root directory's mtime only.
	ModeRoot Mode = iota
	// ModeDirectories stats every indexed directory.
	ModeDirectories
	// ModeFull stats every indexed directory and file.
	ModeFull
)

var modeNames = map[Mode]string{
	ModeRoot:        "root",
	ModeDirectories: "directories",
	ModeFull:        "full",
}

// ErrInvalidMode is returned by ParseMode for an unknown name.
var ErrInvalidMode = errors.New("invalid staleness mode")

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode parses "root", "directories" or "full".
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return ModeRoot, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Reason explains a verdict.
type Reason string

// Verdict reasons.
const (
	Fresh             Reason = "fresh"
	NoSnapshot        Reason = "no snapshot"
	IndexUnavailable  Reason = "index unavailable"
	StatFailed        Reason = "stat failed"
	RootModified      Reason = "root modified"
	OptionsChanged    Reason = "options changed"
	DirectoryModified Reason = "directory modified"
	FileModified      Reason = "file modified"
	EntryMissing      Reason = "entry missing"
)

// Verdict is the outcome of a check.
type Verdict struct {
	Stale  bool
	Reason Reason

	// Path is the entry that decided a stale verdict, if any.
	Path string

	// Record is the committed record, when one was found.
	Record *types.RootRecord
}

func stale(reason Reason, path string) Verdict {
	return Verdict{Stale: true, Reason: reason, Path: path}
}

// Oracle checks snapshots in a store against a filesystem.
type Oracle struct {
	store store.Store
	fs    afero.Fs
	mode  Mode
	log   *log.Logger
}

// New creates an oracle. A nil fs uses the OS filesystem.
func New(st store.Store, fs afero.Fs, mode Mode) *Oracle {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Oracle{store: st, fs: fs, mode: mode, log: logging.Get("staleness")}
}

// Mode returns the configured mode.
func (o *Oracle) Mode() Mode {
	return o.mode
}

// IsStale reports whether the snapshot of root must be rebuilt.
func (o *Oracle) IsStale(ctx context.Context, root string) bool {
	return o.check(ctx, root, "").Stale
}

// Check is IsStale with a reason. A snapshot built with traversal options
// other than opts is stale too.
func (o *Oracle) Check(ctx context.Context, root string, opts types.ScanOptions) Verdict {
	return o.check(ctx, root, opts.Fingerprint())
}

func (o *Oracle) check(ctx context.Context, root, fingerprint string) Verdict {
	abs, err := filepath.Abs(root)
	if err != nil {
		return stale(StatFailed, root)
	}

	rec, err := o.store.RootRecord(ctx, abs)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return stale(NoSnapshot, abs)
	case err != nil:
		o.log.Warn("reading root record", "root", abs, "error", err)
		return stale(IndexUnavailable, abs)
	}

	v := o.verdict(ctx, abs, &rec, fingerprint)
	v.Record = &rec
	if v.Stale {
		o.log.Debug("snapshot stale", "root", abs, "reason", v.Reason, "path", v.Path)
	}
	return v
}

func (o *Oracle) verdict(ctx context.Context, root string, rec *types.RootRecord, fingerprint string) Verdict {
	if fingerprint != "" && rec.Options != fingerprint {
		return stale(OptionsChanged, root)
	}

	info, err := o.fs.Stat(root)
	if err != nil || !info.IsDir() {
		return stale(StatFailed, root)
	}
	if info.ModTime().UnixMilli() != rec.RootModTime {
		return stale(RootModified, root)
	}

	if o.mode == ModeRoot {
		return Verdict{Reason: Fresh}
	}
	return o.deep(ctx, root)
}

// deep compares every indexed directory, and in ModeFull every file, with
// the filesystem.
func (o *Oracle) deep(ctx context.Context, root string) Verdict {
	q := store.Query{Root: root, Recurse: true, Kind: store.DirsOnly}
	if o.mode == ModeFull {
		q.Kind = store.AnyKind
	}

	var found Verdict
	errStop := errors.New("stop")
	err := o.store.Query(ctx, q, func(e types.IndexEntry) error {
		if v := o.compare(&e); v.Stale {
			found = v
			return errStop
		}
		return nil
	})
	switch {
	case errors.Is(err, errStop):
		return found
	case err != nil:
		o.log.Warn("querying index", "root", root, "error", err)
		return stale(IndexUnavailable, root)
	}
	return Verdict{Reason: Fresh}
}

func (o *Oracle) compare(e *types.IndexEntry) Verdict {
	info, err := lstat(o.fs, e.Path)
	if err != nil {
		return stale(EntryMissing, e.Path)
	}
	if e.IsDir() {
		if !info.IsDir() {
			return stale(EntryMissing, e.Path)
		}
		// An unwalked directory's contents were never recorded, so its
		// mtime says nothing about them.
		if !e.Walked {
			return Verdict{}
		}
		if info.ModTime().UnixMilli() != e.ModTime {
			return stale(DirectoryModified, e.Path)
		}
		return Verdict{}
	}
	if !info.Mode().IsRegular() || info.Size() != e.Size || info.ModTime().UnixMilli() != e.ModTime {
		return stale(FileModified, e.Path)
	}
	return Verdict{}
}

func lstat(fs afero.Fs, path string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return fs.Stat(path)
}
