// Package siftv1 defines the siftd RPC surface: request and response
// messages, the grpc service descriptor, and the client and server stubs.
//
// Messages are plain Go structs carried by a JSON codec registered under
// the "json" content subtype, so the domain types of pkg/sift travel as is.
package siftv1

import (
	"time"

	"github.com/jamesainslie/sift/pkg/sift/analyzer"
	"github.com/jamesainslie/sift/pkg/sift/dupes"
	"github.com/jamesainslie/sift/pkg/sift/indexer"
	"github.com/jamesainslie/sift/pkg/sift/progress"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// RootState is the daemon's view of one indexed root.
type RootState string

// Root states.
const (
	RootStateNotIndexed RootState = "not_indexed"
	RootStateRebuilding RootState = "rebuilding"
	RootStateReady      RootState = "ready"
	RootStateDirty      RootState = "dirty"
	RootStateFailed     RootState = "failed"
)

// AnalyzeRequest asks for a report on Root.
type AnalyzeRequest struct {
	Root       string            `json:"root"`
	Options    types.ScanOptions `json:"options"`
	Duplicates bool              `json:"duplicates"`
	Force      bool              `json:"force"`
}

// AnalyzeResponse carries the report.
type AnalyzeResponse struct {
	Report *analyzer.Report `json:"report"`
}

// RebuildRequest asks for a new snapshot of Root.
type RebuildRequest struct {
	Root    string            `json:"root"`
	Options types.ScanOptions `json:"options"`

	// Wait blocks until the rebuild finished. Otherwise the rebuild runs in
	// the background and WatchProgress follows it.
	Wait bool `json:"wait"`
}

// RebuildResult summarizes a finished rebuild.
type RebuildResult struct {
	Root       string        `json:"root"`
	Generation int64         `json:"generation"`
	Files      int64         `json:"files"`
	Folders    int64         `json:"folders"`
	TotalSize  int64         `json:"total_size"`
	ErrorCount int64         `json:"error_count"`
	Duration   time.Duration `json:"duration"`
}

// NewRebuildResult summarizes an indexer result.
func NewRebuildResult(res *indexer.Result) *RebuildResult {
	return &RebuildResult{
		Root:       res.Root,
		Generation: res.Generation,
		Files:      res.Files,
		Folders:    res.Folders,
		TotalSize:  res.TotalSize,
		ErrorCount: int64(len(res.Errors)),
		Duration:   res.Duration,
	}
}

// RebuildResponse reports whether a rebuild started and, for Wait, its result.
type RebuildResponse struct {
	Started bool           `json:"started"`
	Message string         `json:"message"`
	Result  *RebuildResult `json:"result,omitempty"`
}

// DuplicatesRequest asks for the duplicate groups under Root.
type DuplicatesRequest struct {
	Root    string            `json:"root"`
	Options types.ScanOptions `json:"options"`
}

// DuplicatesResponse carries the groups.
type DuplicatesResponse struct {
	Groups      []dupes.DuplicateGroup `json:"groups"`
	WastedBytes int64                  `json:"wasted_bytes"`
}

// FindRequest queries the index under Root. Zero fields do not filter.
type FindRequest struct {
	Root           string        `json:"root"`
	Recurse        bool          `json:"recurse"`
	MinSize        int64         `json:"min_size,omitempty"`
	MaxSize        int64         `json:"max_size,omitempty"`
	Include        []string      `json:"include,omitempty"`
	Exclude        []string      `json:"exclude,omitempty"`
	Extensions     []string      `json:"extensions,omitempty"`
	Categories     []string      `json:"categories,omitempty"`
	OlderThan      time.Duration `json:"older_than,omitempty"`
	NewerThan      time.Duration `json:"newer_than,omitempty"`
	Kind           string        `json:"kind,omitempty"`
	DuplicatesOnly bool          `json:"duplicates_only,omitempty"`
	SortBy         string        `json:"sort_by,omitempty"`
	SortDescending bool          `json:"sort_descending,omitempty"`

	// Limit caps the result; zero uses the default and negative is unlimited.
	Limit int `json:"limit,omitempty"`
}

// FindResponse carries the matching entries.
type FindResponse struct {
	Entries []types.IndexEntry `json:"entries"`
}

// StatusRequest asks for daemon health. Root, if set, limits Roots to the
// snapshots covering it.
type StatusRequest struct {
	Root string `json:"root,omitempty"`
}

// RootStatus describes one root known to the daemon.
type RootStatus struct {
	Root       string    `json:"root"`
	State      RootState `json:"state"`
	Generation int64     `json:"generation,omitempty"`
	Files      int64     `json:"files"`
	Folders    int64     `json:"folders"`
	TotalSize  int64     `json:"total_size"`
	ErrorCount int64     `json:"error_count"`
	Watched    bool      `json:"watched"`
	Progress   int       `json:"progress,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// StatusResponse describes the running daemon.
type StatusResponse struct {
	Running       bool         `json:"running"`
	PID           int          `json:"pid"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	MemoryBytes   int64        `json:"memory_bytes"`
	Backend       string       `json:"backend"`
	Entries       int64        `json:"entries"`
	Watching      bool         `json:"watching"`
	Subscribers   int          `json:"subscribers"`
	Roots         []RootStatus `json:"roots"`
}

// WatchProgressRequest subscribes to progress of rebuilds under Root.
type WatchProgressRequest struct {
	Root string `json:"root"`

	// UntilDone ends the stream after the first rebuild under Root finished.
	UntilDone bool `json:"until_done"`
}

// ProgressEvent is one progress update of a rebuild.
type ProgressEvent struct {
	Root  string         `json:"root"`
	Event progress.Event `json:"event"`

	// Done marks the last event of a rebuild; Error is set when it failed.
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// ClearRequest drops the snapshot of Root, or every snapshot when Root is
// empty.
type ClearRequest struct {
	Root string `json:"root,omitempty"`
}

// ClearResponse reports how many entries were removed.
type ClearResponse struct {
	EntriesCleared int64 `json:"entries_cleared"`
}

// ShutdownRequest asks the daemon to stop.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a shutdown.
type ShutdownResponse struct {
	Success bool `json:"success"`
}
