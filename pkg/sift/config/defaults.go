// Package config loads sift settings from the config file, SIFT_ environment
// variables and command-line flags.
package config

import "time"

// Default configuration values.
const (
	// DefaultPath is the root analyzed when none is given.
	DefaultPath = "."

	// DefaultHashSizeLimit is the largest file that gets a content hash.
	DefaultHashSizeLimit = "100MiB"

	// DefaultBackend is the index store backend.
	DefaultBackend = "badger"

	// DefaultStaleness is the staleness check mode.
	DefaultStaleness = "root"

	// DefaultTopN is the number of largest files reported.
	DefaultTopN = 10

	// DefaultDebounce is how long the daemon waits after the last change
	// under a watched root before rebuilding it.
	DefaultDebounce = 2 * time.Second
)

// DefaultExclusions contains patterns excluded from scanning by default.
// Patterns are matched against paths relative to the scanned root.
var DefaultExclusions = []string{
	"**/node_modules",
	"**/__pycache__",
}

// Backends lists the supported index store backends.
var Backends = []string{"badger", "sqlite"}
