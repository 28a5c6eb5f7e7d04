package scanner

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidPattern is returned for a malformed exclude pattern.
var ErrInvalidPattern = errors.New("invalid exclude pattern")

// excluder matches paths relative to the scan root against doublestar
// patterns. Patterns use forward slashes on every platform.
type excluder struct {
	patterns []string
}

func newExcluder(patterns []string) (*excluder, error) {
	e := &excluder{}
	for _, p := range patterns {
		p = strings.TrimSuffix(filepath.ToSlash(strings.TrimSpace(p)), "/")
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPattern, p)
		}
		e.patterns = append(e.patterns, p)
	}
	return e, nil
}

// match reports whether rel, a root-relative path, is excluded.
func (e *excluder) match(rel string) bool {
	if len(e.patterns) == 0 {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range e.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
