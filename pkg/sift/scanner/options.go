package scanner

import (
	"github.com/spf13/afero"

	"github.com/jamesainslie/sift/pkg/sift/progress"
	"github.com/jamesainslie/sift/pkg/sift/tuner"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// Options configures a Scanner.
type Options struct {
	types.ScanOptions

	// StatConcurrency caps the stat and hash calls in flight for one
	// directory. Zero uses tuner.StatConcurrency().
	StatConcurrency int

	// Reporter receives progress events. Optional.
	Reporter *progress.Reporter

	// Fs is the filesystem to walk. Nil means the OS filesystem.
	Fs afero.Fs
}

// DefaultOptions returns a recursive scan of the OS filesystem.
func DefaultOptions() Options {
	return Options{ScanOptions: types.DefaultScanOptions()}
}

func (o *Options) normalize() {
	o.ScanOptions.Normalize()
	if o.StatConcurrency <= 0 {
		o.StatConcurrency = tuner.StatConcurrency()
	}
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
}
