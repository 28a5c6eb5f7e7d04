// Package tuner derives scanner concurrency limits from the resources of the
// host. The per-directory stat limit is sized against the process file
// descriptor limit so that wide directories cannot exhaust it.
package tuner

import "runtime"

// SystemResources contains detected system resources.
type SystemResources struct {
	// CPUCores is the number of logical CPU cores available.
	CPUCores int

	// FileLimit is the soft limit on open file descriptors, 0 if unknown.
	FileLimit uint64
}

// Limits for the per-directory stat/hash fan-out.
const (
	minStatConcurrency = 16
	maxStatConcurrency = 256

	// fdShare is the divisor applied to the descriptor limit; the rest is
	// left to the index store, logs and the daemon socket.
	fdShare = 4

	// defaultFileLimit is assumed when the limit cannot be read.
	defaultFileLimit = 1024

	// DefaultWriteBatch is the number of entries written to the store per batch.
	DefaultWriteBatch = 1000
)

// OptimalConfig is the tuned scanner configuration.
type OptimalConfig struct {
	// StatConcurrency caps in-flight stat and hash operations per directory.
	StatConcurrency int

	// WriteBatch is the number of entries per store write.
	WriteBatch int
}

// Calculate returns the configuration for the given resources.
//
// StatConcurrency is FileLimit/4, clamped to [16, 256]. On hosts with few
// cores the upper bound is further limited to 32 per core, since stat
// latency is amortized by the kernel, not by more goroutines.
func Calculate(res SystemResources) OptimalConfig {
	limit := res.FileLimit
	if limit == 0 {
		limit = defaultFileLimit
	}

	stat := int(min(limit/fdShare, uint64(maxStatConcurrency)))
	if res.CPUCores > 0 {
		stat = min(stat, res.CPUCores*32)
	}
	stat = max(stat, minStatConcurrency)

	return OptimalConfig{
		StatConcurrency: stat,
		WriteBatch:      DefaultWriteBatch,
	}
}

// CalculateWithOverrides applies a user override for the stat concurrency.
// Overrides are still capped at half of the descriptor limit.
func CalculateWithOverrides(res SystemResources, statOverride int) OptimalConfig {
	cfg := Calculate(res)
	if statOverride <= 0 {
		return cfg
	}

	limit := res.FileLimit
	if limit == 0 {
		limit = defaultFileLimit
	}
	cfg.StatConcurrency = int(min(uint64(statOverride), limit/2))
	cfg.StatConcurrency = max(cfg.StatConcurrency, 1)
	return cfg
}

// StatConcurrency returns the tuned default for the current host.
func StatConcurrency() int {
	res, err := Detect()
	if err != nil {
		res = SystemResources{CPUCores: runtime.NumCPU()}
	}
	return Calculate(res).StatConcurrency
}
