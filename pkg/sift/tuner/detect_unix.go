//go:build unix

package tuner

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Detect reads the CPU count and the soft RLIMIT_NOFILE of the process.
func Detect() (SystemResources, error) {
	res := SystemResources{CPUCores: runtime.NumCPU()}

	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return res, fmt.Errorf("getrlimit nofile: %w", err)
	}
	if rl.Cur != unix.RLIM_INFINITY {
		res.FileLimit = uint64(rl.Cur)
	}
	return res, nil
}
