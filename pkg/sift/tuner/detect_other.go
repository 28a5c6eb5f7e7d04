//go:build !unix

package tuner

import "runtime"

// Detect returns the CPU count. The descriptor limit is not available on
// this platform and is left unknown.
func Detect() (SystemResources, error) {
	return SystemResources{CPUCores: runtime.NumCPU()}, nil
}
