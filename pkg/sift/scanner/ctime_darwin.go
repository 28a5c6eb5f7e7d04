//go:build darwin

package scanner

import (
	"os"
	"syscall"
)

// createTime returns the birth time in epoch milliseconds.
func createTime(info os.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Birthtimespec.Sec*1000 + st.Birthtimespec.Nsec/1e6
	}
	return info.ModTime().UnixMilli()
}
