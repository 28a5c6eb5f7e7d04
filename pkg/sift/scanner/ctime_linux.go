//go:build linux

package scanner

import (
	"os"
	"syscall"
)

// createTime returns the inode change time in epoch milliseconds. Birth time
// needs statx and is not exposed through os.FileInfo on Linux.
func createTime(info os.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return int64(st.Ctim.Sec)*1000 + int64(st.Ctim.Nsec)/1e6 //nolint:unconvert // 32-bit platforms
	}
	return info.ModTime().UnixMilli()
}
