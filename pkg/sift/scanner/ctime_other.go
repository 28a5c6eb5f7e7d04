//go:build !darwin && !linux

package scanner

import "os"

func createTime(info os.FileInfo) int64 {
	return info.ModTime().UnixMilli()
}
