package scanner

import (
	"crypto/md5" //nolint:gosec // content identity, not security
	"encoding/hex"
	"io"
	"math"
	"sync"

	"github.com/spf13/afero"
)

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64*1024)
		return &b
	},
}

// hashFile returns the hex MD5 digest of the file content. It reads at most
// limit bytes; a file that grew past limit since it was stat'ed yields an
// empty digest.
func hashFile(fs afero.Fs, path string, limit int64) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := bufPool.Get().(*[]byte)
	defer bufPool.Put(buf)

	var r io.Reader = f
	if limit < math.MaxInt64 {
		r = io.LimitReader(f, limit+1)
	}
	h := md5.New() //nolint:gosec
	n, err := io.CopyBuffer(h, r, *buf)
	if err != nil {
		return "", err
	}
	if n > limit {
		return "", nil
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
