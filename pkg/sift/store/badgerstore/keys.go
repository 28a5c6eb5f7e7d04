package badgerstore

import (
	"fmt"

	"github.com/jamesainslie/sift/pkg/sift/types"
)

// Key layout. Index keys carry the entry path after the last NUL and have
// empty values; the entry itself lives under e:.
//
//	e:<path>                      JSON IndexEntry
//	p:<parent>\x00<name>          parent index, value is the path
//	k:<kind>\x00<path>            kind index
//	x:<ext>\x00<path>             extension index (files with an extension)
//	h:<hash>\x00<path>            content hash index (hashed files)
//	m:root:<root>                 JSON RootRecord
//	m:__schema__                  JSON schema version
//	s:<root>\x00<gen>\x00<path>   staged JSON IndexEntry
const (
	prefixEntry  = "e:"
	prefixParent = "p:"
	prefixKind   = "k:"
	prefixExt    = "x:"
	prefixHash   = "h:"
	prefixRoot   = "m:root:"
	prefixStage  = "s:"
	schemaKey    = "m:__schema__"
)

func entryKey(path string) []byte {
	return []byte(prefixEntry + path)
}

func rootKey(root string) []byte {
	return []byte(prefixRoot + root)
}

func stagePrefix(root string, gen int64) string {
	return fmt.Sprintf("%s%s\x00%016x\x00", prefixStage, root, gen)
}

// indexKeys returns the secondary index keys of an entry.
func indexKeys(e *types.IndexEntry) [][]byte {
	keys := [][]byte{
		[]byte(prefixParent + e.ParentPath + "\x00" + e.Name),
		[]byte(prefixKind + e.Kind.String() + "\x00" + e.Path),
	}
	if e.Extension != "" {
		keys = append(keys, []byte(prefixExt+e.Extension+"\x00"+e.Path))
	}
	if e.HasHash() {
		keys = append(keys, []byte(prefixHash+e.ContentHash+"\x00"+e.Path))
	}
	return keys
}

// pathFromIndexKey extracts the path after the last NUL of an index key.
func pathFromIndexKey(key []byte) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == 0 {
			return string(key[i+1:])
		}
	}
	return ""
}
