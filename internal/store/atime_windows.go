//go:build windows

package store

import "os"

// accessTimeNanos falls back to mtime on platforms without a cheap atime
// accessor; eviction degrades to LRU-by-mtime there.
func accessTimeNanos(info os.FileInfo) int64 {
	return info.ModTime().UnixNano()
}
