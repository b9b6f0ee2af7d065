// Package hashutil wraps xxhash as clcache's content fingerprint hash, a
// fast non-cryptographic hash well suited to a local, single-cache-root
// store.
package hashutil

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// HexDigestLen is the fixed width of a Sum64-derived hex digest.
const HexDigestLen = 16

// Bytes returns the hex digest of data.
func Bytes(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Strings concatenates each string with no separator and hashes the
// result; callers that need a separator should join before calling.
func Strings(parts ...string) string {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = io.WriteString(h, p)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// File streams path's contents through xxhash without loading the whole
// file into memory, returning a hex digest.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
