// Package config is the typed facade over the on-disk config.txt document:
// one setting today, the maximum cache size in bytes.
package config

import (
	"path/filepath"

	"github.com/inorton/clcache/internal/persist"
)

// DefaultMaximumCacheSize is applied when config.txt has no
// MaximumCacheSize entry yet (≈1 GB).
const DefaultMaximumCacheSize int64 = 1073741824

const maximumCacheSizeKey = "MaximumCacheSize"

// FileName is the config document's fixed name under the cache root.
const FileName = "config.txt"

// Configuration is a thin typed view over a persist.Map at config.txt.
// Callers must hold the cache root's Lock around any mutating call and
// around Save.
type Configuration struct {
	doc *persist.Map
}

// Load returns a Configuration bound to "<cacheRoot>/config.txt",
// materializing the default MaximumCacheSize if the key is absent.
func Load(cacheRoot string) *Configuration {
	c := &Configuration{doc: persist.New(filepath.Join(cacheRoot, FileName))}
	if !c.doc.Contains(maximumCacheSizeKey) {
		_ = c.doc.Set(maximumCacheSizeKey, DefaultMaximumCacheSize)
	}
	return c
}

// MaximumCacheSize returns the configured quota in bytes.
func (c *Configuration) MaximumCacheSize() int64 {
	var n int64
	if !c.doc.Get(maximumCacheSizeKey, &n) {
		return DefaultMaximumCacheSize
	}
	return n
}

// SetMaximumCacheSize updates the quota.
func (c *Configuration) SetMaximumCacheSize(n int64) {
	_ = c.doc.Set(maximumCacheSizeKey, n)
}

// Save persists the document if dirty.
func (c *Configuration) Save() error {
	return c.doc.Save()
}
