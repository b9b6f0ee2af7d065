// Package stats is the typed facade over the on-disk stats.txt document:
// the eight counters clcache tracks across its lifetime.
package stats

import (
	"path/filepath"

	"github.com/inorton/clcache/internal/persist"
)

// FileName is the statistics document's fixed name under the cache root.
const FileName = "stats.txt"

const (
	keyCallsWithoutSourceFile       = "CallsWithoutSourceFile"
	keyCallsWithMultipleSourceFiles = "CallsWithMultipleSourceFiles"
	keyCallsWithPch                 = "CallsWithPch"
	keyCallsForLinking              = "CallsForLinking"
	keyCacheEntries                 = "CacheEntries"
	keyCacheSize                    = "CacheSize"
	keyCacheHits                    = "CacheHits"
	keyCacheMisses                  = "CacheMisses"
)

// resettableKeys are cleared by ResetCounters; CacheEntries and CacheSize
// describe physical on-disk state and survive a reset.
var resettableKeys = []string{
	keyCallsWithoutSourceFile,
	keyCallsWithMultipleSourceFiles,
	keyCallsWithPch,
	keyCallsForLinking,
	keyCacheHits,
	keyCacheMisses,
}

// Statistics is a thin typed view over a persist.Map at stats.txt. Callers
// must hold the cache root's Lock around any mutating call and Save.
type Statistics struct {
	doc *persist.Map
}

// Load returns a Statistics bound to "<cacheRoot>/stats.txt".
func Load(cacheRoot string) *Statistics {
	return &Statistics{doc: persist.New(filepath.Join(cacheRoot, FileName))}
}

func (s *Statistics) get(key string) int64 {
	var n int64
	s.doc.Get(key, &n)
	return n
}

func (s *Statistics) increment(key string) {
	_ = s.doc.Set(key, s.get(key)+1)
}

// CallsWithoutSourceFile, CallsWithMultipleSourceFiles, CallsWithPch,
// CallsForLinking, CacheEntries, CacheSize, CacheHits, and CacheMisses
// read each of the eight persisted counters.
func (s *Statistics) CallsWithoutSourceFile() int64       { return s.get(keyCallsWithoutSourceFile) }
func (s *Statistics) CallsWithMultipleSourceFiles() int64 { return s.get(keyCallsWithMultipleSourceFiles) }
func (s *Statistics) CallsWithPch() int64                 { return s.get(keyCallsWithPch) }
func (s *Statistics) CallsForLinking() int64              { return s.get(keyCallsForLinking) }
func (s *Statistics) CacheEntries() int64                 { return s.get(keyCacheEntries) }
func (s *Statistics) CacheSize() int64                    { return s.get(keyCacheSize) }
func (s *Statistics) CacheHits() int64                    { return s.get(keyCacheHits) }
func (s *Statistics) CacheMisses() int64                  { return s.get(keyCacheMisses) }

// RegisterCallWithoutSourceFile, RegisterCallWithMultipleSourceFiles,
// RegisterCallWithPch, RegisterCallForLinking, RegisterCacheHit, and
// RegisterCacheMiss bump the matching skip/outcome counter.
func (s *Statistics) RegisterCallWithoutSourceFile()       { s.increment(keyCallsWithoutSourceFile) }
func (s *Statistics) RegisterCallWithMultipleSourceFiles() { s.increment(keyCallsWithMultipleSourceFiles) }
func (s *Statistics) RegisterCallWithPch()                 { s.increment(keyCallsWithPch) }
func (s *Statistics) RegisterCallForLinking()              { s.increment(keyCallsForLinking) }
func (s *Statistics) RegisterCacheHit()                    { s.increment(keyCacheHits) }
func (s *Statistics) RegisterCacheMiss()                   { s.increment(keyCacheMisses) }

// RegisterCacheEntry bumps CacheEntries by one and CacheSize by sizeBytes,
// called once per successful insertion.
func (s *Statistics) RegisterCacheEntry(sizeBytes int64) {
	_ = s.doc.Set(keyCacheEntries, s.get(keyCacheEntries)+1)
	_ = s.doc.Set(keyCacheSize, s.get(keyCacheSize)+sizeBytes)
}

// SetCacheSize overwrites CacheSize directly; used by eviction after a
// Clean pass recomputes the true total.
func (s *Statistics) SetCacheSize(n int64) {
	_ = s.doc.Set(keyCacheSize, n)
}

// SetCacheEntries overwrites CacheEntries directly; used by eviction after
// a Clean pass removes whole entries.
func (s *Statistics) SetCacheEntries(n int64) {
	_ = s.doc.Set(keyCacheEntries, n)
}

// ResetCounters zeroes the six non-size counters; CacheEntries and
// CacheSize are left untouched since they describe physical state.
func (s *Statistics) ResetCounters() {
	for _, key := range resettableKeys {
		_ = s.doc.Set(key, int64(0))
	}
}

// Save persists the document if dirty.
func (s *Statistics) Save() error {
	return s.doc.Save()
}
