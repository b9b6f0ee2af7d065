// Package persist implements the lazily-loaded, dirty-flag-gated JSON
// document that backs clcache's configuration and statistics files.
package persist

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/inorton/clcache/internal/clerrors"
	"github.com/inorton/clcache/internal/retry"
)

// Map is a single JSON-encoded document loaded from path on first access
// and written back atomically only when dirty. It is not safe for
// concurrent use by multiple goroutines/processes without external
// synchronization, callers are expected to hold the cross-process cache
// Lock around any mutation and around Save.
type Map struct {
	path    string
	loaded  bool
	dirty   bool
	values  map[string]json.RawMessage
	loadErr error
	retryer *retry.Retryer
}

// New returns a Map bound to path. The file is not read until the first
// Get/Set/Contains call.
func New(path string) *Map {
	return &Map{path: path, retryer: retry.New(retry.Config{})}
}

func (m *Map) ensureLoaded() {
	if m.loaded {
		return
	}
	m.loaded = true
	m.values = make(map[string]json.RawMessage)

	data, err := os.ReadFile(m.path)
	if err != nil {
		// Missing file: start empty, not an error.
		return
	}
	if err := json.Unmarshal(data, &m.values); err != nil {
		// Corrupt JSON is absorbed into an empty document; defaults
		// re-materialize on the next Save.
		m.values = make(map[string]json.RawMessage)
		m.loadErr = clerrors.Wrap(clerrors.ErrCodeConfigCorrupt, "persist", err)
	}
}

// LoadErr returns the error (if any) encountered while loading the
// document. A corrupt document is still usable, LoadErr is informational
// for logging, not a reason to abort.
func (m *Map) LoadErr() error {
	m.ensureLoaded()
	return m.loadErr
}

// Contains reports whether key is present in the document.
func (m *Map) Contains(key string) bool {
	m.ensureLoaded()
	_, ok := m.values[key]
	return ok
}

// Get unmarshals the value stored at key into out. It returns false if the
// key is absent.
func (m *Map) Get(key string, out interface{}) bool {
	m.ensureLoaded()
	raw, ok := m.values[key]
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false
	}
	return true
}

// Set marshals value and stores it at key, marking the document dirty.
func (m *Map) Set(key string, value interface{}) error {
	m.ensureLoaded()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = raw
	m.dirty = true
	return nil
}

// Dirty reports whether the document has unsaved mutations.
func (m *Map) Dirty() bool {
	return m.dirty
}

// Save writes the document to disk atomically (write to a temp file in the
// same directory, fsync, rename over the target) if and only if it is
// dirty. It is a no-op otherwise.
func (m *Map) Save() error {
	if !m.dirty {
		return nil
	}
	m.ensureLoaded()

	data, err := json.MarshalIndent(m.values, "", "  ")
	if err != nil {
		return clerrors.Wrap(clerrors.ErrCodeEntryWriteFailed, "persist", err)
	}

	dir := filepath.Dir(m.path)
	writeErr := m.retryer.Do(context.Background(), func() error {
		return writeAtomic(dir, m.path, data)
	})
	if writeErr != nil {
		return clerrors.Wrap(clerrors.ErrCodeEntryWriteFailed, "persist", writeErr)
	}

	m.dirty = false
	return nil
}

// writeAtomic writes data to a temp file under dir and renames it over
// path. A build tree under concurrent write pressure can surface EAGAIN,
// EINTR, or EBUSY here; the caller retries the whole sequence against
// those (see internal/retry).
func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".persist-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
