// Package store implements the content-addressed on-disk object store:
// entry layout, insertion, manifest I/O, and atime-based eviction.
package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/inorton/clcache/internal/clerrors"
	"github.com/inorton/clcache/internal/retry"
)

const (
	objectFileName   = "object"
	stdoutFileName   = "output.txt"
	stderrFileName   = "error.txt"
	manifestFileName = "manifest.txt"
)

// Store is the content-addressed object store rooted at a directory.
type Store struct {
	root    string
	retryer *retry.Retryer
}

// New returns a Store rooted at root. root must already exist.
func New(root string) *Store {
	return &Store{root: root, retryer: retry.New(retry.Config{})}
}

// EntryDir returns the directory an entry for fingerprint k lives in:
// "<root>/<k[0:2]>/<k>/".
func (s *Store) EntryDir(k string) string {
	prefix := k
	if len(k) >= 2 {
		prefix = k[:2]
	}
	return filepath.Join(s.root, prefix, k)
}

// HasEntry reports whether the entry's object file exists. The object's
// mere presence is sufficient in preprocessed mode; direct mode callers
// must additionally run manifest verification (internal/fingerprint).
func (s *Store) HasEntry(k string) bool {
	_, err := os.Stat(filepath.Join(s.EntryDir(k), objectFileName))
	return err == nil
}

// Entry exposes the fixed paths of an existing entry's files.
type Entry struct {
	Dir        string
	ObjectPath string
	StdoutPath string
	StderrPath string
}

// OpenEntry returns the path set for fingerprint k. It does not check
// existence; callers that need that guarantee should call HasEntry first.
func (s *Store) OpenEntry(k string) Entry {
	dir := s.EntryDir(k)
	return Entry{
		Dir:        dir,
		ObjectPath: filepath.Join(dir, objectFileName),
		StdoutPath: filepath.Join(dir, stdoutFileName),
		StderrPath: filepath.Join(dir, stderrFileName),
	}
}

// SetEntry inserts a new entry for fingerprint k: the entry directory is
// created, objectPath's bytes are copied in as "object", and stdout/stderr
// are written verbatim as "output.txt"/"error.txt" (including empty
// payloads). Must be called under the cache root's Lock. Per I4, callers
// are responsible for having already verified the compiler exited 0 and
// objectPath exists.
func (s *Store) SetEntry(k, objectPath, stdout, stderr string) (sizeBytes int64, err error) {
	dir := s.EntryDir(k)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, clerrors.Wrap(clerrors.ErrCodeEntryWriteFailed, "store", err)
	}

	var size int64
	writeErr := s.retryer.Do(context.Background(), func() error {
		var copyErr error
		size, copyErr = copyFile(objectPath, filepath.Join(dir, objectFileName))
		if copyErr != nil {
			return copyErr
		}
		if err := os.WriteFile(filepath.Join(dir, stdoutFileName), []byte(stdout), 0o644); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, stderrFileName), []byte(stderr), 0o644)
	})
	if writeErr != nil {
		return 0, clerrors.Wrap(clerrors.ErrCodeEntryWriteFailed, "store", writeErr)
	}
	return size, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return 0, err
	}
	return n, out.Sync()
}

// ManifestRecord is one (hash, path) binding discovered by the
// preprocessor's include scan.
type ManifestRecord struct {
	Hash string
	Path string
}

// WriteManifest serializes records as one newline-terminated "<hash>
// <path>" line each, including a trailing newline on the final line.
func (s *Store) WriteManifest(k string, records []ManifestRecord) error {
	dir := s.EntryDir(k)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return clerrors.Wrap(clerrors.ErrCodeEntryWriteFailed, "store", err)
	}
	var b strings.Builder
	for _, r := range records {
		if strings.ContainsAny(r.Path, "\n") {
			return clerrors.New(clerrors.ErrCodeEntryWriteFailed, "store", "manifest path must not contain a newline")
		}
		fmt.Fprintf(&b, "%s %s\n", r.Hash, r.Path)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFileName), []byte(b.String()), 0o644); err != nil {
		return clerrors.Wrap(clerrors.ErrCodeEntryWriteFailed, "store", err)
	}
	return nil
}

// GetManifest parses an entry's manifest.txt into a path -> hash mapping.
// Returns (nil, nil) if no manifest exists.
func (s *Store) GetManifest(k string) (map[string]string, error) {
	path := filepath.Join(s.EntryDir(k), manifestFileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[1]] = parts[0]
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type entryInfo struct {
	dir      string
	size     int64
	accessNs int64
}

// Clean runs the eviction pass: if currentSize is at or above maxBytes,
// entries are walked, sorted ascending by atime, and whole entry
// directories removed (by renaming aside then deleting) until the
// remaining size is at most 90% of maxBytes. Must run under the cache
// root's Lock. Returns the resulting total size and the number of entries
// removed.
func (s *Store) Clean(currentSize, maxBytes int64) (int64, int, error) {
	if currentSize < maxBytes {
		return currentSize, 0, nil
	}

	entries, err := s.walkEntries()
	if err != nil {
		return currentSize, 0, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].accessNs < entries[j].accessNs })

	threshold := (maxBytes * 9) / 10
	total := currentSize
	removed := 0
	for _, e := range entries {
		if total <= threshold {
			break
		}
		if err := s.removeEntryDir(e.dir); err != nil {
			return total, removed, err
		}
		total -= e.size
		removed++
	}
	return total, removed, nil
}

// removeEntryDir evicts one entry atomically by renaming the directory
// aside (so no peer can observe a half-deleted entry) before recursively
// removing it.
func (s *Store) removeEntryDir(dir string) error {
	aside := dir + ".evicting"
	if err := os.Rename(dir, aside); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.RemoveAll(aside)
}

func (s *Store) walkEntries() ([]entryInfo, error) {
	var out []entryInfo
	topEntries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, prefixEntry := range topEntries {
		if !prefixEntry.IsDir() {
			continue
		}
		prefixDir := filepath.Join(s.root, prefixEntry.Name())
		keyEntries, err := os.ReadDir(prefixDir)
		if err != nil {
			continue
		}
		for _, keyEntry := range keyEntries {
			if !keyEntry.IsDir() {
				continue
			}
			dir := filepath.Join(prefixDir, keyEntry.Name())
			objectPath := filepath.Join(dir, objectFileName)
			info, err := os.Stat(objectPath)
			if err != nil {
				continue
			}
			out = append(out, entryInfo{dir: dir, size: info.Size(), accessNs: accessTimeNanos(info)})
		}
	}
	return out, nil
}
