package fetchcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const tempPattern = ".fetchcache-*.tmp"

// StaleTempAge is how old a temp file must be before Scan removes it. Younger
// temp files may belong to a write in progress by another Store on the same
// directory.
const StaleTempAge = 10 * time.Minute

// Entry is an artifact persisted for a key.
type Entry struct {
	Key       string
	Path      string
	Size      int64
	WrittenAt time.Time
}

// Store maps keys to files in one directory.
type Store struct {
	dir string
	ext string
}

// NewStore creates the directory if needed.
func NewStore(dir, ext string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Store{dir: dir, ext: ext}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// PathFor returns the deterministic file path for key.
func (s *Store) PathFor(key string) string {
	return filepath.Join(s.dir, fileName(key)+s.ext)
}

// fileName keeps safe keys readable and appends a short hash to keys that
// had characters replaced, so distinct keys never share a file.
func fileName(key string) string {
	var b strings.Builder
	changed := false
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.' && b.Len() > 0:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
			changed = true
		}
	}
	if !changed {
		return b.String()
	}
	sum := sha256.Sum256([]byte(key))
	return b.String() + "-" + hex.EncodeToString(sum[:4])
}

// Stat returns the entry for key if its file exists.
func (s *Store) Stat(key string) (Entry, bool) {
	path := s.PathFor(key)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return Entry{}, false
	}
	return Entry{Key: key, Path: path, Size: info.Size(), WrittenAt: info.ModTime()}, true
}

// Write replaces the file for key with data. The data is written to a temp
// file in the same directory and renamed into place.
func (s *Store) Write(key string, data []byte) (Entry, error) {
	path := s.PathFor(key)

	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return Entry{}, fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Entry{}, fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Entry{}, fmt.Errorf("close temp for %s: %w", key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return Entry{}, fmt.Errorf("rename temp to %s: %w", path, err)
	}

	return Entry{Key: key, Path: path, Size: int64(len(data)), WrittenAt: time.Now()}, nil
}

// Remove deletes the file for key. A missing file is not an error.
func (s *Store) Remove(key string) error {
	if err := os.Remove(s.PathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Scan removes temp files older than StaleTempAge and returns the number of
// artifacts in the directory.
func (s *Store) Scan() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir %s: %w", s.dir, err)
	}

	artifacts := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if matched, _ := filepath.Match(tempPattern, name); matched {
			info, err := e.Info()
			if err != nil || time.Since(info.ModTime()) < StaleTempAge {
				continue
			}
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
				return artifacts, fmt.Errorf("remove stale temp %s: %w", name, err)
			}
			continue
		}
		if s.ext == "" || strings.HasSuffix(name, s.ext) {
			artifacts++
		}
	}
	return artifacts, nil
}
