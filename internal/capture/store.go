package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Fetcher copies the remote capture to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, dst string) error
}

// Store keeps the most recent full pull of the remote capture at a fixed
// local path.
type Store struct {
	path string
}

// NewStore returns a Store that caches pulls at path, creating its
// directory if needed.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Path returns the local cache file path.
func (s *Store) Path() string { return s.path }

// Pull fetches the remote capture and parses it. The download lands in a
// temp file that only replaces the cache file once it parses, so a failed
// transfer or a corrupt copy leaves the previous pull untouched.
func (s *Store) Pull(ctx context.Context, f Fetcher) (*File, error) {
	tmp := s.path + ".partial"
	defer os.Remove(tmp)

	if err := f.Fetch(ctx, tmp); err != nil {
		return nil, err
	}
	parsed, err := ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("parse pulled capture: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return nil, fmt.Errorf("replace cache file: %w", err)
	}
	return parsed, nil
}

// Write stores packets as a new capture at path with src's header.
func (s *Store) Write(path string, src *File, packets []Packet) error {
	return WriteFile(path, src, packets)
}
