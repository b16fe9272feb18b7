// Package ledger records which snapshot files have been delivered to the
// central server. The record is a JSON file rewritten atomically on every
// change, so a restart never uploads the same snapshot twice.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is one delivered file.
type Entry struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Ledger is a persisted set of delivered file names.
type Ledger struct {
	path    string
	logger  *zap.Logger
	mu      sync.Mutex
	entries map[string]Entry
}

// Open loads the ledger at path, creating its directory if needed. A
// missing file is an empty ledger; a corrupted one is logged, set aside
// and replaced.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating ledger dir: %w", err)
	}
	l := &Ledger{
		path:    path,
		logger:  logger.Named("ledger"),
		entries: make(map[string]Entry),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}

	var list []Entry
	if err := json.Unmarshal(data, &list); err != nil {
		l.logger.Warn("Failed to parse ledger, starting empty",
			zap.String("file", path),
			zap.Error(err))
		_ = os.Rename(path, path+".corrupt")
		return l, nil
	}
	for _, e := range list {
		l.entries[e.Name] = e
	}
	return l, nil
}

// Has reports whether name was delivered.
func (l *Ledger) Has(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[name]
	return ok
}

// Mark records name as delivered and persists the ledger.
func (l *Ledger) Mark(name string, size int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[name] = Entry{Name: name, Size: size, UploadedAt: time.Now().UTC()}
	return l.save()
}

// Count returns the number of delivered files.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// save writes the ledger. Must be called with l.mu held.
func (l *Ledger) save() error {
	list := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling ledger: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}
