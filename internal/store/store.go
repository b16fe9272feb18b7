// Package store records the capture uploads received by the central server.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/models"
)

// ErrInvalidRecord is returned for records without a station or filename.
var ErrInvalidRecord = errors.New("upload record requires station and filename")

// Store exposes persistence operations required by the upload API.
type Store interface {
	// RecordUpload stores rec, filling ID and ReceivedAt when unset.
	RecordUpload(ctx context.Context, rec models.UploadRecord) (models.UploadRecord, error)
	// ListUploads returns records newest first. An empty stationID lists
	// every station; limit <= 0 means no limit.
	ListUploads(ctx context.Context, stationID string, limit int) ([]models.UploadRecord, error)
	Close() error
}

// prepare validates rec and fills generated fields.
func prepare(rec models.UploadRecord) (models.UploadRecord, error) {
	if strings.TrimSpace(rec.StationID) == "" || strings.TrimSpace(rec.Filename) == "" {
		return models.UploadRecord{}, ErrInvalidRecord
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	return rec, nil
}

// NewMemoryStore returns an in-memory implementation used when no database
// path is configured.
func NewMemoryStore() Store {
	return &memoryStore{}
}

type memoryStore struct {
	mu      sync.RWMutex
	records []models.UploadRecord
}

func (m *memoryStore) RecordUpload(_ context.Context, rec models.UploadRecord) (models.UploadRecord, error) {
	rec, err := prepare(rec)
	if err != nil {
		return models.UploadRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *memoryStore) ListUploads(_ context.Context, stationID string, limit int) ([]models.UploadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := []models.UploadRecord{}
	for _, r := range m.records {
		if stationID == "" || r.StationID == stationID {
			results = append(results, r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ReceivedAt.After(results[j].ReceivedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *memoryStore) Close() error { return nil }
