package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/models"
)

// SQLiteStore persists upload records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS uploads (
    id TEXT PRIMARY KEY,
    station_id TEXT NOT NULL,
    filename TEXT NOT NULL,
    size INTEGER NOT NULL,
    received_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS uploads_station ON uploads (station_id, received_at);`
	_, err := db.Exec(schema)
	return err
}

// RecordUpload implements Store.
func (s *SQLiteStore) RecordUpload(ctx context.Context, rec models.UploadRecord) (models.UploadRecord, error) {
	rec, err := prepare(rec)
	if err != nil {
		return models.UploadRecord{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO uploads (id, station_id, filename, size, received_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.StationID, rec.Filename, rec.Size, rec.ReceivedAt.UnixNano())
	if err != nil {
		return models.UploadRecord{}, fmt.Errorf("store: insert upload: %w", err)
	}
	return rec, nil
}

// ListUploads implements Store.
func (s *SQLiteStore) ListUploads(ctx context.Context, stationID string, limit int) ([]models.UploadRecord, error) {
	query := `SELECT id, station_id, filename, size, received_at FROM uploads`
	var args []any
	if stationID != "" {
		query += ` WHERE station_id = ?`
		args = append(args, stationID)
	}
	query += ` ORDER BY received_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list uploads: %w", err)
	}
	defer rows.Close()

	results := []models.UploadRecord{}
	for rows.Next() {
		var rec models.UploadRecord
		var receivedAt int64
		if err := rows.Scan(&rec.ID, &rec.StationID, &rec.Filename, &rec.Size, &receivedAt); err != nil {
			return nil, fmt.Errorf("store: scan upload: %w", err)
		}
		rec.ReceivedAt = time.Unix(0, receivedAt).UTC()
		results = append(results, rec)
	}
	return results, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
