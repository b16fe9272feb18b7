package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/models"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "uploads.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore_RecordAndList(t *testing.T) {
	base := time.Date(2025, 6, 16, 10, 0, 0, 123456789, time.UTC)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			inputs := []models.UploadRecord{
				{StationID: "Laptop001", Filename: "tx_clean_normal_a.pcap", Size: 10, ReceivedAt: base},
				{StationID: "Laptop002", Filename: "tx_clean_normal_b.pcap", Size: 20, ReceivedAt: base.Add(time.Minute)},
				{StationID: "Laptop001", Filename: "tx_clean_final_c.pcap", Size: 30, ReceivedAt: base.Add(2 * time.Minute)},
			}
			for _, in := range inputs {
				rec, err := s.RecordUpload(ctx, in)
				if err != nil {
					t.Fatal(err)
				}
				if rec.ID == "" {
					t.Error("ID not assigned")
				}
			}

			got, err := s.ListUploads(ctx, "Laptop001", 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 {
				t.Fatalf("listed %d, want 2", len(got))
			}
			if got[0].Filename != "tx_clean_final_c.pcap" || got[1].Filename != "tx_clean_normal_a.pcap" {
				t.Errorf("order = %s, %s", got[0].Filename, got[1].Filename)
			}
			if !got[1].ReceivedAt.Equal(base) {
				t.Errorf("ReceivedAt = %v, want %v", got[1].ReceivedAt, base)
			}

			all, err := s.ListUploads(ctx, "", 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 2 || all[0].Size != 30 {
				t.Errorf("limited list = %+v", all)
			}

			none, err := s.ListUploads(ctx, "Laptop999", 0)
			if err != nil {
				t.Fatal(err)
			}
			if none == nil || len(none) != 0 {
				t.Errorf("unknown station = %#v, want empty non-nil", none)
			}
		})
	}
}

func TestStore_RejectsIncompleteRecords(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.RecordUpload(context.Background(), models.UploadRecord{Filename: "x.pcap"})
			if !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("err = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordUpload(context.Background(), models.UploadRecord{StationID: "L1", Filename: "a.pcap"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.ListUploads(context.Background(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("records after reopen = %d, want 1", len(got))
	}
}
