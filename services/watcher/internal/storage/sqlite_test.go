package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestSQLite(t *testing.T) *SQLiteSink {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "readings.db"), CollectionName, discardLogger())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func countRows(t *testing.T, s *SQLiteSink, device string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM `+s.table+` WHERE device_name = ?`, device).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestSQLiteSaveItemsToleratesFailedItem(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	batch := []models.Reading{
		models.NewReading("Bedroom", t0, true, 20.1, 0),
		models.NewReading("Kitchen", t0, true, 22.4, 0),
		models.NewReading("Hallway", t0, true, 19.0, 0),
		models.NewReading("Office", t0, true, 21.3, 0),
		models.NewReading("Garage", t0, true, 12.8, 0),
	}

	// Item 3 already exists, so its insert fails on the unique index.
	if err := s.SaveItem(ctx, batch[2]); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}

	if err := s.SaveItems(ctx, batch); err != nil {
		t.Fatalf("SaveItems returned error for a per-item failure: %v", err)
	}

	for _, r := range batch {
		if n := countRows(t, s, r.DeviceName); n != 1 {
			t.Errorf("%s: expected 1 row, got %d", r.DeviceName, n)
		}
	}
}

func TestSQLiteSaveItemRejectsDuplicate(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	r := models.NewReading("Bedroom", t0, true, 20.1, 0)

	if err := s.SaveItem(ctx, r); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if err := s.SaveItem(ctx, r); !errors.Is(err, models.ErrStorage) {
		t.Fatalf("expected ErrStorage for duplicate, got %v", err)
	}
}

func TestSQLiteLatestItemPerDevice(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	rows := []models.Reading{
		models.NewReading("Bedroom", t0, true, 20.0, 0),
		models.NewReading("Bedroom", t0.Add(90*time.Second+500*time.Millisecond), true, 20.5, 0),
		models.NewReading("Bedroom", t0.Add(90*time.Second), true, 20.4, 0),
		models.NewReading("Kitchen", t0.Add(-time.Hour), true, 23.0, 41),
	}
	if err := s.SaveItems(ctx, rows); err != nil {
		t.Fatalf("SaveItems: %v", err)
	}

	latest, err := s.LatestItemPerDevice(ctx, models.FieldDeviceName, models.FieldTimestamp)
	if err != nil {
		t.Fatalf("LatestItemPerDevice: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 readings, got %d: %+v", len(latest), latest)
	}
	if latest[0] != rows[1] {
		t.Errorf("Bedroom: got %+v, want %+v", latest[0], rows[1])
	}
	if latest[1] != rows[3] {
		t.Errorf("Kitchen: got %+v, want %+v", latest[1], rows[3])
	}
}

func TestSQLiteLatestRejectsUnknownField(t *testing.T) {
	s := openTestSQLite(t)

	if _, err := s.LatestItemPerDevice(context.Background(), "device_name; DROP TABLE temperatures", models.FieldTimestamp); err == nil {
		t.Fatal("expected error for unknown group field")
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path, CollectionName, discardLogger())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.SaveItem(ctx, models.NewReading("Bedroom", t0, true, 20.0, 0)); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	_ = s.Close()

	s, err = OpenSQLite(ctx, path, CollectionName, discardLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	latest, err := s.LatestItemPerDevice(ctx, models.FieldDeviceName, models.FieldTimestamp)
	if err != nil {
		t.Fatalf("LatestItemPerDevice: %v", err)
	}
	if len(latest) != 1 || !latest[0].Timestamp.Equal(t0) {
		t.Fatalf("unexpected latest after reopen: %+v", latest)
	}
}
