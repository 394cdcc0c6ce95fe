package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
)

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "temperatures.csv")
	ctx := context.Background()

	s, err := OpenCSV(path, discardLogger())
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to be created: %v", err)
	}

	readings := []models.Reading{
		models.NewReading("Bedroom", t0.Add(125*time.Millisecond), true, 20.25, 0),
		models.NewReading("Kitchen", t0, true, 22.5, 44.5),
	}
	if err := s.SaveItems(ctx, readings); err != nil {
		t.Fatalf("SaveItems: %v", err)
	}

	loaded, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(loaded))
	}
	for i := range readings {
		if loaded[i] != readings[i] {
			t.Errorf("row %d: got %+v, want %+v", i, loaded[i], readings[i])
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.HasPrefix(string(data), "device_name,timestamp,online,temperature,humidity\n") {
		t.Errorf("missing header: %q", string(data))
	}
}

func TestCSVSaveItemsToleratesFailedItem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temperatures.csv")
	ctx := context.Background()

	s, err := OpenCSV(path, discardLogger())
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}

	batch := []models.Reading{
		models.NewReading("Bedroom", t0, true, 20.1, 0),
		models.NewReading("Kitchen", t0, true, 22.4, 0),
		models.NewReading("Hallway", t0, true, 19.0, 0),
		models.NewReading("Office", t0, true, 21.3, 0),
		models.NewReading("Garage", t0, true, 12.8, 0),
	}
	if err := s.SaveItem(ctx, batch[2]); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if err := s.SaveItems(ctx, batch); err != nil {
		t.Fatalf("SaveItems: %v", err)
	}

	loaded, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(loaded) != 5 {
		t.Fatalf("expected 5 rows, got %d: %+v", len(loaded), loaded)
	}
}

func TestCSVReopenSeedsLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temperatures.csv")
	ctx := context.Background()

	s, err := OpenCSV(path, discardLogger())
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	older := models.NewReading("Bedroom", t0, true, 20.0, 0)
	newer := models.NewReading("Bedroom", t0.Add(time.Minute), true, 20.5, 0)
	if err := s.SaveItems(ctx, []models.Reading{newer, older}); err != nil {
		t.Fatalf("SaveItems: %v", err)
	}

	reopened, err := OpenCSV(path, discardLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	latest, err := reopened.LatestItemPerDevice(ctx, models.FieldDeviceName, models.FieldTimestamp)
	if err != nil {
		t.Fatalf("LatestItemPerDevice: %v", err)
	}
	if len(latest) != 1 || latest[0] != newer {
		t.Fatalf("unexpected latest: %+v", latest)
	}

	// Rows loaded from disk are known and are not appended again.
	if err := reopened.SaveItems(ctx, []models.Reading{older}); err != nil {
		t.Fatalf("SaveItems: %v", err)
	}
	loaded, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(loaded))
	}
}
