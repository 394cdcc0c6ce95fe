package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
)

var csvHeader = []string{
	models.FieldDeviceName,
	models.FieldTimestamp,
	models.FieldOnline,
	models.FieldTemperature,
	models.FieldHumidity,
}

type csvKey struct {
	device string
	ts     int64
}

// CSVSink appends readings to a CSV file. The file has no constraints of its
// own, so the sink indexes existing rows on open and skips known
// (device_name, timestamp) pairs.
type CSVSink struct {
	path   string
	seen   map[csvKey]struct{}
	latest map[string]models.Reading
	logger *slog.Logger
}

// OpenCSV creates the file if needed and loads its index.
func OpenCSV(path string, logger *slog.Logger) (*CSVSink, error) {
	if path == "" {
		return nil, fmt.Errorf("csv path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create csv directory: %w", err)
	}

	s := &CSVSink{
		path:   path,
		seen:   make(map[csvKey]struct{}),
		latest: make(map[string]models.Reading),
		logger: logger,
	}

	existing, err := LoadCSV(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, storageErr("load csv", err)
	}
	for _, r := range existing {
		s.index(r)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, storageErr("create csv", err)
	}
	if err := f.Close(); err != nil {
		return nil, storageErr("create csv", err)
	}

	logger.Info("csv file opened", "path", path, "rows", len(existing))
	return s, nil
}

func (s *CSVSink) index(r models.Reading) {
	s.seen[csvKey{device: r.DeviceName, ts: r.Timestamp.UnixNano()}] = struct{}{}
	if prev, ok := s.latest[r.DeviceName]; !ok || r.Timestamp.After(prev.Timestamp) {
		s.latest[r.DeviceName] = r
	}
}

func (s *CSVSink) known(r models.Reading) bool {
	_, ok := s.seen[csvKey{device: r.DeviceName, ts: r.Timestamp.UnixNano()}]
	return ok
}

// SaveItem appends one reading.
func (s *CSVSink) SaveItem(ctx context.Context, r models.Reading) error {
	return s.SaveItems(ctx, []models.Reading{r})
}

// SaveItems appends readings, skipping rows already present in the file.
func (s *CSVSink) SaveItems(_ context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return storageErr("open csv", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return storageErr("stat csv", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			return storageErr("write csv header", err)
		}
	}

	written := make([]models.Reading, 0, len(readings))
	for i, r := range readings {
		if r.DeviceName == "" || s.known(r) {
			s.logger.Debug("reading rejected", "index", i, "device", r.DeviceName, "timestamp", r.Timestamp)
			continue
		}
		if err := w.Write(csvRow(r)); err != nil {
			s.logger.Debug("reading rejected", "index", i, "device", r.DeviceName, "error", err)
			continue
		}
		s.index(r)
		written = append(written, r)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return storageErr("flush csv", err)
	}

	s.logger.Debug("appended rows", "count", len(written), "skipped", len(readings)-len(written))
	return nil
}

func csvRow(r models.Reading) []string {
	return []string{
		r.DeviceName,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		strconv.FormatBool(r.Online),
		strconv.FormatFloat(r.Temperature, 'f', -1, 64),
		strconv.FormatFloat(r.Humidity, 'f', -1, 64),
	}
}

// LatestItemPerDevice answers from the in-memory index. Only grouping by
// device_name and ordering by timestamp is supported.
func (s *CSVSink) LatestItemPerDevice(_ context.Context, groupKey, orderKey string) ([]models.Reading, error) {
	if groupKey != models.FieldDeviceName || orderKey != models.FieldTimestamp {
		return nil, fmt.Errorf("csv backend cannot group by %q ordered by %q", groupKey, orderKey)
	}

	result := make([]models.Reading, 0, len(s.latest))
	for _, r := range s.latest {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DeviceName < result[j].DeviceName })
	return result, nil
}

// Close is a no-op; the file is opened per write.
func (s *CSVSink) Close() error { return nil }

// LoadCSV reads all readings from a CSV file written by CSVSink. Malformed
// rows are skipped.
func LoadCSV(path string) ([]models.Reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var readings []models.Reading
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) < len(csvHeader) || row[0] == csvHeader[0] {
			continue
		}

		ts, err := time.Parse(time.RFC3339Nano, row[1])
		if err != nil {
			continue
		}
		online, _ := strconv.ParseBool(row[2])
		temperature, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			continue
		}
		humidity, _ := strconv.ParseFloat(row[4], 64)

		readings = append(readings, models.NewReading(row[0], ts, online, temperature, humidity))
	}
	return readings, nil
}
