// Package storage persists readings. Every backend keeps (device_name,
// timestamp) unique and tolerates per-item failures in bulk writes.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
)

// Fixed database naming.
const (
	DatabaseName   = "home"
	CollectionName = "temperatures"
)

// Backend names accepted by Open.
const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendCSV      = "csv"
)

// Sink is a storage backend for readings.
type Sink interface {
	// SaveItem stores one reading.
	SaveItem(ctx context.Context, r models.Reading) error
	// SaveItems stores readings without stopping at individual failures. It
	// only errors when the write cannot be attempted. An empty slice is a
	// no-op.
	SaveItems(ctx context.Context, readings []models.Reading) error
	// LatestItemPerDevice returns, for every distinct groupKey value, the
	// reading with the greatest orderKey.
	LatestItemPerDevice(ctx context.Context, groupKey, orderKey string) ([]models.Reading, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend     string
	MongoURL    string
	DatabaseURL string
	SQLitePath  string
	CSVPath     string
}

// Open connects the configured backend and prepares its schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Sink, error) {
	var (
		sink Sink
		err  error
	)
	switch strings.ToLower(cfg.Backend) {
	case BackendMongo, "":
		sink, err = wrap(OpenMongo(ctx, cfg.MongoURL, DatabaseName, CollectionName, logger))
	case BackendPostgres:
		sink, err = wrap(OpenPostgres(ctx, cfg.DatabaseURL, CollectionName, logger))
	case BackendSQLite:
		sink, err = wrap(OpenSQLite(ctx, cfg.SQLitePath, CollectionName, logger))
	case BackendCSV:
		sink, err = wrap(OpenCSV(cfg.CSVPath, logger))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// wrap keeps a failed constructor from yielding a non-nil Sink holding a nil
// pointer.
func wrap[S Sink](s S, err error) (Sink, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

var sqlColumns = map[string]string{
	models.FieldDeviceName:  "device_name",
	models.FieldTimestamp:   "ts",
	models.FieldOnline:      "online",
	models.FieldTemperature: "temperature",
	models.FieldHumidity:    "humidity",
}

// column maps a reading field to its SQL column. Field names end up inside
// query text, so only known fields pass.
func column(field string) (string, error) {
	col, ok := sqlColumns[field]
	if !ok {
		return "", fmt.Errorf("unknown reading field %q", field)
	}
	return col, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrStorage, op, err)
}
