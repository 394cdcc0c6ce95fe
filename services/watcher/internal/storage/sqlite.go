package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"

	_ "modernc.org/sqlite"
)

// Fixed width so that text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteSink stores readings in a local SQLite database.
type SQLiteSink struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

// OpenSQLite opens the database file, creating directories as needed.
func OpenSQLite(ctx context.Context, path, table string, logger *slog.Logger) (*SQLiteSink, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, storageErr("open sqlite", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &SQLiteSink{db: db, table: table, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("sqlite database opened", "path", path, "table", table)
	return s, nil
}

func (s *SQLiteSink) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_name TEXT NOT NULL,
			ts TEXT NOT NULL,
			online INTEGER NOT NULL,
			temperature REAL NOT NULL,
			humidity REAL NOT NULL,
			ingested_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_` + s.table + `_device_ts ON ` + s.table + `(device_name, ts);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("init schema", err)
		}
	}
	return nil
}

func (s *SQLiteSink) insert(ctx context.Context, r models.Reading) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO `+s.table+` (device_name, ts, online, temperature, humidity) VALUES (?, ?, ?, ?, ?);`,
		r.DeviceName,
		r.Timestamp.UTC().Format(sqliteTimeLayout),
		r.Online,
		r.Temperature,
		r.Humidity,
	)
	return err
}

// SaveItem inserts one reading.
func (s *SQLiteSink) SaveItem(ctx context.Context, r models.Reading) error {
	if err := s.insert(ctx, r); err != nil {
		return storageErr("insert reading", err)
	}
	return nil
}

// SaveItems inserts readings one by one. A rejected row is logged and the
// remaining rows are still written.
func (s *SQLiteSink) SaveItems(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping sqlite", err)
	}

	failed := 0
	for i, r := range readings {
		if err := s.insert(ctx, r); err != nil {
			failed++
			s.logger.Debug("reading rejected", "index", i, "device", r.DeviceName, "error", err)
		}
	}
	if failed > 0 {
		s.logger.Debug("partial insert", "attempted", len(readings), "failed", failed)
	}
	return nil
}

// LatestItemPerDevice ranks rows per group and keeps the first.
func (s *SQLiteSink) LatestItemPerDevice(ctx context.Context, groupKey, orderKey string) ([]models.Reading, error) {
	group, err := column(groupKey)
	if err != nil {
		return nil, err
	}
	order, err := column(orderKey)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT device_name, ts, online, temperature, humidity FROM (
	SELECT device_name, ts, online, temperature, humidity,
		ROW_NUMBER() OVER (PARTITION BY `+group+` ORDER BY `+order+` DESC) AS rn
	FROM `+s.table+`
) WHERE rn = 1 ORDER BY device_name;`)
	if err != nil {
		return nil, storageErr("query latest readings", err)
	}
	defer rows.Close()

	result := make([]models.Reading, 0)
	for rows.Next() {
		var (
			name        string
			ts          string
			online      bool
			temperature float64
			humidity    float64
		)
		if err := rows.Scan(&name, &ts, &online, &temperature, &humidity); err != nil {
			return nil, storageErr("scan latest reading", err)
		}
		parsed, err := time.Parse(sqliteTimeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse stored timestamp %q: %w", ts, err)
		}
		result = append(result, models.NewReading(name, parsed, online, temperature, humidity))
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query latest readings", err)
	}
	return result, nil
}

// Close releases the underlying database handle.
func (s *SQLiteSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
