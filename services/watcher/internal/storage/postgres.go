package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
)

// PostgresSink stores readings in a PostgreSQL table.
type PostgresSink struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

// OpenPostgres connects and creates the table and its unique index.
func OpenPostgres(ctx context.Context, databaseURL, table string, logger *slog.Logger) (*PostgresSink, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, storageErr("connect postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storageErr("ping postgres", err)
	}

	s := &PostgresSink{pool: pool, table: pgx.Identifier{table}.Sanitize(), logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("postgres connection established", "table", table)
	return s, nil
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
    device_name TEXT NOT NULL,
    ts TIMESTAMPTZ NOT NULL,
    online BOOLEAN NOT NULL,
    temperature DOUBLE PRECISION NOT NULL,
    humidity DOUBLE PRECISION NOT NULL,
    ingested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (device_name, ts)
)`,
		`CREATE INDEX IF NOT EXISTS temperatures_device_ts_desc ON ` + s.table + ` (device_name, ts DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return storageErr("init schema", err)
		}
	}
	return nil
}

func (s *PostgresSink) insertSQL() string {
	return `INSERT INTO ` + s.table + ` (device_name, ts, online, temperature, humidity)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (device_name, ts) DO NOTHING`
}

// SaveItem inserts one reading; an existing (device_name, ts) row is kept.
func (s *PostgresSink) SaveItem(ctx context.Context, r models.Reading) error {
	if _, err := s.pool.Exec(ctx, s.insertSQL(), r.DeviceName, r.Timestamp, r.Online, r.Temperature, r.Humidity); err != nil {
		return storageErr("insert reading", err)
	}
	return nil
}

// SaveItems inserts readings in one batch. Conflicting rows are skipped by the
// unique constraint, so a batch error means the connection failed.
func (s *PostgresSink) SaveItems(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := s.insertSQL()
	for _, r := range readings {
		batch.Queue(query, r.DeviceName, r.Timestamp, r.Online, r.Temperature, r.Humidity)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	inserted := int64(0)
	for range readings {
		tag, err := res.Exec()
		if err != nil {
			return storageErr("insert readings", err)
		}
		inserted += tag.RowsAffected()
	}

	if skipped := int64(len(readings)) - inserted; skipped > 0 {
		s.logger.Debug("skipped existing readings", "count", skipped)
	}
	return nil
}

// LatestItemPerDevice loads the most recent row per group.
func (s *PostgresSink) LatestItemPerDevice(ctx context.Context, groupKey, orderKey string) ([]models.Reading, error) {
	group, err := column(groupKey)
	if err != nil {
		return nil, err
	}
	order, err := column(orderKey)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (`+group+`) device_name, ts, online, temperature, humidity
FROM `+s.table+`
ORDER BY `+group+`, `+order+` DESC`)
	if err != nil {
		return nil, storageErr("query latest readings", err)
	}
	defer rows.Close()

	result := make([]models.Reading, 0)
	for rows.Next() {
		var r models.Reading
		if err := rows.Scan(&r.DeviceName, &r.Timestamp, &r.Online, &r.Temperature, &r.Humidity); err != nil {
			return nil, storageErr("scan latest reading", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query latest readings", err)
	}
	return result, nil
}

// Close releases the pool.
func (s *PostgresSink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
