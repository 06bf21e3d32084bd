// Package postgres provides the Postgres-backed run ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/tender-ingest/internal/tender"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "runs"

// RunLedgerConfig controls the Postgres connection pool used for run rows.
type RunLedgerConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunLedger writes run rows into a table shaped as
// (id text primary key, status text, started_at timestamptz, finished_at timestamptz,
// counters_json jsonb, error_message text).
type RunLedger struct {
	pool  querier
	table string
}

// NewRunLedger connects to Postgres using the provided config.
func NewRunLedger(ctx context.Context, cfg RunLedgerConfig) (*RunLedger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunLedger{pool: pool, table: table}, nil
}

// NewRunLedgerWithPool constructs a ledger from an existing pool (primarily for testing).
func NewRunLedgerWithPool(pool querier, table string) (*RunLedger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunLedger{pool: pool, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (l *RunLedger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// UpsertRun inserts the run row or overwrites its mutable columns. started_at is kept from
// the first insert.
func (l *RunLedger) UpsertRun(ctx context.Context, rec tender.RunRecord) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("run ledger is not configured")
	}
	if rec.ID == "" {
		return fmt.Errorf("run id is required")
	}
	counters := rec.CountersJSON
	if len(counters) == 0 {
		counters = []byte("{}")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, started_at, finished_at, counters_json, error_message)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	finished_at = EXCLUDED.finished_at,
	counters_json = EXCLUDED.counters_json,
	error_message = EXCLUDED.error_message`, l.table)

	args := []any{
		rec.ID,
		string(rec.Status),
		rec.StartedAt,
		rec.FinishedAt,
		counters,
		nullable(rec.ErrorMessage),
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// LastRun returns the most recently started run.
func (l *RunLedger) LastRun(ctx context.Context) (tender.RunRecord, error) {
	if l == nil || l.pool == nil {
		return tender.RunRecord{}, fmt.Errorf("run ledger is not configured")
	}
	query := fmt.Sprintf(`
SELECT id, status, started_at, finished_at, counters_json, error_message
FROM %s
ORDER BY started_at DESC
LIMIT 1`, l.table)

	var (
		rec    tender.RunRecord
		status string
		errMsg *string
	)
	err := l.pool.QueryRow(ctx, query).Scan(&rec.ID, &status, &rec.StartedAt, &rec.FinishedAt, &rec.CountersJSON, &errMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return tender.RunRecord{}, tender.ErrRunNotFound
	}
	if err != nil {
		return tender.RunRecord{}, fmt.Errorf("query last run: %w", err)
	}
	rec.Status = tender.RunStatus(status)
	if errMsg != nil {
		rec.ErrorMessage = *errMsg
	}
	return rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
