package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tender-ingest/internal/tender"
)

func TestUpsertRunWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewRunLedgerWithPool(mock, "runs")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(3 * time.Minute)
	msg := "fetchListings: all listing fetches failed"
	rec := tender.RunRecord{
		ID:           "run-1",
		Status:       tender.RunFailed,
		StartedAt:    started,
		FinishedAt:   &finished,
		CountersJSON: []byte(`{"sources_checked":2}`),
		ErrorMessage: msg,
	}

	mock.ExpectExec(`(?s)INSERT INTO runs .*ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("run-1", "failed", started, &finished, []byte(`{"sources_checked":2}`), &msg).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, ledger.UpsertRun(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRunDefaultsAndErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewRunLedgerWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-2", "running", started, (*time.Time)(nil), []byte("{}"), (*string)(nil)).
		WillReturnError(errors.New("connection reset"))

	err = ledger.UpsertRun(context.Background(), tender.RunRecord{ID: "run-2", Status: tender.RunRunning, StartedAt: started})
	require.ErrorContains(t, err, "upsert run")
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, ledger.UpsertRun(context.Background(), tender.RunRecord{}))
}

func TestLastRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewRunLedgerWithPool(mock, "tender_runs")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)
	mock.ExpectQuery(`(?s)SELECT id, status, started_at, finished_at, counters_json, error_message.*FROM tender_runs`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "started_at", "finished_at", "counters_json", "error_message"}).
			AddRow("run-9", "completed", started, &finished, []byte(`{}`), (*string)(nil)))

	rec, err := ledger.LastRun(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-9", rec.ID)
	require.Equal(t, tender.RunCompleted, rec.Status)
	require.Equal(t, finished, *rec.FinishedAt)
	require.Empty(t, rec.ErrorMessage)

	mock.ExpectQuery("SELECT").WillReturnError(pgx.ErrNoRows)
	_, err = ledger.LastRun(context.Background())
	require.ErrorIs(t, err, tender.ErrRunNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRunLedgerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunLedgerWithPool(nil, "runs")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRunLedgerWithPool(mock, "runs; DROP TABLE runs")
	require.Error(t, err)

	_, err = NewRunLedger(context.Background(), RunLedgerConfig{})
	require.Error(t, err)
}
