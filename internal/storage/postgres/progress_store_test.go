package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/arkival/seqscan/internal/scrape"
)

func TestReadProgressInitializesAndReadsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProgressStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO scrape_progress").
		WithArgs(progressRowID, scrape.StatusIdle, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT last_processed_id, status").
		WithArgs(progressRowID).
		WillReturnRows(pgxmock.NewRows([]string{
			"last_processed_id", "status", "error_message", "updated_at",
		}).AddRow(int64(1234), scrape.StatusRunning, "", now))

	p, err := store.ReadProgress(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1234), p.LastProcessedID)
	require.Equal(t, scrape.StatusRunning, p.Status)
	require.Empty(t, p.ErrorMessage)
	require.Equal(t, now, p.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteProgressUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProgressStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000500, 0).UTC()

	mock.ExpectExec("INSERT INTO scrape_progress").
		WithArgs(progressRowID, int64(5000), scrape.StatusError, "too many errors", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.WriteProgress(context.Background(), scrape.Progress{
		LastProcessedID: 5000,
		Status:          scrape.StatusError,
		ErrorMessage:    "too many errors",
		UpdatedAt:       now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadProgressPropagatesInitFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProgressStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO scrape_progress").
		WillReturnError(errors.New("connection refused"))

	_, err = store.ReadProgress(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "initialize progress row")
}

func TestWriteProgressPropagatesExecFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProgressStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO scrape_progress").
		WillReturnError(errors.New("connection refused"))

	err = store.WriteProgress(context.Background(), scrape.Progress{Status: scrape.StatusIdle})
	require.Error(t, err)
}
