package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

func TestRunStateStoreLastRunStartedAt(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStateStore(mock, "")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT started_at FROM harvest_state").
		WithArgs(RunStateKey).
		WillReturnRows(pgxmock.NewRows([]string{"started_at"}).AddRow(started))

	got, ok, err := store.LastRunStartedAt(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(started))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStateStoreAbsentRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStateStore(mock, "harvest_state")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT started_at FROM harvest_state").
		WithArgs(RunStateKey).
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.LastRunStartedAt(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStateStoreQueryError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStateStore(mock, "harvest_state")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT started_at").
		WithArgs(RunStateKey).
		WillReturnError(errors.New("connection refused"))

	_, _, err = store.LastRunStartedAt(context.Background())
	require.ErrorContains(t, err, "select run state")
}

func TestRunStateStoreMarkRunStarted(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStateStore(mock, "harvest_state")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO harvest_state").
		WithArgs(RunStateKey, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.MarkRunStarted(context.Background(), at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStateStoreMarkRunStartedStale(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStateStore(mock, "harvest_state")
	require.NoError(t, err)

	at := time.Unix(1600000000, 0).UTC()
	mock.ExpectExec("INSERT INTO harvest_state").
		WithArgs(RunStateKey, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err = store.MarkRunStarted(context.Background(), at)
	require.ErrorIs(t, err, harvest.ErrStaleRunState)
}

func TestNewRunStateStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunStateStore(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStateStore(mock, "state; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")
}

func TestNewPoolRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewPool(context.Background(), PoolConfig{})
	require.Error(t, err)
}
