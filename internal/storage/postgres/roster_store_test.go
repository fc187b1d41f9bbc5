package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

func TestRosterStoreListTargets(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRosterStore(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT identity_key, COALESCE\\(source_url, ''\\)").
		WillReturnRows(pgxmock.NewRows([]string{"identity_key", "source_url"}).
			AddRow("ada", "https://scholar.example/ada").
			AddRow("grace", ""))

	targets, err := store.ListTargets(context.Background())
	require.NoError(t, err)
	require.Equal(t, []harvest.ProfileTarget{
		{IdentityKey: "ada", SourceURL: "https://scholar.example/ada"},
		{IdentityKey: "grace", SourceURL: ""},
	}, targets)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterStoreQueryError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRosterStore(mock, "profiles")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT identity_key").WillReturnError(errors.New("boom"))

	_, err = store.ListTargets(context.Background())
	require.ErrorContains(t, err, "query roster")
}
