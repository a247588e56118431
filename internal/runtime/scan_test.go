package runtime

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestScanAllReadsEveryRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, name FROM person").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "ada").
			AddRow(int64(2), "grace"))

	raw, err := scanAll(db.Query("SELECT id, name FROM person"))
	require.NoError(t, err)
	require.Len(t, raw, 2)
	require.Equal(t, int64(1), raw[0][0])
	require.Equal(t, "ada", raw[0][1])
	require.Equal(t, "grace", raw[1][1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanAllPropagatesQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	queryErr := errors.New("locked")
	mock.ExpectQuery("SELECT 1").WillReturnError(queryErr)

	_, err = scanAll(db.Query("SELECT 1"))
	require.ErrorIs(t, err, queryErr)
}
