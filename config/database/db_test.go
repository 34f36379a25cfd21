package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForPing_RetriesUntilReachable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("dial tcp: lookup db: no such host"))
	mock.ExpectPing().WillReturnError(errors.New("dial tcp: i/o timeout"))
	mock.ExpectPing()

	require.NoError(t, WaitForPing(context.Background(), db, 5, time.Millisecond))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitForPing_GivesUp(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	down := errors.New("connection refused")
	for i := 0; i < 3; i++ {
		mock.ExpectPing().WillReturnError(down)
	}

	err = WaitForPing(context.Background(), db, 2, time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, down)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS collab_versions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS collab_versions_document_idx").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
