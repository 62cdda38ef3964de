package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-ventilation/internal/models"
)

func setupMockHistoryDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresOccupancyHistory) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewPostgresOccupancyHistory(db, zap.NewNop())
	return db, mock, repo
}

func TestPostgresHistory_Append(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	ts := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO occupancy_history`).
		WithArgs(ts, "USER_CONFIRMED_AWAY", 0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Append(context.Background(), models.OccupancyRecord{
		Timestamp: ts,
		Status:    models.StatusUserConfirmedAway,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHistory_LoadAll_SkipsUnknownStatus(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	t1 := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)
	rows := sqlmock.NewRows([]string{"recorded_at", "status", "people_count"}).
		AddRow(t1, "OCCUPIED", 2).
		AddRow(t2, "BOGUS", 0).
		AddRow(t2, "EMPTY", 0)

	mock.ExpectQuery(`SELECT recorded_at, status, people_count`).WillReturnRows(rows)

	records, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.StatusOccupied, records[0].Status)
	assert.Equal(t, 2, records[0].PeopleCount)
	assert.Equal(t, models.StatusEmpty, records[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHistory_LastModified(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery(`SELECT MAX\(recorded_at\)`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	last, err := repo.LastModified(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	ts := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT MAX\(recorded_at\)`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(ts))
	last, err = repo.LastModified(ctx)
	require.NoError(t, err)
	assert.Equal(t, ts, last)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHistory_EnsureSchema(t *testing.T) {
	db, mock, repo := setupMockHistoryDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS occupancy_history`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
