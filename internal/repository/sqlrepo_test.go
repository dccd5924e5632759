package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLCycleRepository_SaveCycle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLCycleRepository(db)

	mock.ExpectExec("INSERT INTO gc_cycle").
		WithArgs(int64(7), 1000, 900, 100, uint64(1<<20), 4242, int64(10), int64(20), int64(30), int64(40)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := &CycleRecord{
		Cycle: 7, Candidates: 1000, Freed: 900, Survivors: 100,
		BytesScanned: 1 << 20, ChildPid: 4242,
		AggregateUs: 10, BarrierUs: 20, ScanUs: 30, SweepUs: 40,
	}
	require.NoError(t, repo.SaveCycle(context.Background(), rec))
	assert.Equal(t, int64(1), rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCycleRepository_RecentCycles(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLCycleRepository(db)

	rows := sqlmock.NewRows([]string{
		"id", "cycle", "candidates", "freed", "survivors", "bytes_scanned",
		"child_pid", "aggregate_us", "barrier_us", "scan_us", "sweep_us", "create_time",
	}).
		AddRow(int64(2), int64(9), 50, 50, 0, uint64(2048), 100, int64(1), int64(2), int64(3), int64(4), time.Now()).
		AddRow(int64(1), int64(8), 10, 5, 5, uint64(1024), 99, int64(1), int64(2), int64(3), int64(4), time.Now())

	mock.ExpectQuery("SELECT id, cycle").WillReturnRows(rows)

	recs, err := repo.RecentCycles(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(9), recs[0].Cycle)
	assert.Equal(t, int64(8), recs[1].Cycle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCycleRepository_CycleCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLCycleRepository(db)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

	count, err := repo.CycleCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestSQLCycleRepository_PurgeBefore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLCycleRepository(db)

	mock.ExpectExec("DELETE FROM gc_cycle").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := repo.PurgeBefore(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
}
