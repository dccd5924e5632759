package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLCycleRepository implements CycleRepository over a plain *sql.DB. It is
// used by tooling that inspects an existing history database without
// pulling in the ORM layer.
type SQLCycleRepository struct {
	db *sql.DB
}

// NewSQLCycleRepository creates a new SQLCycleRepository.
func NewSQLCycleRepository(db *sql.DB) *SQLCycleRepository {
	return &SQLCycleRepository{db: db}
}

// SaveCycle inserts the record of one completed cycle.
func (r *SQLCycleRepository) SaveCycle(ctx context.Context, rec *CycleRecord) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO gc_cycle (cycle, candidates, freed, survivors, bytes_scanned, child_pid, aggregate_us, barrier_us, scan_us, sweep_us)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Cycle, rec.Candidates, rec.Freed, rec.Survivors, rec.BytesScanned,
		rec.ChildPid, rec.AggregateUs, rec.BarrierUs, rec.ScanUs, rec.SweepUs,
	)
	if err != nil {
		return fmt.Errorf("failed to save cycle record: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// RecentCycles retrieves the most recent cycle records, newest first.
func (r *SQLCycleRepository) RecentCycles(ctx context.Context, limit int) ([]*CycleRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, cycle, candidates, freed, survivors, bytes_scanned, child_pid, aggregate_us, barrier_us, scan_us, sweep_us, create_time
		 FROM gc_cycle ORDER BY cycle DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle records: %w", err)
	}
	defer rows.Close()

	var recs []*CycleRecord
	for rows.Next() {
		rec := &CycleRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.Cycle, &rec.Candidates, &rec.Freed, &rec.Survivors,
			&rec.BytesScanned, &rec.ChildPid, &rec.AggregateUs, &rec.BarrierUs,
			&rec.ScanUs, &rec.SweepUs, &rec.CreateTime,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cycle record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CycleCount returns the number of stored cycle records.
func (r *SQLCycleRepository) CycleCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gc_cycle`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cycle records: %w", err)
	}
	return count, nil
}

// PurgeBefore deletes records older than the cutoff cycle.
func (r *SQLCycleRepository) PurgeBefore(ctx context.Context, cutoffCycle int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM gc_cycle WHERE cycle < ?`, cutoffCycle)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cycle records: %w", err)
	}
	return res.RowsAffected()
}
