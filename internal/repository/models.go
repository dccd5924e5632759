// Package repository persists collection-cycle history.
package repository

import (
	"time"
)

// CycleRecord represents the gc_cycle table: one row per completed
// collection cycle. History is advisory; a failed insert never aborts a
// cycle.
type CycleRecord struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Cycle        int64     `gorm:"column:cycle;index"`
	Candidates   int       `gorm:"column:candidates"`
	Freed        int       `gorm:"column:freed"`
	Survivors    int       `gorm:"column:survivors"`
	BytesScanned uint64    `gorm:"column:bytes_scanned"`
	ChildPid     int       `gorm:"column:child_pid"`
	AggregateUs  int64     `gorm:"column:aggregate_us"`
	BarrierUs    int64     `gorm:"column:barrier_us"`
	ScanUs       int64     `gorm:"column:scan_us"`
	SweepUs      int64     `gorm:"column:sweep_us"`
	CreateTime   time.Time `gorm:"column:create_time;autoCreateTime"`
}

// TableName returns the table name for CycleRecord.
func (CycleRecord) TableName() string {
	return "gc_cycle"
}
