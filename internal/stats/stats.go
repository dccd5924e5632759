// Package stats accumulates per-cycle collection statistics.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// CycleStats describes one completed collection cycle.
type CycleStats struct {
	Cycle        int64
	Candidates   int
	Freed        int
	Survivors    int
	BytesScanned uint64
	ChildPid     int

	AggregateTime time.Duration
	BarrierTime   time.Duration
	ScanTime      time.Duration
	SweepTime     time.Duration
}

// Stats aggregates statistics across cycles.
type Stats struct {
	mu sync.Mutex

	forks        int64
	cycles       int64
	candidates   int64
	freed        int64
	survivors    int64
	bytesScanned uint64
	peakScanned  uint64
}

// New creates an empty Stats.
func New() *Stats {
	return &Stats{}
}

// RecordFork counts one snapshot fork.
func (s *Stats) RecordFork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forks++
}

// RecordCycle folds one completed cycle into the totals.
func (s *Stats) RecordCycle(c CycleStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	s.candidates += int64(c.Candidates)
	s.freed += int64(c.Freed)
	s.survivors = int64(c.Survivors)
	s.bytesScanned += c.BytesScanned
	if c.BytesScanned > s.peakScanned {
		s.peakScanned = c.BytesScanned
	}
}

// Forks returns the cumulative fork count.
func (s *Stats) Forks() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forks
}

// Cycles returns the number of completed cycles.
func (s *Stats) Cycles() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

// PeakBytesScanned returns the largest bytes-scanned total of any cycle.
func (s *Stats) PeakBytesScanned() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakScanned
}

// TotalFreed returns the cumulative number of freed blocks.
func (s *Stats) TotalFreed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freed
}

// Report formats the statistics the way the collector prints them on
// shutdown: process memory, fork count and the scan peak.
func (s *Stats) Report() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "statm: %s\n", readStatm())
	fmt.Fprintf(&b, "forks: %d\n", s.forks)
	fmt.Fprintf(&b, "cycles: %d\n", s.cycles)
	fmt.Fprintf(&b, "candidates: %d freed: %d outstanding: %d\n", s.candidates, s.freed, s.survivors)
	fmt.Fprintf(&b, "peak bytes scanned: %d\n", s.peakScanned)
	return b.String()
}
