package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Phase represents a single timed phase of a collection cycle.
type Phase struct {
	Name     string
	Start    time.Time
	Duration time.Duration
}

// CycleTimer records the durations of the phases making up one collection
// cycle (aggregate, barrier, scan, sweep). Phases are reported in the order
// they were started.
type CycleTimer struct {
	mu     sync.Mutex
	phases []Phase
	open   map[string]int
}

// NewCycleTimer creates a new CycleTimer.
func NewCycleTimer() *CycleTimer {
	return &CycleTimer{
		open: make(map[string]int),
	}
}

// StartPhase begins timing the named phase.
func (t *CycleTimer) StartPhase(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open[name] = len(t.phases)
	t.phases = append(t.phases, Phase{Name: name, Start: time.Now()})
}

// EndPhase stops timing the named phase. Unknown names are ignored.
func (t *CycleTimer) EndPhase(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.open[name]
	if !ok {
		return 0
	}
	delete(t.open, name)
	t.phases[idx].Duration = time.Since(t.phases[idx].Start)
	return t.phases[idx].Duration
}

// PhaseDuration returns the recorded duration of the named phase.
func (t *CycleTimer) PhaseDuration(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.phases) - 1; i >= 0; i-- {
		if t.phases[i].Name == name {
			return t.phases[i].Duration
		}
	}
	return 0
}

// Total returns the sum of all completed phase durations.
func (t *CycleTimer) Total() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total time.Duration
	for _, p := range t.phases {
		total += p.Duration
	}
	return total
}

// Summary returns a one-line summary of all completed phases.
func (t *CycleTimer) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := make([]string, 0, len(t.phases))
	for _, p := range t.phases {
		parts = append(parts, fmt.Sprintf("%s=%v", p.Name, p.Duration))
	}
	return strings.Join(parts, " ")
}

// Reset clears all recorded phases so the timer can be reused for the
// next cycle.
func (t *CycleTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases = t.phases[:0]
	t.open = make(map[string]int)
}
