//go:build !linux

package cmd

import (
	"fmt"

	"github.com/forkscan/internal/gc/collector"
)

// newEngineCollector builds the collector. Fork snapshots need per-thread
// signal delivery and clone; only the in-process scan is available here.
func newEngineCollector(opts collector.Options, useFork bool) (*collector.Collector, error) {
	if useFork {
		return nil, fmt.Errorf("fork snapshots are only supported on linux")
	}
	return collector.NewInProcess(opts), nil
}
