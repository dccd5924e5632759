//go:build linux

package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/forkscan/internal/gc/collector"
)

// newEngineCollector builds the collector, using the fork snapshot path
// when requested. The checkpoint signal is routed through os/signal so its
// delivery cannot terminate the process.
func newEngineCollector(opts collector.Options, useFork bool) (*collector.Collector, error) {
	if !useFork {
		return collector.NewInProcess(opts), nil
	}

	sig := syscall.Signal(cfg.Engine.CheckpointSignal)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)

	return collector.New(opts, sig), nil
}
