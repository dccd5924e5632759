package utils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(LevelWarn, &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	assert.Empty(t, buf.String())

	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	assert.Contains(t, out, "WARN warn message")
	assert.Contains(t, out, "ERROR error message")
}

func TestTextLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(LevelError, &buf)

	logger.Info("dropped")
	assert.Empty(t, buf.String())

	logger.SetLevel(LevelDebug)
	logger.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestTextLogger_Formatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(LevelInfo, &buf)

	logger.Info("cycle %d freed %d blocks", 3, 900)
	assert.Contains(t, buf.String(), "cycle 3 freed 900 blocks")
}

func TestTextLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(LevelInfo, &buf)

	cycleLog := logger.With(Cycle(7), Blocks("candidates", 1000))
	cycleLog.Info("sweep done")

	out := buf.String()
	assert.Contains(t, out, "cycle=7")
	assert.Contains(t, out, "candidates=1000")
	assert.Contains(t, out, "sweep done")

	// The parent logger is unaffected.
	buf.Reset()
	logger.Info("bare")
	assert.NotContains(t, buf.String(), "cycle=7")
}

func TestTextLogger_WithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(LevelInfo, &buf).With(Cycle(1))

	a := logger.With(F("worker", 1))
	b := logger.With(F("worker", 2))
	a.Info("a")
	b.Info("b")

	out := buf.String()
	assert.Contains(t, out, "cycle=1 worker=1 a")
	assert.Contains(t, out, "cycle=1 worker=2 b")
}

func TestDomainFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(LevelInfo, &buf)

	logger.With(ScannedBytes(1 << 20)).Info("child exited")
	assert.Contains(t, buf.String(), "scanned_bytes=1048576")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLogLevel("WARNING"))
	assert.Equal(t, LevelError, ParseLogLevel("Error"))
	assert.Equal(t, LevelInfo, ParseLogLevel("bogus"))
}

func TestDiscard(t *testing.T) {
	Discard.Info("dropped")
	assert.Equal(t, Discard, Discard.With(Cycle(1)))
}

func TestDefaultLogger(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	SetDefault(Discard)
	assert.Equal(t, Discard, Default())

	// nil is rejected, the previous logger stays.
	SetDefault(nil)
	assert.Equal(t, Discard, Default())
}
