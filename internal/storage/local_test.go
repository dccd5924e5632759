package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forkscan/pkg/config"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := "cycles/cycle-0001.json"
	payload := []byte(`{"cycle":1,"freed":900}`)

	require.NoError(t, s.Upload(ctx, key, bytes.NewReader(payload)))

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Download(ctx, key)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, got)

	require.NoError(t, s.Delete(ctx, key))
	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorage_MissingKey(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ok, err := s.Exists(context.Background(), "nope.json")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Download(context.Background(), "nope.json")
	assert.Error(t, err)

	// Deleting a missing key is not an error.
	assert.NoError(t, s.Delete(context.Background(), "nope.json"))
}

func TestLocalStorage_RejectsEscapingKey(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	err = s.Upload(context.Background(), "../outside.json", bytes.NewReader([]byte("x")))
	assert.Error(t, err)
}

func TestNewStorage_Factory(t *testing.T) {
	s, err := NewStorage(&config.ArchiveConfig{Type: "local", LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = NewStorage(&config.ArchiveConfig{Type: "cos"})
	assert.Error(t, err, "cos without credentials must fail")

	_, err = NewStorage(&config.ArchiveConfig{Type: "s3"})
	assert.Error(t, err)
}
