package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTriggersOnceFilesSettle(t *testing.T) {
	dir := t.TempDir()
	got := make(chan []string, 1)

	w, err := New(Config{Dir: dir, Pattern: "NCR*.xlsx", Settle: 200 * time.Millisecond},
		func(ctx context.Context, files []string) error {
			select {
			case got <- files:
			case <-ctx.Done():
			}
			return nil
		})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "NCR20240314.xlsx"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "NCR20240315.xlsx"), []byte("b"), 0644))

	select {
	case files := <-got:
		assert.Equal(t, []string{
			filepath.Join(dir, "NCR20240314.xlsx"),
			filepath.Join(dir, "NCR20240315.xlsx"),
		}, files)
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not fire")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestTriggerErrorStopsWatcher(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("run failed")

	w, err := New(Config{Dir: dir, Settle: 20 * time.Millisecond},
		func(ctx context.Context, files []string) error { return boom })
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "NCR20240315.xlsx"), []byte("a"), 0644))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(Config{Dir: t.TempDir(), Pattern: "[unterminated"}, nil)
	assert.Error(t, err)

	_, err = New(Config{Dir: filepath.Join(t.TempDir(), "missing")}, nil)
	assert.Error(t, err)
}
