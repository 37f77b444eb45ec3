package dataset

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnChange(t *testing.T) {
	csvPath, summaryPath, mappingPath := writeTestFiles(t)
	store := NewStore(csvPath, summaryPath, mappingPath)
	require.NoError(t, store.Load())
	require.Len(t, store.Snapshot().Records, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.Watch(ctx, func() { reloads.Add(1) })
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)

	updated := testCSV + "Delta,Brand Equity,Power,H1'25,Total,7.5\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		return reloads.Load() >= 1
	}, 5*time.Second, 50*time.Millisecond)

	assert.Len(t, store.Snapshot().Records, 5)
	assert.Contains(t, store.Snapshot().Brands(), "Delta")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	csvPath, summaryPath, mappingPath := writeTestFiles(t)
	store := NewStore(csvPath, summaryPath, mappingPath)
	require.NoError(t, store.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	go func() { _ = store.Watch(ctx, func() { reloads.Add(1) }) }()
	time.Sleep(100 * time.Millisecond)

	other := csvPath + ".tmp"
	require.NoError(t, os.WriteFile(other, []byte("unrelated"), 0o644))

	time.Sleep(time.Second)
	assert.Zero(t, reloads.Load())
}
