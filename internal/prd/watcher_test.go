package prd

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_ReportsExternalEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.json")
	require.NoError(t, Save(path, samplePrd()))

	var calls atomic.Int32
	w, err := NewWatcher(path, 10*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	edited := samplePrd()
	edited.Stories[0].Notes = "edited by hand"
	require.NoError(t, Save(path, edited))

	require.Eventually(t, func() bool { return calls.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.json")

	var calls atomic.Int32
	w, err := NewWatcher(path, 10*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0600))
	time.Sleep(100 * time.Millisecond)
	require.Zero(t, calls.Load())
}
