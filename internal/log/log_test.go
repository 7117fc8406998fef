package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLog_WritesCategoryAndFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "debug")
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}, "info") })

	Info(CatSession, "iteration finished", "session", "abc", "tokens", 42)

	out := buf.String()
	require.Contains(t, out, "[INFO]")
	require.Contains(t, out, "[session]")
	require.Contains(t, out, "iteration finished")
	require.Contains(t, out, "session=abc")
	require.Contains(t, out, "tokens=42")
}

func TestLog_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "warn")
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}, "info") })

	Debug(CatGit, "hidden")
	Info(CatGit, "also hidden")
	Warn(CatGit, "visible")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "[WARN]")
}

func TestLog_ErrorErr_AttachesError(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "info")
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}, "info") })

	ErrorErr(CatDB, "save failed", errors.New("disk full"), "id", "s1")

	out := buf.String()
	require.Contains(t, out, "[ERROR]")
	require.Contains(t, out, "error=disk full")
	require.Contains(t, out, "id=s1")
}

func TestLog_OddKeyValuesMarkedMissing(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "info")
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}, "info") })

	Info(CatOrch, "odd", "dangling")
	require.Contains(t, buf.String(), "dangling=(missing)")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	buf := &lockedBuffer{}
	SetOutput(buf, "info")
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}, "info") })

	done := make(chan struct{})
	SafeGo("boom", func() {
		defer close(done)
		panic("kaboom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "kaboom")
	}, time.Second, 10*time.Millisecond)
}

func TestInit_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ralph.log")
	off := false
	cleanup, err := Init(Options{Level: "debug", File: path, Stderr: &off})
	require.NoError(t, err)

	Debug(CatConfig, "loaded config", "path", "x.yaml")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "loaded config")
}

func TestInit_InvalidLevel(t *testing.T) {
	t.Setenv("RALPH_LOG_LEVEL", "")
	_, err := Init(Options{Level: "chatty"})
	require.Error(t, err)
}
