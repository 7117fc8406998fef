//go:build !windows

package client

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// lineParser decodes {"type":..., "result":...} records for tests.
type lineParser struct{}

func (lineParser) ParseEvent(data []byte) (OutputEvent, error) {
	var raw struct {
		Type   EventType `json:"type"`
		Result string    `json:"result"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return OutputEvent{}, err
	}
	if raw.Type == "noise" {
		return OutputEvent{}, ErrSkipEvent
	}
	return OutputEvent{Type: raw.Type, Result: raw.Result}, nil
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func spawnScript(t *testing.T, ctx context.Context, body string, timeout, grace time.Duration) *BaseProcess {
	t.Helper()
	p, err := NewSpawnBuilder(ctx).
		WithExecutable(writeScript(t, body), nil).
		WithWorkDir(t.TempDir()).
		WithParser(lineParser{}).
		WithProviderName("test").
		WithTimeout(timeout).
		WithGracePeriod(grace).
		Build()
	require.NoError(t, err)
	return p
}

func collect(p HeadlessProcess) []OutputEvent {
	var out []OutputEvent
	for e := range p.Events() {
		out = append(out, e)
	}
	return out
}

func TestProcess_StreamsEventsUntilExit(t *testing.T) {
	p := spawnScript(t, context.Background(), `
echo '{"type":"assistant"}'
echo 'not json'
echo '{"type":"noise"}'
echo ''
echo '{"type":"result","result":"done"}'
`, 5*time.Second, time.Second)

	events := collect(p)
	require.Len(t, events, 2)
	require.Equal(t, EventAssistant, events[0].Type)
	require.True(t, events[1].IsTerminal())
	require.Equal(t, "done", events[1].Result)

	res := p.Wait()
	require.NoError(t, res.Err)
	require.Equal(t, 0, res.ExitCode)
	require.False(t, res.TimedOut)
	require.False(t, res.Cancelled)
}

func TestProcess_NonZeroExit(t *testing.T) {
	p := spawnScript(t, context.Background(), `echo "bad things" >&2; exit 3`, 5*time.Second, time.Second)
	require.Empty(t, collect(p))

	res := p.Wait()
	require.Equal(t, 3, res.ExitCode)

	var perr *ProcessError
	require.True(t, errors.As(res.Err, &perr))
	require.Equal(t, FailureExit, perr.Category)
	require.Contains(t, perr.Error(), "bad things")
	require.Contains(t, res.Stderr, "bad things")
}

func TestProcess_Timeout(t *testing.T) {
	p := spawnScript(t, context.Background(), `sleep 30`, 200*time.Millisecond, 500*time.Millisecond)
	collect(p)

	res := p.Wait()
	require.True(t, res.TimedOut)
	var perr *ProcessError
	require.True(t, errors.As(res.Err, &perr))
	require.Equal(t, FailureTimeout, perr.Category)
	require.Less(t, res.Duration, 10*time.Second)
}

func TestProcess_BackgroundChildDoesNotHoldStream(t *testing.T) {
	p := spawnScript(t, context.Background(), `sleep 30 &
echo '{"type":"result","result":"done"}'
exit 0`, 3*time.Second, 200*time.Millisecond)

	start := time.Now()
	events := collect(p)
	require.Len(t, events, 1)
	require.True(t, events[0].IsTerminal())

	res := p.Wait()
	require.Less(t, time.Since(start), 2*time.Second)
	require.NoError(t, res.Err)
	require.Equal(t, 0, res.ExitCode)
	require.False(t, res.TimedOut)
}

func TestProcess_CancelEscalatesToKill(t *testing.T) {
	p := spawnScript(t, context.Background(), `trap '' TERM
echo '{"type":"assistant"}'
sleep 30`, time.Minute, 200*time.Millisecond)

	first := <-p.Events()
	require.Equal(t, EventAssistant, first.Type)

	start := time.Now()
	p.Cancel()
	p.Cancel()

	res := p.Wait()
	require.True(t, res.Cancelled)
	require.Less(t, time.Since(start), 10*time.Second)
	require.Error(t, res.Err)
}

func TestProcess_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := spawnScript(t, ctx, `sleep 30`, time.Minute, 200*time.Millisecond)

	cancel()
	res := p.Wait()
	require.True(t, res.Cancelled)
}

func TestProcess_UnreadEventsDoNotBlockCancel(t *testing.T) {
	p := spawnScript(t, context.Background(), `i=0
while [ $i -lt 500 ]; do echo '{"type":"assistant"}'; i=$((i+1)); done
sleep 30`, time.Minute, 200*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	p.Cancel()

	done := make(chan Result)
	go func() { done <- p.Wait() }()
	select {
	case res := <-done:
		require.True(t, res.Cancelled)
	case <-time.After(10 * time.Second):
		t.Fatal("Wait blocked after Cancel")
	}
}

func TestSpawnBuilder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		builder func() *SpawnBuilder
	}{
		{"missing executable", func() *SpawnBuilder {
			return NewSpawnBuilder(context.Background()).WithParser(lineParser{})
		}},
		{"missing parser", func() *SpawnBuilder {
			return NewSpawnBuilder(context.Background()).WithExecutable("/bin/true", nil)
		}},
		{"nonexistent executable", func() *SpawnBuilder {
			return NewSpawnBuilder(context.Background()).
				WithExecutable("/definitely/not/here", nil).
				WithParser(lineParser{})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder().Build()
			var perr *ProcessError
			require.True(t, errors.As(err, &perr))
			require.Equal(t, FailureSpawn, perr.Category)
		})
	}
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	b := &tailBuffer{limit: 5}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defgh"))
	require.Equal(t, "defgh", b.String())
}
