//go:build !windows

package cursor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ralph/internal/orchestration/client"
)

// fakeAgent writes a cursor-agent stand-in that echoes its arguments into
// args.txt and then prints body.
func fakeAgent(t *testing.T, body string) (exe, dir string) {
	t.Helper()
	dir = t.TempDir()
	exe = filepath.Join(dir, "cursor-agent")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > \"" + filepath.Join(dir, "args.txt") + "\"\n" + body + "\n"
	require.NoError(t, os.WriteFile(exe, []byte(script), 0755))
	return exe, dir
}

func TestSpawn_StreamsParsedEvents(t *testing.T) {
	exe, dir := fakeAgent(t, `
echo '{"type":"system","subtype":"init","session_id":"s1"}'
echo '{"type":"thinking","subtype":"delta"}'
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"<ralph>COMPLETE</ralph>"}]}}'
echo '{"type":"result","subtype":"success","result":"ok"}'
`)

	proc, err := NewClient().Spawn(context.Background(), client.Config{
		WorkDir:         dir,
		Prompt:          "implement US-001",
		Model:           "opus-4.5-thinking",
		SkipPermissions: true,
		Executable:      exe,
		Timeout:         5 * time.Second,
		GracePeriod:     time.Second,
	})
	require.NoError(t, err)
	require.Positive(t, proc.PID())

	var events []client.OutputEvent
	for e := range proc.Events() {
		events = append(events, e)
	}
	require.Len(t, events, 3)
	require.Equal(t, client.EventSystem, events[0].Type)
	require.True(t, events[1].StoryComplete)
	require.True(t, events[2].IsTerminal())

	res := proc.Wait()
	require.NoError(t, res.Err)

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	require.Equal(t,
		"--print\n--output-format\nstream-json\n--model\nopus-4.5-thinking\n--force\nimplement US-001\n",
		string(args))
}

func TestSpawn_NonZeroExit(t *testing.T) {
	exe, dir := fakeAgent(t, `echo 'auth required' >&2
exit 3`)

	proc, err := NewClient().Spawn(context.Background(), client.Config{
		WorkDir:    dir,
		Prompt:     "p",
		Executable: exe,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	for range proc.Events() {
	}

	res := proc.Wait()
	require.Error(t, res.Err)
	var pe *client.ProcessError
	require.True(t, errors.As(res.Err, &pe))
	require.Equal(t, client.FailureExit, pe.Category)
	require.Equal(t, 3, res.ExitCode)
	require.Contains(t, res.Err.Error(), "auth required")
}

func TestSpawn_MissingExecutable(t *testing.T) {
	_, err := NewClient().Spawn(context.Background(), client.Config{
		WorkDir:    t.TempDir(),
		Prompt:     "p",
		Executable: filepath.Join(t.TempDir(), "nope"),
	})

	require.Error(t, err)
	var pe *client.ProcessError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, client.FailureSpawn, pe.Category)
	require.ErrorIs(t, err, client.ErrExecutableNotFound)
}

func TestClient_Registered(t *testing.T) {
	c, err := client.NewClient(client.ClientCursor)
	require.NoError(t, err)
	require.Equal(t, client.ClientCursor, c.Type())
}
