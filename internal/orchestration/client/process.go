package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zjrosen/ralph/internal/log"
)

const (
	maxLineSize     = 10 * 1024 * 1024
	stderrTailBytes = 8 * 1024
	eventBuffer     = 64
)

// Result is the outcome of one invocation.
type Result struct {
	ExitCode  int
	TimedOut  bool
	Cancelled bool
	Duration  time.Duration
	Stderr    string
	// Err is nil only for a clean zero exit that was neither cancelled nor
	// timed out. Otherwise it is a *ProcessError.
	Err error
}

// BaseProcess owns one spawned agent process and its output stream.
type BaseProcess struct {
	cmd      *exec.Cmd
	provider string
	grace    time.Duration
	started  time.Time

	events   chan OutputEvent
	abandon  chan struct{}
	readDone chan struct{}
	done     chan struct{}

	stderr *tailBuffer
	result Result

	timedOut   atomic.Bool
	cancelled  atomic.Bool
	cancelOnce sync.Once
	abandonOne sync.Once
	timer      *time.Timer
	stopCtx    func() bool
}

// SpawnBuilder assembles and starts a BaseProcess.
type SpawnBuilder struct {
	ctx      context.Context
	execPath string
	args     []string
	workDir  string
	env      []string
	timeout  time.Duration
	grace    time.Duration
	parser   EventParser
	provider string
}

// NewSpawnBuilder starts a builder bound to ctx. Cancelling ctx cancels the
// process.
func NewSpawnBuilder(ctx context.Context) *SpawnBuilder {
	return &SpawnBuilder{ctx: ctx, timeout: DefaultTimeout, grace: DefaultGracePeriod, provider: "agent"}
}

func (b *SpawnBuilder) WithExecutable(path string, args []string) *SpawnBuilder {
	b.execPath, b.args = path, args
	return b
}

func (b *SpawnBuilder) WithWorkDir(dir string) *SpawnBuilder { b.workDir = dir; return b }

func (b *SpawnBuilder) WithEnv(env []string) *SpawnBuilder { b.env = env; return b }

func (b *SpawnBuilder) WithParser(p EventParser) *SpawnBuilder { b.parser = p; return b }

func (b *SpawnBuilder) WithProviderName(name string) *SpawnBuilder { b.provider = name; return b }

// WithTimeout sets the hard wall-clock limit. Non-positive keeps the default.
func (b *SpawnBuilder) WithTimeout(d time.Duration) *SpawnBuilder {
	if d > 0 {
		b.timeout = d
	}
	return b
}

// WithGracePeriod sets the SIGTERM to SIGKILL delay. Non-positive keeps the default.
func (b *SpawnBuilder) WithGracePeriod(d time.Duration) *SpawnBuilder {
	if d > 0 {
		b.grace = d
	}
	return b
}

// Build starts the process. Failures to start are *ProcessError with
// category spawn.
func (b *SpawnBuilder) Build() (*BaseProcess, error) {
	if b.execPath == "" {
		return nil, &ProcessError{Category: FailureSpawn, Err: errors.New("no executable configured")}
	}
	if b.parser == nil {
		return nil, &ProcessError{Category: FailureSpawn, Err: errors.New("no parser configured")}
	}
	if err := b.ctx.Err(); err != nil {
		return nil, &ProcessError{Category: FailureSpawn, Err: err}
	}

	cmd := exec.Command(b.execPath, b.args...) //nolint:gosec // executable comes from config or discovery
	cmd.Dir = b.workDir
	cmd.Env = append(os.Environ(), b.env...)
	setProcessGroup(cmd)
	cmd.WaitDelay = b.grace

	// stdout goes through an in-memory pipe so Wait owns the OS pipe and
	// WaitDelay can close it when a background child keeps it open.
	stdout, stdoutW := io.Pipe()
	cmd.Stdout = stdoutW
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		return nil, &ProcessError{Category: FailureSpawn, Err: fmt.Errorf("start: %w", err)}
	}

	p := &BaseProcess{
		cmd:      cmd,
		provider: b.provider,
		grace:    b.grace,
		started:  time.Now(),
		events:   make(chan OutputEvent, eventBuffer),
		abandon:  make(chan struct{}),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
		stderr:   stderr,
	}
	p.timer = time.AfterFunc(b.timeout, func() {
		log.Warn(log.CatAgent, "agent process timed out", "provider", p.provider, "pid", p.PID(), "timeout", b.timeout)
		p.timedOut.Store(true)
		p.terminate()
	})
	p.stopCtx = context.AfterFunc(b.ctx, p.Cancel)

	log.Debug(log.CatAgent, "agent process started",
		"provider", b.provider, "pid", cmd.Process.Pid, "dir", b.workDir)

	go p.readLoop(stdout, b.parser)
	go p.waitLoop(stdoutW)
	return p, nil
}

// Events returns the parsed record stream.
func (p *BaseProcess) Events() <-chan OutputEvent { return p.events }

// PID returns the OS process id.
func (p *BaseProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait blocks until the process exits.
func (p *BaseProcess) Wait() Result {
	<-p.done
	return p.result
}

// Cancel terminates the process and stops delivering events.
func (p *BaseProcess) Cancel() {
	p.cancelled.Store(true)
	p.abandonOne.Do(func() { close(p.abandon) })
	p.terminate()
}

// terminate sends SIGTERM to the process group once and escalates to
// SIGKILL if it is still alive after the grace period.
func (p *BaseProcess) terminate() {
	p.cancelOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		log.Debug(log.CatAgent, "terminating agent process", "provider", p.provider, "pid", p.PID())
		if err := signalTerminate(p.cmd); err != nil {
			log.Debug(log.CatAgent, "terminate signal failed", "pid", p.PID(), "error", err)
		}
		go func() {
			select {
			case <-p.done:
			case <-time.After(p.grace):
				log.Warn(log.CatAgent, "agent ignored SIGTERM, killing", "provider", p.provider, "pid", p.PID())
				_ = signalKill(p.cmd)
			}
		}()
	})
}

// readLoop parses stdout until the pipe closes. The pipe closes when the
// process exits, or WaitDelay after exit if a child still holds it.
func (p *BaseProcess) readLoop(stdout io.Reader, parser EventParser) {
	defer close(p.readDone)
	defer close(p.events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := parser.ParseEvent(line)
		if errors.Is(err, ErrSkipEvent) {
			continue
		}
		if err != nil {
			perr := &ParseError{Line: string(line), Err: err}
			log.Warn(log.CatAgent, "skipping malformed agent output", "provider", p.provider, "error", perr)
			continue
		}
		select {
		case p.events <- event:
		case <-p.abandon:
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn(log.CatAgent, "reading agent output failed", "provider", p.provider, "error", err)
		// Drain so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
	}
}

func (p *BaseProcess) waitLoop(stdout *io.PipeWriter) {
	waitErr := p.cmd.Wait()
	_ = stdout.Close()
	<-p.readDone
	p.finish(waitErr)
}

func (p *BaseProcess) finish(waitErr error) {
	p.timer.Stop()
	if p.stopCtx != nil {
		p.stopCtx()
	}

	exited := p.cmd.ProcessState != nil && p.cmd.ProcessState.Success()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		log.Warn(log.CatAgent, "agent left children holding its output, killing group",
			"provider", p.provider, "pid", p.PID())
		_ = signalKill(p.cmd)
		if exited {
			waitErr = nil
		}
	}

	res := Result{
		ExitCode: exitCode(p.cmd, waitErr),
		// A timer that fired after a clean exit, while output was still
		// draining, is not a timeout.
		TimedOut:  p.timedOut.Load() && !exited,
		Cancelled: p.cancelled.Load(),
		Duration:  time.Since(p.started),
		Stderr:    p.stderr.String(),
	}
	switch {
	case res.TimedOut:
		res.Err = &ProcessError{Category: FailureTimeout, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: context.DeadlineExceeded}
	case res.Cancelled:
		res.Err = &ProcessError{Category: FailureExit, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: context.Canceled}
	case waitErr != nil:
		res.Err = &ProcessError{Category: FailureExit, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: waitErr}
	}
	p.result = res

	log.Debug(log.CatAgent, "agent process exited",
		"provider", p.provider, "pid", p.PID(), "code", res.ExitCode,
		"timedOut", res.TimedOut, "cancelled", res.Cancelled, "duration", res.Duration)
	close(p.done)
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

var _ HeadlessProcess = (*BaseProcess)(nil)
