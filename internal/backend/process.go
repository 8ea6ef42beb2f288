package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
)

// Result is the captured outcome of a finished subprocess.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// newCommand creates an exec.Cmd in its own process group so the whole
// subprocess tree can be killed at once.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// Run executes name in dir and captures its output. A non-zero exit is
// reported through Result.ExitCode, not as an error; err is only set when the
// process could not be run or was interrupted by ctx.
func Run(ctx context.Context, pm *ProcessManager, dir, name string, args ...string) (Result, error) {
	cmd := newCommand(ctx, name, args...)
	cmd.Dir = dir
	res, err := run(cmd, pm)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// executeCommand runs cmd and treats a non-zero exit as an error carrying stderr.
func executeCommand(cmd *exec.Cmd, pm *ProcessManager) (stdout []byte, stderr []byte, err error) {
	res, err := run(cmd, pm)
	if err != nil {
		if len(res.Stderr) > 0 {
			return res.Stdout, res.Stderr, fmt.Errorf("command failed: %w (stderr: %s)", err, res.Stderr)
		}
		return res.Stdout, res.Stderr, fmt.Errorf("command failed: %w", err)
	}
	return res.Stdout, res.Stderr, nil
}

// run drains stdout and stderr concurrently before Wait so large outputs
// cannot fill a pipe and deadlock the child.
func run(cmd *exec.Cmd, pm *ProcessManager) (Result, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start command: %w", err)
	}
	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	res := Result{Stdout: stdoutBuf.Bytes(), Stderr: stderrBuf.Bytes()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	return res, waitErr
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}

// ProcessManager tracks running worker and check subprocesses so they can
// all be killed on shutdown.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{procs: make(map[int]*exec.Cmd)}
}

// Track registers a started subprocess.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess after Wait returned.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates every tracked process group.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("pid %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
