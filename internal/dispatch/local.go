package dispatch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	apperrors "github.com/hullcrest/armada/internal/errors"
)

// localShell interprets command strings on the local host. Commands are
// shell lines (pipes, redirects), not argv vectors.
const localShell = "/bin/sh"

// runLocal spawns the command as a local subprocess. The process gets its own
// process group so that timeout kills reach shell children too. Termination is
// explicit rather than CommandContext: SIGTERM, a grace window, then SIGKILL,
// and the process is always reaped.
func (d *Dispatcher) runLocal(ctx context.Context, spec Spec) (Result, error) {
	cmd := exec.Command(localShell, "-c", spec.Command)
	if spec.WorkingDir != "" {
		cmd.Dir = spec.WorkingDir
	}
	cmd.Env = append(os.Environ(), envPairs(spec.Env)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout := newLimitedBuffer(maxStreamBytes)
	stderr := newLimitedBuffer(maxStreamBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{Status: StatusConnectFailed, ExitCode: -1, Duration: time.Since(start)},
			apperrors.DispatchFailedf("start process: %v", err)
	}

	d.logger.Debug("local command started",
		"pid", cmd.Process.Pid, "timeout", spec.Timeout, "server_id", spec.Target.ServerID)

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-waitErr:
		return localResult(StatusCompleted, localExitCode(err), stdout, stderr, start), nil
	case <-timeoutCh:
		d.logger.Warn("local command timed out, terminating",
			"pid", cmd.Process.Pid, "timeout", spec.Timeout)
		d.terminate(cmd, waitErr)
		return localResult(StatusTimedOut, -1, stdout, stderr, start), nil
	case <-ctx.Done():
		d.logger.Info("local command cancelled, terminating", "pid", cmd.Process.Pid)
		d.terminate(cmd, waitErr)
		return localResult(StatusCancelled, -1, stdout, stderr, start), nil
	}
}

// terminate signals the process group with SIGTERM, waits out the grace
// window, escalates to SIGKILL, and always reaps the child.
func (d *Dispatcher) terminate(cmd *exec.Cmd, waitErr <-chan error) {
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		d.logger.Debug("SIGTERM failed", "pid", pid, "error", err)
	}

	grace := time.NewTimer(terminationGrace)
	defer grace.Stop()

	select {
	case <-waitErr:
	case <-grace.C:
		d.logger.Warn("process survived SIGTERM, sending SIGKILL", "pid", pid)
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			d.logger.Debug("SIGKILL failed", "pid", pid, "error", err)
		}
		<-waitErr
	}
}

func localResult(status Status, exitCode int, stdout, stderr *limitedBuffer, start time.Time) Result {
	return Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		Status:   status,
	}
}

// localExitCode maps a Wait error to the process exit code. Non-exit errors
// (I/O plumbing) surface as -1; the captured stderr usually tells the story.
func localExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// envPairs renders an env map as KEY=VALUE strings in stable order.
func envPairs(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return pairs
}
