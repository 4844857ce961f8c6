// Package dispatch executes rendered commands against execution targets,
// either as a local subprocess or over SSH, and provides the interactive PTY
// path for terminal sessions. It knows nothing about runs or schedules; the
// executor owns that bookkeeping.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

const (
	// maxStreamBytes caps captured stdout/stderr per stream.
	maxStreamBytes = 1 << 20

	// terminationGrace is the time between SIGTERM and SIGKILL when a
	// command exceeds its timeout or is cancelled.
	terminationGrace = 5 * time.Second

	defaultConnectTimeout = 10 * time.Second
	defaultPoolIdleTTL    = 60 * time.Second
)

// Status describes how a dispatched command ended.
type Status string

const (
	// StatusCompleted means the process ran to exit, whatever the exit code.
	StatusCompleted Status = "completed"
	// StatusTimedOut means the wall-clock cap expired and the process was killed.
	StatusTimedOut Status = "timed_out"
	// StatusCancelled means the caller's context was cancelled mid-flight.
	StatusCancelled Status = "cancelled"
	// StatusConnectFailed means the target could not be reached or the
	// process could not be spawned.
	StatusConnectFailed Status = "connect_failed"
)

// Target identifies where a command runs. Local targets execute as a
// subprocess of the daemon; remote targets dial SSH with the attached
// credential.
type Target struct {
	ServerID   int64
	Local      bool
	Host       string
	Port       int
	User       string
	Credential *model.Credential
}

// Spec is one command to execute. Timeout zero means no wall-clock cap;
// cancellation then rests entirely on the context.
type Spec struct {
	Command    string
	WorkingDir string
	Env        map[string]string
	Timeout    time.Duration
	Target     Target
}

// Validate checks the spec is executable before any resources are committed.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("command is required")
	}
	if s.Target.Local {
		return nil
	}
	if strings.TrimSpace(s.Target.Host) == "" {
		return errors.New("remote target requires a host")
	}
	if strings.TrimSpace(s.Target.User) == "" {
		return errors.New("remote target requires a user")
	}
	if s.Target.Port < 0 || s.Target.Port > 65535 {
		return errors.New("remote target port out of range")
	}
	return nil
}

// Result is the captured outcome of one dispatched command. ExitCode is -1
// when the process never reported one (killed, connect failure).
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Status   Status
}

// Runner executes one rendered command against a target. Implementations
// return an error only for infrastructure failures (spawn or connect);
// timeouts and cancellations are reported through Result.Status.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Options holds the dependencies and tunables for creating a Dispatcher.
type Options struct {
	// ConnectTimeout bounds the SSH dial plus handshake.
	ConnectTimeout time.Duration
	// KeyDir is where credential values naming key files are resolved, and
	// where an optional known_hosts file is honored.
	KeyDir string
	// PoolIdleTTL bounds how long an idle SSH client is kept for reuse.
	// Zero or negative disables pooling.
	PoolIdleTTL time.Duration
	Logger      *slog.Logger
}

// Dispatcher runs commands locally or over SSH and hands out PTY sessions.
// It is safe for concurrent use.
type Dispatcher struct {
	connectTimeout time.Duration
	keyDir         string
	logger         *slog.Logger
	pool           *clientPool
	sessions       *sessionRegistry
}

// New creates a Dispatcher with the given options.
func New(opts Options) *Dispatcher {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ttl := opts.PoolIdleTTL
	if ttl == 0 {
		ttl = defaultPoolIdleTTL
	}
	return &Dispatcher{
		connectTimeout: opts.ConnectTimeout,
		keyDir:         opts.KeyDir,
		logger:         opts.Logger,
		pool:           newClientPool(ttl),
		sessions:       newSessionRegistry(),
	}
}

// Run executes the spec and captures its outcome. The context carries
// cancellation only; the wall-clock cap comes from Spec.Timeout.
func (d *Dispatcher) Run(ctx context.Context, spec Spec) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{Status: StatusConnectFailed, ExitCode: -1},
			apperrors.DispatchFailedf("invalid dispatch spec: %v", err)
	}
	if spec.Target.Local {
		return d.runLocal(ctx, spec)
	}
	return d.runSSH(ctx, spec)
}

// Close tears down pooled SSH clients and any open PTY sessions.
func (d *Dispatcher) Close() {
	d.sessions.closeAll()
	d.pool.closeAll()
}
