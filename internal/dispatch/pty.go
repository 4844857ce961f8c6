package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	apperrors "github.com/hullcrest/armada/internal/errors"
)

// SessionState tracks the PTY lifecycle: Idle → Connecting → Open → Closed.
type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionConnecting SessionState = "connecting"
	SessionOpen       SessionState = "open"
	SessionClosed     SessionState = "closed"
)

const (
	defaultPtyCols = 80
	defaultPtyRows = 24
	ptyReadChunk   = 4096
	// outputBacklog bounds buffered output frames; a stalled consumer
	// backpressures the read pump rather than growing without bound.
	outputBacklog = 64
)

// Session is one interactive terminal, local or remote. Sessions are
// ephemeral: they are never recorded as job runs and die with the daemon.
// Input goes through Write, output arrives on Output() until it is closed.
type Session struct {
	ID string

	mu      sync.Mutex
	state   SessionState
	stdin   io.Writer
	resize  func(cols, rows uint16) error
	release func()

	output    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	registry *sessionRegistry
	logger   *slog.Logger
}

// OpenSession allocates an interactive PTY on the target: the user's shell
// under a local PTY for local targets, RequestPty+Shell over SSH otherwise.
func (d *Dispatcher) OpenSession(ctx context.Context, target Target) (*Session, error) {
	s := &Session{
		ID:       uuid.NewString(),
		state:    SessionIdle,
		output:   make(chan []byte, outputBacklog),
		done:     make(chan struct{}),
		registry: d.sessions,
	}
	s.logger = d.logger.With("pty_session", s.ID, "server_id", target.ServerID)
	s.setState(SessionConnecting)

	var err error
	if target.Local {
		err = s.openLocal()
	} else {
		err = s.openRemote(ctx, d, target)
	}
	if err != nil {
		s.setState(SessionClosed)
		close(s.output)
		return nil, apperrors.DispatchFailedf("open pty session: %v", err)
	}

	s.setState(SessionOpen)
	d.sessions.add(s)
	s.logger.Info("pty session open", "local", target.Local)
	return s, nil
}

// Session looks up an open session by id.
func (d *Dispatcher) Session(id string) (*Session, bool) {
	return d.sessions.get(id)
}

// openLocal starts the user's shell under a fresh local PTY.
func (s *Session) openLocal() error {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = localShell
	}
	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: defaultPtyRows, Cols: defaultPtyCols})
	if err != nil {
		return err
	}

	s.stdin = f
	s.resize = func(cols, rows uint16) error {
		return pty.Setsize(f, &pty.Winsize{Rows: rows, Cols: cols})
	}
	s.release = func() {
		_ = f.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
	}
	go s.pump(f)
	return nil
}

// openRemote dials a dedicated SSH client (PTYs never share pooled clients)
// and requests a shell with a server-side PTY.
func (s *Session) openRemote(ctx context.Context, d *Dispatcher, target Target) error {
	client, err := d.dial(ctx, target)
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return err
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", defaultPtyRows, defaultPtyCols, modes); err != nil {
		_ = session.Close()
		_ = client.Close()
		return fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		_ = client.Close()
		return err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		_ = client.Close()
		return err
	}
	if err := session.Shell(); err != nil {
		_ = session.Close()
		_ = client.Close()
		return fmt.Errorf("start shell: %w", err)
	}

	s.stdin = stdin
	s.resize = func(cols, rows uint16) error {
		return session.WindowChange(int(rows), int(cols))
	}
	s.release = func() {
		_ = session.Close()
		_ = client.Close()
	}
	go s.pump(stdout)
	return nil
}

// pump copies terminal output to the session channel until the stream ends or
// the session closes. Only pump closes the output channel.
func (s *Session) pump(r io.Reader) {
	defer func() {
		_ = s.Close()
		close(s.output)
	}()
	buf := make([]byte, ptyReadChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.output <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Write sends input bytes to the terminal. Only valid while Open.
func (s *Session) Write(p []byte) (int, error) {
	if s.State() != SessionOpen {
		return 0, fmt.Errorf("pty session %s is not open", s.ID)
	}
	return s.stdin.Write(p)
}

// Resize changes the terminal window size. Only valid while Open.
func (s *Session) Resize(cols, rows uint16) error {
	if s.State() != SessionOpen {
		return fmt.Errorf("pty session %s is not open", s.ID)
	}
	return s.resize(cols, rows)
}

// Output returns the channel carrying terminal output frames. The channel is
// closed when the session ends.
func (s *Session) Output() <-chan []byte {
	return s.output
}

// Close ends the session and releases the terminal. Idempotent; the output
// channel closes shortly after as the pump unwinds.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.setState(SessionClosed)
		close(s.done)
		if s.release != nil {
			s.release()
		}
		if s.registry != nil {
			s.registry.remove(s.ID)
		}
		s.logger.Info("pty session closed")
	})
	return nil
}

// sessionRegistry tracks live PTY sessions so daemon shutdown can end them.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*Session)}
}

func (r *sessionRegistry) add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *sessionRegistry) get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *sessionRegistry) closeAll() {
	r.mu.Lock()
	open := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		open = append(open, s)
	}
	r.mu.Unlock()
	for _, s := range open {
		_ = s.Close()
	}
}
