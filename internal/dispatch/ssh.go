package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

const defaultSSHPort = 22

// runSSH executes the command over an SSH session. Clients are reused from
// the idle pool when possible; every run gets its own session so channel
// state never leaks between runs.
func (d *Dispatcher) runSSH(ctx context.Context, spec Spec) (Result, error) {
	start := time.Now()

	client, pooled, err := d.sshClient(ctx, spec.Target)
	if err != nil {
		return Result{Status: StatusConnectFailed, ExitCode: -1, Duration: time.Since(start)},
			apperrors.DispatchFailedf("connect %s: %v", targetAddr(spec.Target), err)
	}

	session, err := client.NewSession()
	if err != nil && pooled {
		// Pooled client went stale underneath us; drop it and dial fresh once.
		d.pool.drop(poolKeyFor(spec.Target), client)
		pooled = false
		client, err = d.dial(ctx, spec.Target)
		if err == nil {
			session, err = client.NewSession()
		}
	}
	if err != nil {
		if client != nil {
			_ = client.Close()
		}
		return Result{Status: StatusConnectFailed, ExitCode: -1, Duration: time.Since(start)},
			apperrors.DispatchFailedf("open session on %s: %v", targetAddr(spec.Target), err)
	}
	defer session.Close()

	stdout := newLimitedBuffer(maxStreamBytes)
	stderr := newLimitedBuffer(maxStreamBytes)
	session.Stdout = stdout
	session.Stderr = stderr

	command := buildRemoteCommand(session, spec)

	d.logger.Debug("ssh command started",
		"addr", targetAddr(spec.Target), "timeout", spec.Timeout, "server_id", spec.Target.ServerID)

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	var timeoutCh <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	clean := false
	defer func() {
		key := poolKeyFor(spec.Target)
		switch {
		case clean && key != (poolKey{}):
			d.pool.put(key, client)
		default:
			// Killed or unpoolable sessions take the client down with them.
			_ = client.Close()
		}
	}()

	select {
	case runErr := <-done:
		code, hasExit := sshExitCode(runErr)
		if !hasExit && runErr != nil {
			return Result{
				Status: StatusConnectFailed, ExitCode: -1,
				Stdout: stdout.String(), Stderr: stderr.String(),
				Duration: time.Since(start),
			}, apperrors.DispatchFailedf("session on %s ended without exit status: %v", targetAddr(spec.Target), runErr)
		}
		clean = true
		return Result{
			ExitCode: code,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
			Status:   StatusCompleted,
		}, nil
	case <-timeoutCh:
		d.logger.Warn("ssh command timed out, closing session",
			"addr", targetAddr(spec.Target), "timeout", spec.Timeout)
		d.killSession(session, done)
		return Result{
			ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String(),
			Duration: time.Since(start), Status: StatusTimedOut,
		}, nil
	case <-ctx.Done():
		d.logger.Info("ssh command cancelled, closing session", "addr", targetAddr(spec.Target))
		d.killSession(session, done)
		return Result{
			ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String(),
			Duration: time.Since(start), Status: StatusCancelled,
		}, nil
	}
}

// killSession asks the remote to die and force-closes the channel, then
// drains the Run goroutine bounded by the grace window.
func (d *Dispatcher) killSession(session *ssh.Session, done <-chan error) {
	_ = session.Signal(ssh.SIGKILL)
	_ = session.Close()
	grace := time.NewTimer(terminationGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		d.logger.Warn("ssh session did not unwind within grace window")
	}
}

// buildRemoteCommand assembles the shell line the remote runs. Env vars go
// through Setenv when the server accepts them; sshd commonly refuses
// (AcceptEnv unset), in which case they are inlined as quoted exports.
func buildRemoteCommand(session *ssh.Session, spec Spec) string {
	var b strings.Builder
	if spec.WorkingDir != "" {
		b.WriteString("cd ")
		b.WriteString(shellQuote(spec.WorkingDir))
		b.WriteString(" && ")
	}
	if len(spec.Env) > 0 && !trySetenv(session, spec.Env) {
		b.WriteString(envExports(spec.Env))
	}
	b.WriteString(spec.Command)
	return b.String()
}

// trySetenv applies env vars via the SSH protocol, reporting whether all were
// accepted. A single refusal falls the whole set back to shell exports so the
// command sees one consistent environment.
func trySetenv(session *ssh.Session, env map[string]string) bool {
	for k, v := range env {
		if err := session.Setenv(k, v); err != nil {
			return false
		}
	}
	return true
}

// envExports renders "export K='v'; " pairs in stable order.
func envExports(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString("export ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(shellQuote(env[k]))
		b.WriteString("; ")
	}
	return b.String()
}

// shellQuote single-quotes a value for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// sshExitCode maps a session.Run error to an exit code. The second return
// reports whether the remote delivered an exit status at all.
func sshExitCode(err error) (int, bool) {
	if err == nil {
		return 0, true
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), true
	}
	return -1, false
}

// sshClient returns a pooled client when one is alive, dialing otherwise.
// The second return reports whether the client came from the pool.
func (d *Dispatcher) sshClient(ctx context.Context, target Target) (*ssh.Client, bool, error) {
	if key := poolKeyFor(target); key != (poolKey{}) {
		if client := d.pool.get(key); client != nil {
			return client, true, nil
		}
	}
	client, err := d.dial(ctx, target)
	return client, false, err
}

// dial opens and handshakes a fresh SSH client connection, honoring both the
// configured connect timeout and the caller's context.
func (d *Dispatcher) dial(ctx context.Context, target Target) (*ssh.Client, error) {
	auth, err := d.authMethods(target.Credential)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auth,
		HostKeyCallback: d.hostKeyCallback(),
		Timeout:         d.connectTimeout,
	}

	addr := targetAddr(target)
	dialer := net.Dialer{Timeout: d.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake %s: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// authMethods builds SSH auth from the target credential. Key material is the
// credential value when it is inline PEM, otherwise the value names a file
// under the configured key directory.
func (d *Dispatcher) authMethods(cred *model.Credential) ([]ssh.AuthMethod, error) {
	if cred == nil {
		return nil, errors.New("remote target requires a credential")
	}
	switch cred.Kind {
	case model.CredentialKindSSHKey, model.CredentialKindCertificate:
		material, err := d.keyMaterial(cred)
		if err != nil {
			return nil, err
		}
		signer, err := parseSigner(material, cred.Metadata["passphrase"])
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	case model.CredentialKindPassword:
		return []ssh.AuthMethod{ssh.Password(cred.Value)}, nil
	default:
		return nil, fmt.Errorf("credential kind %q cannot authenticate ssh", cred.Kind)
	}
}

func (d *Dispatcher) keyMaterial(cred *model.Credential) ([]byte, error) {
	value := strings.TrimSpace(cred.Value)
	if strings.Contains(value, "PRIVATE KEY") {
		return []byte(cred.Value), nil
	}
	// Treat the value as a key file name; Base strips any traversal.
	path := filepath.Join(d.keyDir, filepath.Base(value))
	material, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	return material, nil
}

func parseSigner(material []byte, passphrase string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(material)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		if passphrase == "" {
			return nil, errors.New("private key requires a passphrase (credential metadata \"passphrase\")")
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(material, []byte(passphrase))
		if err == nil {
			return signer, nil
		}
	}
	return nil, fmt.Errorf("parse private key: %w", err)
}

// hostKeyCallback verifies against known_hosts in the key directory when the
// file exists; otherwise host keys are accepted blind, which matches how
// fleets bootstrap before keys are gathered.
func (d *Dispatcher) hostKeyCallback() ssh.HostKeyCallback {
	path := filepath.Join(d.keyDir, "known_hosts")
	if cb, err := knownhosts.New(path); err == nil {
		return cb
	}
	return ssh.InsecureIgnoreHostKey() //nolint:gosec // deliberate fallback without known_hosts
}

func targetAddr(target Target) string {
	port := target.Port
	if port == 0 {
		port = defaultSSHPort
	}
	return net.JoinHostPort(target.Host, strconv.Itoa(port))
}
