package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/sync/errgroup"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/data"
	"github.com/hullcrest/armada/internal/dispatch"
	"github.com/hullcrest/armada/internal/domain/model"
)

const (
	connectionTestTimeout = 30 * time.Second
	probeTimeout          = 15 * time.Second
	probeConcurrency      = 4
)

// toolProbes is the detection catalog. Each probe runs on the target and the
// capability row is written from its exit code and output.
var toolProbes = []struct {
	name    string
	command string
}{
	{"docker", `docker version --format '{{json .}}' 2>/dev/null`},
	{"systemd", `test -d /run/systemd/system && systemctl --version 2>/dev/null | head -n 1`},
	{"git", `git --version 2>/dev/null`},
	{"curl", `curl --version 2>/dev/null | head -n 1`},
	{"rsync", `rsync --version 2>/dev/null | head -n 1`},
	{"tar", `tar --version 2>/dev/null | head -n 1`},
}

// ServerServiceOptions groups dependencies for ServerService.
type ServerServiceOptions struct {
	Repo         core.ServerRepository
	Capabilities core.CapabilityRepository
	Credentials  core.CredentialRepository
	Runner       dispatch.Runner
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// ServerService manages execution targets and the detection probes that keep
// their capability rows and OS facts current.
type ServerService struct {
	servers      core.ServerRepository
	capabilities core.CapabilityRepository
	credentials  core.CredentialRepository
	runner       dispatch.Runner
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewServerService constructs a new ServerService.
func NewServerService(opts ServerServiceOptions) *ServerService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerService{
		servers:      opts.Repo,
		capabilities: opts.Capabilities,
		credentials:  opts.Credentials,
		runner:       opts.Runner,
		timeProvider: opts.TimeProvider,
		logger:       logger.With("component", "server_service"),
	}
}

// Create creates a server.
func (s *ServerService) Create(ctx context.Context, req *model.CreateServerRequest) (*model.Server, error) {
	return s.servers.Create(ctx, req)
}

// GetByID retrieves a server by ID.
func (s *ServerService) GetByID(ctx context.Context, id int64) (*model.Server, error) {
	return s.servers.GetByID(ctx, id)
}

// GetByName retrieves a server by its unique name.
func (s *ServerService) GetByName(ctx context.Context, name string) (*model.Server, error) {
	return s.servers.GetByName(ctx, name)
}

// List returns a page of servers.
func (s *ServerService) List(ctx context.Context, opts model.ServersListOptions) ([]*model.Server, error) {
	return s.servers.List(ctx, opts)
}

// Update updates a server.
func (s *ServerService) Update(ctx context.Context, id int64, req model.UpdateServerRequest) (*model.Server, error) {
	return s.servers.Update(ctx, id, req)
}

// Delete removes a server. Its schedules, runs, and capability rows go with
// it via cascade.
func (s *ServerService) Delete(ctx context.Context, id int64) error {
	return s.servers.Delete(ctx, id)
}

// ListCapabilities returns the recorded capability rows for a server.
func (s *ServerService) ListCapabilities(ctx context.Context, serverID int64) ([]*model.ServerCapability, error) {
	return s.capabilities.ListByServer(ctx, serverID)
}

// TestConnection runs a no-op command on the server and reports reachability.
// The outcome is stamped on the row either way; the returned result carries
// what the operator needs to read, so dispatch failures are not errors here.
func (s *ServerService) TestConnection(ctx context.Context, id int64) (*model.ConnectionTestResult, error) {
	server, err := s.servers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	target, err := resolveTarget(ctx, s.credentials, server)
	if err != nil {
		return nil, err
	}

	res, runErr := s.runner.Run(ctx, dispatch.Spec{
		Command: "true",
		Timeout: connectionTestTimeout,
		Target:  target,
	})

	result := &model.ConnectionTestResult{DurationMS: res.Duration.Milliseconds()}
	switch {
	case runErr != nil:
		result.Message = runErr.Error()
	case res.Status == dispatch.StatusTimedOut:
		result.Message = "connection test timed out"
	case res.Status == dispatch.StatusCancelled:
		result.Message = "connection test cancelled"
	case res.ExitCode != 0:
		result.Message = fmt.Sprintf("test command exited %d", res.ExitCode)
	default:
		result.OK = true
		result.Message = "connection established"
	}

	s.recordContact(ctx, id, result.OK, result.Message)
	return result, nil
}

// DetectCapabilities probes the server for OS facts and tool availability,
// replacing its capability rows with what the probes find. Returns the fresh
// rows in catalog order.
func (s *ServerService) DetectCapabilities(ctx context.Context, id int64) ([]*model.ServerCapability, error) {
	server, err := s.servers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	target, err := resolveTarget(ctx, s.credentials, server)
	if err != nil {
		return nil, err
	}

	// Reachability and OS facts in one round trip; an unreachable host fails
	// here instead of once per probe.
	osRes, err := s.probe(ctx, target, "cat /etc/os-release 2>/dev/null || uname -s")
	if err != nil {
		s.recordContact(ctx, id, false, err.Error())
		return nil, err
	}

	facts := model.DetectedFacts{SeenAt: s.timeProvider.Now().UTC()}
	facts.OSType, facts.OSDistro = parseOSRelease(osRes.Stdout)

	pmRes, err := s.probe(ctx, target, "command -v apt-get dnf yum pacman zypper apk 2>/dev/null | head -n 1")
	if err == nil && pmRes.ExitCode == 0 {
		if pm := path.Base(firstLine(pmRes.Stdout)); pm != "" && pm != "." && pm != "/" {
			facts.PackageManager = &pm
		}
	}

	results := make([]dispatch.Result, len(toolProbes))
	g, probeCtx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i, p := range toolProbes {
		i, p := i, p
		g.Go(func() error {
			res, err := s.probe(probeCtx, target, p.command)
			if err != nil {
				// One dead probe marks the tool unavailable; detection
				// itself keeps going on whatever the host did answer.
				res = dispatch.Result{ExitCode: -1, Status: dispatch.StatusConnectFailed, Stderr: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	caps := make([]*model.ServerCapability, 0, len(toolProbes))
	for i, p := range toolProbes {
		res := results[i]
		available := res.Status == dispatch.StatusCompleted && res.ExitCode == 0
		req := &model.UpsertCapabilityRequest{ServerID: id, Capability: p.name, Available: available}
		if available {
			if v := probeVersion(p.name, res.Stdout); v != "" {
				req.Version = &v
			}
		}
		switch p.name {
		case "docker":
			facts.DockerAvailable = available
		case "systemd":
			facts.SystemdAvailable = available
		}
		row, err := s.capabilities.Upsert(ctx, req)
		if err != nil {
			return nil, err
		}
		caps = append(caps, row)
	}

	if err := s.servers.RecordDetectedFacts(ctx, id, facts); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "capability detection finished",
		"server_id", id, "capabilities", len(caps),
		"docker", facts.DockerAvailable, "systemd", facts.SystemdAvailable)
	return caps, nil
}

func (s *ServerService) probe(ctx context.Context, target dispatch.Target, command string) (dispatch.Result, error) {
	return s.runner.Run(ctx, dispatch.Spec{Command: command, Timeout: probeTimeout, Target: target})
}

func (s *ServerService) recordContact(ctx context.Context, id int64, ok bool, message string) {
	var err error
	if ok {
		err = s.servers.RecordSeen(ctx, id)
	} else {
		err = s.servers.RecordError(ctx, id, message)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "record server contact failed", "server_id", id, "error", err)
	}
}

// resolveTarget builds the dispatch target for a server, loading the attached
// credential for remote ones.
func resolveTarget(ctx context.Context, credentials core.CredentialRepository, server *model.Server) (dispatch.Target, error) {
	target := dispatch.Target{ServerID: server.ID, Local: server.IsLocal, Port: server.Port}
	if server.IsLocal {
		return target, nil
	}
	if server.Hostname != nil {
		target.Host = *server.Hostname
	}
	if server.Username != nil {
		target.User = *server.Username
	}
	if server.CredentialID != nil {
		cred, err := credentials.GetByID(ctx, *server.CredentialID)
		if err != nil {
			return dispatch.Target{}, err
		}
		target.Credential = cred
	}
	return target, nil
}

// parseOSRelease reads the ID field of os-release output, falling back to a
// bare uname kernel name when the file was missing.
func parseOSRelease(stdout string) (osType, distro *string) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil, nil
	}
	if !strings.Contains(trimmed, "=") {
		t := strings.ToLower(firstLine(trimmed))
		return &t, nil
	}
	t := "linux"
	osType = &t
	for _, line := range strings.Split(trimmed, "\n") {
		value, found := strings.CutPrefix(strings.TrimSpace(line), "ID=")
		if !found {
			continue
		}
		if v := strings.Trim(strings.TrimSpace(value), `"'`); v != "" {
			distro = &v
		}
	}
	return osType, distro
}

// probeVersion extracts a version from probe output. Docker reports
// structured JSON; everything else is scraped from the first output line.
func probeVersion(name, stdout string) string {
	if name == "docker" {
		var doc any
		if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &doc); err != nil {
			return ""
		}
		v, err := jmespath.Search("Client.Version", doc)
		if err != nil {
			return ""
		}
		if s, ok := v.(string); ok {
			return s
		}
		return ""
	}
	return versionToken(firstLine(stdout))
}

// versionToken returns the first dotted-numeric field of line, e.g. "2.43.0"
// out of "git version 2.43.0".
func versionToken(line string) string {
	for _, field := range strings.Fields(line) {
		trimmed := strings.Trim(field, "()v")
		if trimmed == "" || trimmed[0] < '0' || trimmed[0] > '9' {
			continue
		}
		numeric := true
		for _, r := range trimmed {
			if (r < '0' || r > '9') && r != '.' {
				numeric = false
				break
			}
		}
		if numeric {
			return trimmed
		}
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
