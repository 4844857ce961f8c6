package service

import (
	"context"
	"log/slog"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/dispatch"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// PtyServiceOptions groups dependencies for PtyService.
type PtyServiceOptions struct {
	Servers     core.ServerRepository
	Credentials core.CredentialRepository
	Dispatcher  *dispatch.Dispatcher
	Logger      *slog.Logger
}

// PtyService opens interactive terminals on registered servers. Sessions are
// ephemeral: they are never recorded as runs and end with the daemon.
type PtyService struct {
	servers     core.ServerRepository
	credentials core.CredentialRepository
	dispatcher  *dispatch.Dispatcher
	logger      *slog.Logger
}

// NewPtyService constructs a new PtyService.
func NewPtyService(opts PtyServiceOptions) *PtyService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PtyService{
		servers:     opts.Servers,
		credentials: opts.Credentials,
		dispatcher:  opts.Dispatcher,
		logger:      logger.With("component", "pty_service"),
	}
}

// Open allocates an interactive terminal on the server. Disabled hosts refuse
// sessions the same way they refuse runs.
func (s *PtyService) Open(ctx context.Context, serverID int64) (*dispatch.Session, error) {
	server, err := s.servers.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if !server.Enabled {
		return nil, apperrors.Validationf("server %q is disabled", server.Name)
	}
	target, err := resolveTarget(ctx, s.credentials, server)
	if err != nil {
		return nil, err
	}

	session, err := s.dispatcher.OpenSession(ctx, target)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "pty session opened",
		"session_id", session.ID, "server_id", serverID, "local", server.IsLocal)
	return session, nil
}

// Get looks up an open session by id.
func (s *PtyService) Get(id string) (*dispatch.Session, error) {
	session, ok := s.dispatcher.Session(id)
	if !ok {
		return nil, apperrors.NotFoundf("pty session %q not found", id)
	}
	return session, nil
}

// Close ends a session by id.
func (s *PtyService) Close(id string) error {
	session, ok := s.dispatcher.Session(id)
	if !ok {
		return apperrors.NotFoundf("pty session %q not found", id)
	}
	return session.Close()
}
