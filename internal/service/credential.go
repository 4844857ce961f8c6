package service

import (
	"context"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/domain/model"
)

// CredentialServiceOptions groups dependencies for CredentialService.
type CredentialServiceOptions struct {
	Repo core.CredentialRepository
}

// CredentialService manages SSH credentials. Secret values never leave the
// service layer except toward the dispatcher.
type CredentialService struct {
	creds core.CredentialRepository
}

// NewCredentialService constructs a new CredentialService.
func NewCredentialService(opts CredentialServiceOptions) *CredentialService {
	return &CredentialService{creds: opts.Repo}
}

// Create creates a credential.
func (s *CredentialService) Create(ctx context.Context, req *model.CreateCredentialRequest) (*model.Credential, error) {
	return s.creds.Create(ctx, req)
}

// GetByID retrieves a credential by ID.
func (s *CredentialService) GetByID(ctx context.Context, id int64) (*model.Credential, error) {
	return s.creds.GetByID(ctx, id)
}

// GetByName retrieves a credential by its unique name.
func (s *CredentialService) GetByName(ctx context.Context, name string) (*model.Credential, error) {
	return s.creds.GetByName(ctx, name)
}

// List returns a page of credentials.
func (s *CredentialService) List(ctx context.Context, opts model.CredentialsListOptions) ([]*model.Credential, error) {
	return s.creds.List(ctx, opts)
}

// Update updates a credential.
func (s *CredentialService) Update(ctx context.Context, id int64, req model.UpdateCredentialRequest) (*model.Credential, error) {
	return s.creds.Update(ctx, id, req)
}

// Delete removes a credential. Deleting one still referenced by a server
// fails with an in_use error.
func (s *CredentialService) Delete(ctx context.Context, id int64) error {
	return s.creds.Delete(ctx, id)
}
