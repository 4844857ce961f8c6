package service

import (
	"context"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/domain/model"
	"github.com/hullcrest/armada/internal/domain/render"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// CommandTemplateServiceOptions groups dependencies for CommandTemplateService.
type CommandTemplateServiceOptions struct {
	Repo core.CommandTemplateRepository
}

// CommandTemplateService manages parameterized command definitions. Placeholder
// grammar is checked at save time so rendering can only fail on missing
// required variables, never on syntax.
type CommandTemplateService struct {
	commands core.CommandTemplateRepository
}

// NewCommandTemplateService constructs a new CommandTemplateService.
func NewCommandTemplateService(opts CommandTemplateServiceOptions) *CommandTemplateService {
	return &CommandTemplateService{commands: opts.Repo}
}

// Create creates a command template after checking the placeholder grammar.
func (s *CommandTemplateService) Create(ctx context.Context, req *model.CreateCommandTemplateRequest) (*model.CommandTemplate, error) {
	if req != nil {
		if _, err := render.Compile(req.CommandString); err != nil {
			return nil, apperrors.ValidationField("command_string", err.Error())
		}
	}
	return s.commands.Create(ctx, req)
}

// GetByID retrieves a command template by ID.
func (s *CommandTemplateService) GetByID(ctx context.Context, id int64) (*model.CommandTemplate, error) {
	return s.commands.GetByID(ctx, id)
}

// GetByName retrieves a command template by its job type and name.
func (s *CommandTemplateService) GetByName(ctx context.Context, jobTypeID int64, name string) (*model.CommandTemplate, error) {
	return s.commands.GetByName(ctx, jobTypeID, name)
}

// List returns a page of command templates.
func (s *CommandTemplateService) List(ctx context.Context, opts model.CommandTemplatesListOptions) ([]*model.CommandTemplate, error) {
	return s.commands.List(ctx, opts)
}

// ListByJobType returns every command template bound to a job type.
func (s *CommandTemplateService) ListByJobType(ctx context.Context, jobTypeID int64) ([]*model.CommandTemplate, error) {
	return s.commands.ListByJobType(ctx, jobTypeID)
}

// Update updates a command template, re-checking the grammar when the
// command string changes.
func (s *CommandTemplateService) Update(ctx context.Context, id int64, req model.UpdateCommandTemplateRequest) (*model.CommandTemplate, error) {
	if req.CommandString != nil {
		if _, err := render.Compile(*req.CommandString); err != nil {
			return nil, apperrors.ValidationField("command_string", err.Error())
		}
	}
	return s.commands.Update(ctx, id, req)
}

// Delete removes a command template. Job templates or steps referencing it
// make the delete fail with an in_use error.
func (s *CommandTemplateService) Delete(ctx context.Context, id int64) error {
	return s.commands.Delete(ctx, id)
}
