package service

import (
	"context"
	"fmt"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// JobTemplateServiceOptions groups dependencies for JobTemplateService.
type JobTemplateServiceOptions struct {
	Repo     core.JobTemplateRepository
	Commands core.CommandTemplateRepository
}

// JobTemplateService manages job definitions. Beyond the model-level shape
// checks it enforces the cross-entity invariant that every referenced command
// template belongs to the job template's job type.
type JobTemplateService struct {
	templates core.JobTemplateRepository
	commands  core.CommandTemplateRepository
}

// NewJobTemplateService constructs a new JobTemplateService.
func NewJobTemplateService(opts JobTemplateServiceOptions) *JobTemplateService {
	return &JobTemplateService{templates: opts.Repo, commands: opts.Commands}
}

// Create creates a job template, composite steps included.
func (s *JobTemplateService) Create(ctx context.Context, req *model.CreateJobTemplateRequest) (*model.JobTemplate, error) {
	if req == nil {
		return nil, apperrors.Validation("create job template request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	if req.IsComposite {
		if err := s.checkStepCommands(ctx, req.JobTypeID, req.Steps); err != nil {
			return nil, err
		}
	} else if err := s.checkCommandJobType(ctx, req.JobTypeID, *req.CommandTemplateID); err != nil {
		return nil, err
	}

	return s.templates.Create(ctx, req)
}

// GetByID retrieves a job template by ID.
func (s *JobTemplateService) GetByID(ctx context.Context, id int64) (*model.JobTemplate, error) {
	return s.templates.GetByID(ctx, id)
}

// GetByName retrieves a job template by its unique name.
func (s *JobTemplateService) GetByName(ctx context.Context, name string) (*model.JobTemplate, error) {
	return s.templates.GetByName(ctx, name)
}

// List returns a page of job templates.
func (s *JobTemplateService) List(ctx context.Context, opts model.JobTemplatesListOptions) ([]*model.JobTemplate, error) {
	return s.templates.List(ctx, opts)
}

// ListSteps returns the ordered steps of a composite template.
func (s *JobTemplateService) ListSteps(ctx context.Context, id int64) ([]*model.JobTemplateStep, error) {
	return s.templates.ListSteps(ctx, id)
}

// Update updates a job template. When the command template reference changes
// the job-type invariant is re-checked.
func (s *JobTemplateService) Update(ctx context.Context, id int64, req model.UpdateJobTemplateRequest) (*model.JobTemplate, error) {
	if req.CommandTemplateID != nil {
		current, err := s.templates.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.IsComposite {
			return nil, apperrors.Validation("composite templates cannot have a command_template_id")
		}
		if err := s.checkCommandJobType(ctx, current.JobTypeID, *req.CommandTemplateID); err != nil {
			return nil, err
		}
	}
	return s.templates.Update(ctx, id, req)
}

// ReplaceSteps swaps the full step list of a composite template.
func (s *JobTemplateService) ReplaceSteps(ctx context.Context, id int64, steps []model.CreateJobTemplateStepRequest) ([]*model.JobTemplateStep, error) {
	if err := model.ValidateJobTemplateSteps(steps); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	current, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsComposite {
		return nil, apperrors.Validation("simple templates cannot have steps")
	}
	if err := s.checkStepCommands(ctx, current.JobTypeID, steps); err != nil {
		return nil, err
	}

	return s.templates.ReplaceSteps(ctx, id, steps)
}

// Delete removes a job template. Its steps, schedules, and run history go
// with it via cascade.
func (s *JobTemplateService) Delete(ctx context.Context, id int64) error {
	return s.templates.Delete(ctx, id)
}

func (s *JobTemplateService) checkStepCommands(ctx context.Context, jobTypeID int64, steps []model.CreateJobTemplateStepRequest) error {
	for _, step := range steps {
		if err := s.checkCommandJobType(ctx, jobTypeID, step.CommandTemplateID); err != nil {
			return err
		}
	}
	return nil
}

func (s *JobTemplateService) checkCommandJobType(ctx context.Context, jobTypeID, commandTemplateID int64) error {
	cmd, err := s.commands.GetByID(ctx, commandTemplateID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.Validationf("command template %d does not exist", commandTemplateID)
		}
		return err
	}
	if cmd.JobTypeID != jobTypeID {
		return apperrors.Validation(fmt.Sprintf(
			"command template %q belongs to job type %d, not %d", cmd.Name, cmd.JobTypeID, jobTypeID))
	}
	return nil
}
