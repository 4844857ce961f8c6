package service

import (
	"context"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/domain/model"
)

// JobTypeServiceOptions groups dependencies for JobTypeService.
type JobTypeServiceOptions struct {
	Repo core.JobTypeRepository
}

// JobTypeService manages the categories command templates hang off.
type JobTypeService struct {
	types core.JobTypeRepository
}

// NewJobTypeService constructs a new JobTypeService.
func NewJobTypeService(opts JobTypeServiceOptions) *JobTypeService {
	return &JobTypeService{types: opts.Repo}
}

// Create creates a job type.
func (s *JobTypeService) Create(ctx context.Context, req *model.CreateJobTypeRequest) (*model.JobType, error) {
	return s.types.Create(ctx, req)
}

// GetByID retrieves a job type by ID.
func (s *JobTypeService) GetByID(ctx context.Context, id int64) (*model.JobType, error) {
	return s.types.GetByID(ctx, id)
}

// GetByName retrieves a job type by its unique name.
func (s *JobTypeService) GetByName(ctx context.Context, name string) (*model.JobType, error) {
	return s.types.GetByName(ctx, name)
}

// List returns a page of job types.
func (s *JobTypeService) List(ctx context.Context, opts model.JobTypesListOptions) ([]*model.JobType, error) {
	return s.types.List(ctx, opts)
}

// Update updates a job type.
func (s *JobTypeService) Update(ctx context.Context, id int64, req model.UpdateJobTypeRequest) (*model.JobType, error) {
	return s.types.Update(ctx, id, req)
}

// Delete removes a job type. Command templates referencing it make the
// delete fail with an in_use error.
func (s *JobTypeService) Delete(ctx context.Context, id int64) error {
	return s.types.Delete(ctx, id)
}
