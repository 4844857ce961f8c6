package service

import (
	"context"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/domain/model"
)

// TagServiceOptions groups dependencies for TagService.
type TagServiceOptions struct {
	Repo core.TagRepository
}

// TagService manages the free-form labels servers are grouped by.
type TagService struct {
	tags core.TagRepository
}

// NewTagService constructs a new TagService.
func NewTagService(opts TagServiceOptions) *TagService {
	return &TagService{tags: opts.Repo}
}

// Create creates a tag.
func (s *TagService) Create(ctx context.Context, req *model.CreateTagRequest) (*model.Tag, error) {
	return s.tags.Create(ctx, req)
}

// GetByID retrieves a tag by ID.
func (s *TagService) GetByID(ctx context.Context, id int64) (*model.Tag, error) {
	return s.tags.GetByID(ctx, id)
}

// GetByName retrieves a tag by its unique name.
func (s *TagService) GetByName(ctx context.Context, name string) (*model.Tag, error) {
	return s.tags.GetByName(ctx, name)
}

// List returns a page of tags.
func (s *TagService) List(ctx context.Context, opts model.TagsListOptions) ([]*model.Tag, error) {
	return s.tags.List(ctx, opts)
}

// Update updates a tag.
func (s *TagService) Update(ctx context.Context, id int64, req model.UpdateTagRequest) (*model.Tag, error) {
	return s.tags.Update(ctx, id, req)
}

// Delete removes a tag and its server assignments.
func (s *TagService) Delete(ctx context.Context, id int64) error {
	return s.tags.Delete(ctx, id)
}
