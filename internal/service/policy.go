package service

import (
	"context"
	"log/slog"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/domain/model"
	"github.com/hullcrest/armada/internal/domain/render"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// PolicyServiceOptions groups dependencies for PolicyService.
type PolicyServiceOptions struct {
	Repo   core.NotificationPolicyRepository
	Logger *slog.Logger
}

// PolicyService manages notification policies. Message templates are
// compiled at save time so a bad placeholder surfaces to the operator
// instead of failing silently at delivery.
type PolicyService struct {
	policies core.NotificationPolicyRepository
	logger   *slog.Logger
}

// NewPolicyService constructs a new PolicyService.
func NewPolicyService(opts PolicyServiceOptions) *PolicyService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyService{
		policies: opts.Repo,
		logger:   logger.With("component", "policy_service"),
	}
}

// Create creates a notification policy.
func (s *PolicyService) Create(ctx context.Context, req *model.CreateNotificationPolicyRequest) (*model.NotificationPolicy, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if err := checkPolicyTemplates(map[string]*string{
		"title_template":         &req.TitleTemplate,
		"body_template":          &req.BodyTemplate,
		"success_title_template": req.SuccessTitleTemplate,
		"success_body_template":  req.SuccessBodyTemplate,
		"failure_title_template": req.FailureTitleTemplate,
		"failure_body_template":  req.FailureBodyTemplate,
	}); err != nil {
		return nil, err
	}
	return s.policies.Create(ctx, req)
}

// GetByID retrieves a policy by ID.
func (s *PolicyService) GetByID(ctx context.Context, id int64) (*model.NotificationPolicy, error) {
	return s.policies.GetByID(ctx, id)
}

// GetByName retrieves a policy by its unique name.
func (s *PolicyService) GetByName(ctx context.Context, name string) (*model.NotificationPolicy, error) {
	return s.policies.GetByName(ctx, name)
}

// List returns a page of policies.
func (s *PolicyService) List(ctx context.Context, opts model.PoliciesListOptions) ([]*model.NotificationPolicy, error) {
	return s.policies.List(ctx, opts)
}

// Update updates a policy after compiling any replaced message templates.
func (s *PolicyService) Update(ctx context.Context, id int64, req model.UpdateNotificationPolicyRequest) (*model.NotificationPolicy, error) {
	if err := checkPolicyTemplates(map[string]*string{
		"title_template":         req.TitleTemplate,
		"body_template":          req.BodyTemplate,
		"success_title_template": req.SuccessTitleTemplate,
		"success_body_template":  req.SuccessBodyTemplate,
		"failure_title_template": req.FailureTitleTemplate,
		"failure_body_template":  req.FailureBodyTemplate,
	}); err != nil {
		return nil, err
	}
	return s.policies.Update(ctx, id, req)
}

// Delete removes a policy.
func (s *PolicyService) Delete(ctx context.Context, id int64) error {
	return s.policies.Delete(ctx, id)
}

// checkPolicyTemplates compiles each non-nil template and reports the first
// grammar error under its field name. Status-specific overrides may be empty
// strings, which fall back to the base templates at render time.
func checkPolicyTemplates(fields map[string]*string) error {
	for field, src := range fields {
		if src == nil || *src == "" {
			continue
		}
		if _, err := render.Compile(*src); err != nil {
			return apperrors.ValidationField(field, err.Error())
		}
	}
	return nil
}
