//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJobTemplateRequest_Validate_Simple(t *testing.T) {
	req := &CreateJobTemplateRequest{
		Name:              "restart-nginx",
		JobTypeID:         1,
		CommandTemplateID: int64Ptr(4),
	}
	require.NoError(t, req.Validate())
	assert.Equal(t, "restart-nginx", req.DisplayName)
}

func TestCreateJobTemplateRequest_Validate_SimpleShape(t *testing.T) {
	missing := &CreateJobTemplateRequest{Name: "restart-nginx", JobTypeID: 1}
	err := missing.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command_template_id is required")

	withSteps := &CreateJobTemplateRequest{
		Name:              "restart-nginx",
		JobTypeID:         1,
		CommandTemplateID: int64Ptr(4),
		Steps: []CreateJobTemplateStepRequest{
			{StepOrder: 0, Name: "stop", CommandTemplateID: 2},
		},
	}
	err = withSteps.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simple templates cannot have steps")
}

func TestCreateJobTemplateRequest_Validate_CompositeShape(t *testing.T) {
	noSteps := &CreateJobTemplateRequest{Name: "deploy", JobTypeID: 1, IsComposite: true}
	err := noSteps.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one step")

	withCommand := &CreateJobTemplateRequest{
		Name:              "deploy",
		JobTypeID:         1,
		IsComposite:       true,
		CommandTemplateID: int64Ptr(4),
		Steps: []CreateJobTemplateStepRequest{
			{StepOrder: 0, Name: "pull", CommandTemplateID: 2},
		},
	}
	err = withCommand.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot have a command_template_id")

	valid := &CreateJobTemplateRequest{
		Name:        "deploy",
		JobTypeID:   1,
		IsComposite: true,
		Steps: []CreateJobTemplateStepRequest{
			{StepOrder: 0, Name: "pull", CommandTemplateID: 2},
			{StepOrder: 1, Name: "restart", CommandTemplateID: 3, ContinueOnFailure: true},
		},
	}
	assert.NoError(t, valid.Validate())
}

func TestCreateJobTemplateRequest_Validate_Steps(t *testing.T) {
	tests := []struct {
		name  string
		steps []CreateJobTemplateStepRequest
		msg   string
	}{
		{
			name: "duplicate order",
			steps: []CreateJobTemplateStepRequest{
				{StepOrder: 0, Name: "a", CommandTemplateID: 1},
				{StepOrder: 0, Name: "b", CommandTemplateID: 2},
			},
			msg: "step_order values must be unique",
		},
		{
			name: "negative order",
			steps: []CreateJobTemplateStepRequest{
				{StepOrder: -1, Name: "a", CommandTemplateID: 1},
			},
			msg: "step_order must be >= 0",
		},
		{
			name: "missing step name",
			steps: []CreateJobTemplateStepRequest{
				{StepOrder: 0, Name: " ", CommandTemplateID: 1},
			},
			msg: "step name is required",
		},
		{
			name: "missing command template",
			steps: []CreateJobTemplateStepRequest{
				{StepOrder: 0, Name: "a"},
			},
			msg: "step command_template_id is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &CreateJobTemplateRequest{Name: "deploy", JobTypeID: 1, IsComposite: true, Steps: tt.steps}
			err := req.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCreateJobTemplateRequest_Validate_Retry(t *testing.T) {
	req := &CreateJobTemplateRequest{
		Name:              "restart-nginx",
		JobTypeID:         1,
		CommandTemplateID: int64Ptr(4),
		RetryCount:        -1,
	}
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_count must be >= 0")
}

func TestUpdateJobTemplateRequest_Validate(t *testing.T) {
	empty := &UpdateJobTemplateRequest{}
	assert.Error(t, empty.Validate())

	ok := &UpdateJobTemplateRequest{RetryCount: intPtr(2)}
	assert.NoError(t, ok.Validate())

	badTimeout := &UpdateJobTemplateRequest{TimeoutSeconds: intPtr(0)}
	assert.Error(t, badTimeout.Validate())
}
