// Package testutil provides testing utilities and helpers for the armada fleet orchestrator.
package testutil

import (
	"github.com/hullcrest/armada/internal/domain/model"
)

// ServerRequestBuilder provides a fluent interface for building CreateServerRequest objects for testing.
type ServerRequestBuilder struct {
	req *model.CreateServerRequest
}

// NewServerRequest creates a new ServerRequestBuilder with sensible defaults:
// an enabled local server.
func NewServerRequest() *ServerRequestBuilder {
	return &ServerRequestBuilder{
		req: &model.CreateServerRequest{
			Name:    "test-server",
			IsLocal: true,
		},
	}
}

// WithName sets the server name.
func (b *ServerRequestBuilder) WithName(name string) *ServerRequestBuilder {
	b.req.Name = name
	return b
}

// Remote turns the request into a remote server reached at host as user.
func (b *ServerRequestBuilder) Remote(host, user string) *ServerRequestBuilder {
	b.req.IsLocal = false
	b.req.Hostname = StringPtr(host)
	b.req.Username = StringPtr(user)
	return b
}

// WithPort sets the SSH port.
func (b *ServerRequestBuilder) WithPort(port int) *ServerRequestBuilder {
	b.req.Port = IntPtr(port)
	return b
}

// WithCredential attaches a credential by id.
func (b *ServerRequestBuilder) WithCredential(id int64) *ServerRequestBuilder {
	b.req.CredentialID = Int64Ptr(id)
	return b
}

// WithTags sets the tag names applied on create.
func (b *ServerRequestBuilder) WithTags(names ...string) *ServerRequestBuilder {
	b.req.TagNames = names
	return b
}

// Disabled marks the server disabled.
func (b *ServerRequestBuilder) Disabled() *ServerRequestBuilder {
	b.req.Enabled = BoolPtr(false)
	return b
}

// Build returns the constructed request.
func (b *ServerRequestBuilder) Build() *model.CreateServerRequest {
	return b.req
}

// CommandTemplateRequestBuilder provides a fluent interface for building
// CreateCommandTemplateRequest objects for testing.
type CommandTemplateRequestBuilder struct {
	req *model.CreateCommandTemplateRequest
}

// NewCommandTemplateRequest creates a new CommandTemplateRequestBuilder with a
// parameterized disk usage command under the given job type.
func NewCommandTemplateRequest(jobTypeID int64) *CommandTemplateRequestBuilder {
	return &CommandTemplateRequestBuilder{
		req: &model.CreateCommandTemplateRequest{
			JobTypeID:     jobTypeID,
			Name:          "disk-usage",
			CommandString: "df -h {{path}}",
			Parameters: []model.ParamSpec{
				{Name: "path", Required: false, Default: StringPtr("/")},
			},
			TimeoutSeconds: IntPtr(60),
		},
	}
}

// WithName sets the command template name.
func (b *CommandTemplateRequestBuilder) WithName(name string) *CommandTemplateRequestBuilder {
	b.req.Name = name
	return b
}

// WithCommand sets the command string and replaces the declared parameters.
func (b *CommandTemplateRequestBuilder) WithCommand(command string, params ...model.ParamSpec) *CommandTemplateRequestBuilder {
	b.req.CommandString = command
	b.req.Parameters = params
	return b
}

// WithCapabilities sets the capabilities a server must advertise.
func (b *CommandTemplateRequestBuilder) WithCapabilities(names ...string) *CommandTemplateRequestBuilder {
	b.req.RequiredCapabilities = names
	return b
}

// WithTimeout sets the command timeout in seconds.
func (b *CommandTemplateRequestBuilder) WithTimeout(seconds int) *CommandTemplateRequestBuilder {
	b.req.TimeoutSeconds = IntPtr(seconds)
	return b
}

// WithEnvironment sets the environment injected on execution.
func (b *CommandTemplateRequestBuilder) WithEnvironment(env map[string]string) *CommandTemplateRequestBuilder {
	b.req.Environment = env
	return b
}

// WithWorkingDirectory sets the working directory.
func (b *CommandTemplateRequestBuilder) WithWorkingDirectory(dir string) *CommandTemplateRequestBuilder {
	b.req.WorkingDirectory = StringPtr(dir)
	return b
}

// Build returns the constructed request.
func (b *CommandTemplateRequestBuilder) Build() *model.CreateCommandTemplateRequest {
	return b.req
}

// JobTemplateRequestBuilder provides a fluent interface for building
// CreateJobTemplateRequest objects for testing.
type JobTemplateRequestBuilder struct {
	req *model.CreateJobTemplateRequest
}

// NewJobTemplateRequest creates a new JobTemplateRequestBuilder for a simple
// template wrapping the given command template.
func NewJobTemplateRequest(jobTypeID, commandTemplateID int64) *JobTemplateRequestBuilder {
	return &JobTemplateRequestBuilder{
		req: &model.CreateJobTemplateRequest{
			Name:              "disk-check",
			DisplayName:       "Disk check",
			JobTypeID:         jobTypeID,
			CommandTemplateID: Int64Ptr(commandTemplateID),
		},
	}
}

// WithName sets the template name.
func (b *JobTemplateRequestBuilder) WithName(name string) *JobTemplateRequestBuilder {
	b.req.Name = name
	return b
}

// WithDisplayName sets the human-readable name used in notifications.
func (b *JobTemplateRequestBuilder) WithDisplayName(name string) *JobTemplateRequestBuilder {
	b.req.DisplayName = name
	return b
}

// WithVariables sets the template-level variable values.
func (b *JobTemplateRequestBuilder) WithVariables(vars map[string]any) *JobTemplateRequestBuilder {
	b.req.Variables = vars
	return b
}

// WithRetry sets the retry count and delay.
func (b *JobTemplateRequestBuilder) WithRetry(count, delaySeconds int) *JobTemplateRequestBuilder {
	b.req.RetryCount = count
	b.req.RetryDelaySeconds = delaySeconds
	return b
}

// NotifyOnFailure opts the template into failure notifications.
func (b *JobTemplateRequestBuilder) NotifyOnFailure() *JobTemplateRequestBuilder {
	b.req.NotifyOnFailure = BoolPtr(true)
	return b
}

// NotifyOnSuccess opts the template into success notifications.
func (b *JobTemplateRequestBuilder) NotifyOnSuccess() *JobTemplateRequestBuilder {
	b.req.NotifyOnSuccess = BoolPtr(true)
	return b
}

// WithPolicy pins the template to a notification policy.
func (b *JobTemplateRequestBuilder) WithPolicy(id int64) *JobTemplateRequestBuilder {
	b.req.NotificationPolicyID = Int64Ptr(id)
	return b
}

// Composite turns the request into a composite template with the given
// steps, dropping any command template id the builder started with.
func (b *JobTemplateRequestBuilder) Composite(steps ...model.CreateJobTemplateStepRequest) *JobTemplateRequestBuilder {
	b.req.IsComposite = true
	b.req.CommandTemplateID = nil
	b.req.Steps = steps
	return b
}

// Build returns the constructed request.
func (b *JobTemplateRequestBuilder) Build() *model.CreateJobTemplateRequest {
	return b.req
}

// Step builds one composite template step.
func Step(order int, name string, commandTemplateID int64) model.CreateJobTemplateStepRequest {
	return model.CreateJobTemplateStepRequest{
		StepOrder:         order,
		Name:              name,
		CommandTemplateID: commandTemplateID,
	}
}

// TolerantStep builds a composite step that does not abort the run on failure.
func TolerantStep(order int, name string, commandTemplateID int64) model.CreateJobTemplateStepRequest {
	step := Step(order, name, commandTemplateID)
	step.ContinueOnFailure = true
	return step
}

// ScheduleRequestBuilder provides a fluent interface for building
// CreateJobScheduleRequest objects for testing.
type ScheduleRequestBuilder struct {
	req *model.CreateJobScheduleRequest
}

// NewScheduleRequest creates a new ScheduleRequestBuilder firing nightly at
// 03:00 against the given template and server.
func NewScheduleRequest(templateID, serverID int64) *ScheduleRequestBuilder {
	return &ScheduleRequestBuilder{
		req: &model.CreateJobScheduleRequest{
			Name:          "nightly-check",
			JobTemplateID: templateID,
			ServerID:      serverID,
			Schedule:      "0 0 3 * * *",
		},
	}
}

// WithName sets the schedule name.
func (b *ScheduleRequestBuilder) WithName(name string) *ScheduleRequestBuilder {
	b.req.Name = name
	return b
}

// WithCron sets the six-field cron expression.
func (b *ScheduleRequestBuilder) WithCron(expr string) *ScheduleRequestBuilder {
	b.req.Schedule = expr
	return b
}

// Disabled creates the schedule disabled.
func (b *ScheduleRequestBuilder) Disabled() *ScheduleRequestBuilder {
	b.req.Enabled = BoolPtr(false)
	return b
}

// WithTimeout sets the run timeout override in seconds.
func (b *ScheduleRequestBuilder) WithTimeout(seconds int) *ScheduleRequestBuilder {
	b.req.TimeoutSeconds = IntPtr(seconds)
	return b
}

// WithRetry sets the retry count override.
func (b *ScheduleRequestBuilder) WithRetry(count int) *ScheduleRequestBuilder {
	b.req.RetryCount = IntPtr(count)
	return b
}

// Build returns the constructed request.
func (b *ScheduleRequestBuilder) Build() *model.CreateJobScheduleRequest {
	return b.req
}

// ChannelRequestBuilder provides a fluent interface for building
// CreateNotificationChannelRequest objects for testing.
type ChannelRequestBuilder struct {
	req *model.CreateNotificationChannelRequest
}

// NewChannelRequest creates a new ChannelRequestBuilder for a webhook channel.
func NewChannelRequest() *ChannelRequestBuilder {
	return &ChannelRequestBuilder{
		req: &model.CreateNotificationChannelRequest{
			Name:   "ops-webhook",
			Kind:   model.ChannelKindWebhook,
			Config: map[string]any{"url": "https://hooks.example.com/armada"},
		},
	}
}

// WithName sets the channel name.
func (b *ChannelRequestBuilder) WithName(name string) *ChannelRequestBuilder {
	b.req.Name = name
	return b
}

// WithKind sets the delivery kind and its config map.
func (b *ChannelRequestBuilder) WithKind(kind model.ChannelKind, config map[string]any) *ChannelRequestBuilder {
	b.req.Kind = kind
	b.req.Config = config
	return b
}

// WithPriority sets the default message priority.
func (b *ChannelRequestBuilder) WithPriority(priority int) *ChannelRequestBuilder {
	b.req.DefaultPriority = IntPtr(priority)
	return b
}

// Disabled creates the channel disabled.
func (b *ChannelRequestBuilder) Disabled() *ChannelRequestBuilder {
	b.req.Enabled = BoolPtr(false)
	return b
}

// Build returns the constructed request.
func (b *ChannelRequestBuilder) Build() *model.CreateNotificationChannelRequest {
	return b.req
}

// PolicyRequestBuilder provides a fluent interface for building
// CreateNotificationPolicyRequest objects for testing.
type PolicyRequestBuilder struct {
	req *model.CreateNotificationPolicyRequest
}

// NewPolicyRequest creates a new PolicyRequestBuilder that fires on failures
// and timeouts through the given channels.
func NewPolicyRequest(channelIDs ...int64) *PolicyRequestBuilder {
	return &PolicyRequestBuilder{
		req: &model.CreateNotificationPolicyRequest{
			Name:       "ops-failures",
			OnFailure:  true,
			OnTimeout:  true,
			ChannelIDs: channelIDs,
		},
	}
}

// WithName sets the policy name.
func (b *PolicyRequestBuilder) WithName(name string) *PolicyRequestBuilder {
	b.req.Name = name
	return b
}

// OnSuccess opts the policy into success notifications.
func (b *PolicyRequestBuilder) OnSuccess() *PolicyRequestBuilder {
	b.req.OnSuccess = true
	return b
}

// WithFilters scopes the policy to matching runs.
func (b *PolicyRequestBuilder) WithFilters(filters model.PolicyFilters) *PolicyRequestBuilder {
	b.req.Filters = filters
	return b
}

// WithThrottle caps deliveries per hour.
func (b *PolicyRequestBuilder) WithThrottle(maxPerHour int) *PolicyRequestBuilder {
	b.req.MaxPerHour = IntPtr(maxPerHour)
	return b
}

// WithTemplates sets the title and body templates.
func (b *PolicyRequestBuilder) WithTemplates(title, body string) *PolicyRequestBuilder {
	b.req.TitleTemplate = title
	b.req.BodyTemplate = body
	return b
}

// Build returns the constructed request.
func (b *PolicyRequestBuilder) Build() *model.CreateNotificationPolicyRequest {
	return b.req
}

// Common fleet presets

// LocalServerRequest creates an enabled local server request.
func LocalServerRequest(name string) *model.CreateServerRequest {
	return NewServerRequest().WithName(name).Build()
}

// RemoteServerRequest creates an enabled remote server request.
func RemoteServerRequest(name, host, user string) *model.CreateServerRequest {
	return NewServerRequest().WithName(name).Remote(host, user).Build()
}

// DiskCheckCommandRequest creates the default parameterized disk usage command.
func DiskCheckCommandRequest(jobTypeID int64) *model.CreateCommandTemplateRequest {
	return NewCommandTemplateRequest(jobTypeID).Build()
}

// SimpleTemplateRequest creates a simple job template wrapping one command.
func SimpleTemplateRequest(jobTypeID, commandTemplateID int64) *model.CreateJobTemplateRequest {
	return NewJobTemplateRequest(jobTypeID, commandTemplateID).Build()
}

// CompositeTemplateRequest creates a composite job template from the given steps.
func CompositeTemplateRequest(jobTypeID int64, steps ...model.CreateJobTemplateStepRequest) *model.CreateJobTemplateRequest {
	return NewJobTemplateRequest(jobTypeID, 0).
		WithName("maintenance-pipeline").
		WithDisplayName("Maintenance pipeline").
		Composite(steps...).
		Build()
}
