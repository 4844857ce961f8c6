package core

import (
	"context"
	"time"

	"github.com/hullcrest/armada/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// CredentialRepository defines the interface for credential data operations.
type CredentialRepository interface {
	Create(ctx context.Context, req *model.CreateCredentialRequest) (*model.Credential, error)
	GetByID(ctx context.Context, id int64) (*model.Credential, error)
	GetByName(ctx context.Context, name string) (*model.Credential, error)
	List(ctx context.Context, opts model.CredentialsListOptions) ([]*model.Credential, error)
	Update(ctx context.Context, id int64, req model.UpdateCredentialRequest) (*model.Credential, error)
	// Delete removes a credential. Servers referencing it make the delete fail
	// with an in_use error.
	Delete(ctx context.Context, id int64) error
}

// TagRepository defines the interface for tag data operations.
type TagRepository interface {
	Create(ctx context.Context, req *model.CreateTagRequest) (*model.Tag, error)
	GetByID(ctx context.Context, id int64) (*model.Tag, error)
	GetByName(ctx context.Context, name string) (*model.Tag, error)
	List(ctx context.Context, opts model.TagsListOptions) ([]*model.Tag, error)
	Update(ctx context.Context, id int64, req model.UpdateTagRequest) (*model.Tag, error)
	Delete(ctx context.Context, id int64) error
	// EnsureByNames resolves tag names to ids, creating missing tags.
	EnsureByNames(ctx context.Context, names []string) ([]int64, error)
}

// ServerRepository defines the interface for server data operations.
type ServerRepository interface {
	Create(ctx context.Context, req *model.CreateServerRequest) (*model.Server, error)
	GetByID(ctx context.Context, id int64) (*model.Server, error)
	GetByName(ctx context.Context, name string) (*model.Server, error)
	List(ctx context.Context, opts model.ServersListOptions) ([]*model.Server, error)
	Update(ctx context.Context, id int64, req model.UpdateServerRequest) (*model.Server, error)
	Delete(ctx context.Context, id int64) error
	// RecordSeen stamps a successful contact and clears last_error.
	RecordSeen(ctx context.Context, id int64) error
	// RecordError stamps a failed contact with the failure message.
	RecordError(ctx context.Context, id int64, message string) error
	// RecordDetectedFacts stores OS detection results alongside last_seen_at.
	RecordDetectedFacts(ctx context.Context, id int64, facts model.DetectedFacts) error
}

// CapabilityRepository defines the interface for server capability rows.
// Rows are owned by capability detection and replaced wholesale per server.
type CapabilityRepository interface {
	Upsert(ctx context.Context, req *model.UpsertCapabilityRequest) (*model.ServerCapability, error)
	ListByServer(ctx context.Context, serverID int64) ([]*model.ServerCapability, error)
	DeleteByServer(ctx context.Context, serverID int64) error
}

// JobTypeRepository defines the interface for job type data operations.
type JobTypeRepository interface {
	Create(ctx context.Context, req *model.CreateJobTypeRequest) (*model.JobType, error)
	GetByID(ctx context.Context, id int64) (*model.JobType, error)
	GetByName(ctx context.Context, name string) (*model.JobType, error)
	List(ctx context.Context, opts model.JobTypesListOptions) ([]*model.JobType, error)
	Update(ctx context.Context, id int64, req model.UpdateJobTypeRequest) (*model.JobType, error)
	Delete(ctx context.Context, id int64) error
}

// CommandTemplateRepository defines the interface for command template data operations.
type CommandTemplateRepository interface {
	Create(ctx context.Context, req *model.CreateCommandTemplateRequest) (*model.CommandTemplate, error)
	GetByID(ctx context.Context, id int64) (*model.CommandTemplate, error)
	GetByName(ctx context.Context, jobTypeID int64, name string) (*model.CommandTemplate, error)
	List(ctx context.Context, opts model.CommandTemplatesListOptions) ([]*model.CommandTemplate, error)
	ListByJobType(ctx context.Context, jobTypeID int64) ([]*model.CommandTemplate, error)
	Update(ctx context.Context, id int64, req model.UpdateCommandTemplateRequest) (*model.CommandTemplate, error)
	Delete(ctx context.Context, id int64) error
}

// JobTemplateRepository defines the interface for job template data operations,
// including composite steps.
type JobTemplateRepository interface {
	Create(ctx context.Context, req *model.CreateJobTemplateRequest) (*model.JobTemplate, error)
	GetByID(ctx context.Context, id int64) (*model.JobTemplate, error)
	GetByName(ctx context.Context, name string) (*model.JobTemplate, error)
	ListSteps(ctx context.Context, jobTemplateID int64) ([]*model.JobTemplateStep, error)
	List(ctx context.Context, opts model.JobTemplatesListOptions) ([]*model.JobTemplate, error)
	Update(ctx context.Context, id int64, req model.UpdateJobTemplateRequest) (*model.JobTemplate, error)
	// ReplaceSteps swaps the full step list of a composite template in one transaction.
	ReplaceSteps(ctx context.Context, id int64, steps []model.CreateJobTemplateStepRequest) ([]*model.JobTemplateStep, error)
	Delete(ctx context.Context, id int64) error
}

// ScheduleRepository defines the interface for job schedule data operations.
type ScheduleRepository interface {
	Create(ctx context.Context, req *model.CreateJobScheduleRequest, nextRunAt *time.Time) (*model.JobSchedule, error)
	GetByID(ctx context.Context, id int64) (*model.JobSchedule, error)
	GetByName(ctx context.Context, name string) (*model.JobSchedule, error)
	List(ctx context.Context, opts model.SchedulesListOptions) ([]*model.JobSchedule, error)
	// ListDue returns enabled schedules whose next_run_at has passed, ordered oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.JobSchedule, error)
	ListEnabled(ctx context.Context) ([]*model.JobSchedule, error)
	Update(ctx context.Context, id int64, req model.UpdateJobScheduleRequest, nextRunAt *time.Time) (*model.JobSchedule, error)
	SetNextRun(ctx context.Context, id int64, nextRunAt *time.Time) error
	// RecordRun writes last-run bookkeeping and the per-status counters after a
	// scheduled run reaches a terminal state. A nil nextRunAt leaves the
	// next fire time untouched.
	RecordRun(ctx context.Context, id int64, status model.ScheduleRunStatus, errMsg *string, nextRunAt *time.Time) error
	// MarkSkipped records a fire that produced no run, with the reason in last_error.
	MarkSkipped(ctx context.Context, id int64, reason string, nextRunAt *time.Time) error
	RecordManualRun(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// RunRepository defines the interface for job run data operations.
type RunRepository interface {
	Create(ctx context.Context, req *model.CreateJobRunRequest) (*model.JobRun, error)
	// CreateScheduled atomically claims a due schedule fire and inserts the
	// running row in one transaction. Returns a conflict error when another
	// instance claimed the fire first.
	CreateScheduled(ctx context.Context, req *model.CreateJobRunRequest, nextRunAt *time.Time) (*model.JobRun, error)
	GetByID(ctx context.Context, id int64) (*model.JobRun, error)
	// Finish moves a running row to a terminal state. Rows already terminal are
	// left untouched and reported as not found.
	Finish(ctx context.Context, id int64, req model.FinishJobRunRequest) (*model.JobRun, error)
	List(ctx context.Context, opts model.RunsListOptions) ([]*model.JobRun, error)
	Count(ctx context.Context, opts model.RunsListOptions) (int64, error)
	HasActiveRun(ctx context.Context, scheduleID int64) (bool, error)
	FindStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.JobRun, error)
	FailStale(ctx context.Context, olderThan time.Time, errMsg string) (int64, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	RecordNotification(ctx context.Context, id int64, sent bool, notifErr *string) error
	Stats(ctx context.Context, since *time.Time) (*model.RunStats, error)
}

// StepResultRepository defines the interface for per-step records of composite runs.
type StepResultRepository interface {
	StartStep(ctx context.Context, runID int64, stepOrder int, stepName string, commandTemplateID int64) (*model.StepExecutionResult, error)
	FinishStep(ctx context.Context, id int64, status model.RunStatus, exitCode *int, output, errMsg string) (*model.StepExecutionResult, error)
	ListByRun(ctx context.Context, runID int64) ([]*model.StepExecutionResult, error)
}

// NotificationChannelRepository defines the interface for channel data operations.
type NotificationChannelRepository interface {
	Create(ctx context.Context, req *model.CreateNotificationChannelRequest) (*model.NotificationChannel, error)
	GetByID(ctx context.Context, id int64) (*model.NotificationChannel, error)
	GetByName(ctx context.Context, name string) (*model.NotificationChannel, error)
	List(ctx context.Context, opts model.ChannelsListOptions) ([]*model.NotificationChannel, error)
	Update(ctx context.Context, id int64, req model.UpdateNotificationChannelRequest) (*model.NotificationChannel, error)
	RecordTest(ctx context.Context, id int64, ok bool) error
	Delete(ctx context.Context, id int64) error
}

// NotificationPolicyRepository defines the interface for policy data operations.
type NotificationPolicyRepository interface {
	Create(ctx context.Context, req *model.CreateNotificationPolicyRequest) (*model.NotificationPolicy, error)
	GetByID(ctx context.Context, id int64) (*model.NotificationPolicy, error)
	GetByName(ctx context.Context, name string) (*model.NotificationPolicy, error)
	List(ctx context.Context, opts model.PoliciesListOptions) ([]*model.NotificationPolicy, error)
	ListEnabled(ctx context.Context) ([]*model.NotificationPolicy, error)
	Update(ctx context.Context, id int64, req model.UpdateNotificationPolicyRequest) (*model.NotificationPolicy, error)
	Delete(ctx context.Context, id int64) error
}

// NotificationLogRepository defines the interface for the delivery audit trail.
type NotificationLogRepository interface {
	Insert(ctx context.Context, req *model.LogNotificationRequest) (*model.NotificationLog, error)
	List(ctx context.Context, opts model.NotificationLogListOptions) ([]*model.NotificationLog, error)
	// CountForPolicySince counts successful deliveries attributed to a policy,
	// used by the per-policy hourly throttle.
	CountForPolicySince(ctx context.Context, policyID int64, since time.Time) (int, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// SettingsRepository defines the interface for runtime tunables.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (*model.Setting, error)
	All(ctx context.Context) ([]*model.Setting, error)
	Update(ctx context.Context, key string, req model.UpdateSettingRequest) (*model.Setting, error)
}

// ControlBus defines the interface for signalling the running daemon over the
// database control channel. The daemon side listens with the concrete repo.
type ControlBus interface {
	// NotifyReload asks daemons to recompute schedule state.
	NotifyReload(ctx context.Context) error
	// NotifyCancel asks the daemon executing the run to cancel it.
	NotifyCancel(ctx context.Context, runID int64) error
}
