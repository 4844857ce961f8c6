package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hullcrest/armada/internal/domain/model"
	"github.com/hullcrest/armada/internal/mocks"
	"github.com/hullcrest/armada/internal/notify"
)

type sentMessage struct {
	channelID int64
	kind      string
	msg       notify.Message
}

// sentRecorder stands in for the real channel adapters. Failures are
// programmed per channel id and apply to every attempt.
type sentRecorder struct {
	mu   sync.Mutex
	sent []sentMessage
	fail map[int64]error
}

func (r *sentRecorder) factory(ch model.NotificationChannel, _ notify.Options) (notify.Channel, error) {
	return notify.ChannelFunc(func(ctx context.Context, msg notify.Message) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.sent = append(r.sent, sentMessage{channelID: ch.ID, kind: string(ch.Kind), msg: msg})
		if err := r.fail[ch.ID]; err != nil {
			return err
		}
		return nil
	}), nil
}

func (r *sentRecorder) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

type notifierFixture struct {
	policies  *fakePolicyRepo
	channels  *fakeChannelRepo
	log       *fakeLogRepo
	runs      *fakeRunRepo
	templates *fakeTemplateRepo
	jobTypes  *fakeJobTypeRepo
	servers   *fakeServerRepo
	settings  *SettingsService
	clock     *stubClock
	recorder  *sentRecorder
}

func newNotifierFixture(t *testing.T, settingOverrides map[string]string) *notifierFixture {
	t.Helper()
	fx := &notifierFixture{
		policies:  newFakePolicyRepo(),
		channels:  newFakeChannelRepo(),
		log:       newFakeLogRepo(),
		runs:      newFakeRunRepo(),
		templates: newFakeTemplateRepo(),
		jobTypes:  newFakeJobTypeRepo(),
		servers:   newFakeServerRepo(),
		settings:  newTestSettings(t, settingOverrides),
		clock:     &stubClock{now: time.Now().UTC()},
		recorder:  &sentRecorder{fail: map[int64]error{}},
	}
	fx.jobTypes.put(&model.JobType{ID: 1, Name: "maintenance", Enabled: true})
	fx.templates.put(&model.JobTemplate{
		ID: 1, Name: "disk-check", DisplayName: "Disk check", JobTypeID: 1,
	})
	fx.servers.put(&model.Server{
		ID: 1, Name: "local-box", IsLocal: true, Enabled: true, TagNames: []string{"prod"},
	})
	fx.channels.put(&model.NotificationChannel{
		ID: 1, Name: "ops-hook", Kind: model.ChannelKindWebhook, Enabled: true,
	})
	return fx
}

func (fx *notifierFixture) notifier(t *testing.T) *NotifierService {
	t.Helper()
	return NewNotifierService(NotifierServiceOptions{
		Policies:       fx.policies,
		Channels:       fx.channels,
		Log:            fx.log,
		Runs:           fx.runs,
		Templates:      fx.templates,
		JobTypes:       fx.jobTypes,
		Servers:        fx.servers,
		Settings:       fx.settings,
		BaseURL:        "https://armada.example.com",
		ChannelFactory: fx.recorder.factory,
		TimeProvider:   fx.clock,
		Logger:         testLogger(),
	})
}

// opsPolicy is the baseline failure policy wired to channel 1.
func (fx *notifierFixture) opsPolicy() *model.NotificationPolicy {
	p := &model.NotificationPolicy{
		ID: 1, Name: "ops-failures", Enabled: true,
		OnFailure: true, OnTimeout: true,
		TitleTemplate: "{{status_emoji}} {{job_display_name}} on {{server_name}}",
		BodyTemplate:  "{{error_summary}}",
		ChannelIDs:    []int64{1},
	}
	fx.policies.put(p)
	return p
}

func failedRun(id int64) *model.JobRun {
	started := time.Now().Add(-time.Minute).UTC()
	finished := started.Add(9500 * time.Millisecond)
	ms := finished.Sub(started).Milliseconds()
	return &model.JobRun{
		ID:            id,
		JobTemplateID: 1,
		ServerID:      1,
		Status:        model.RunStatusFailure,
		TriggeredBy:   model.RunTriggerScheduled,
		StartedAt:     started,
		FinishedAt:    &finished,
		DurationMS:    &ms,
		ExitCode:      intPtr(3),
		Output:        "line one\nline two\nline three\nline four",
		Error:         "disk full",
	}
}

func successRun(id int64) *model.JobRun {
	run := failedRun(id)
	run.Status = model.RunStatusSuccess
	run.ExitCode = intPtr(0)
	run.Error = ""
	return run
}

func TestNotifier_DeliversMatchingPolicy(t *testing.T) {
	fx := newNotifierFixture(t, nil)
	fx.opsPolicy()
	notifier := fx.notifier(t)

	notifier.NotifyRun(context.Background(), failedRun(42), nil)

	msgs := fx.recorder.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].channelID)
	assert.Equal(t, "webhook", msgs[0].kind)
	assert.Equal(t, "❌ Disk check on local-box", msgs[0].msg.Title)
	assert.Equal(t, "disk full", msgs[0].msg.Body)
	assert.Equal(t, 5, msgs[0].msg.Priority, "channel without a priority falls back to the fleet default")
	assert.Equal(t, "failure", msgs[0].msg.Payload["status"])
	assert.Equal(t, int64(42), msgs[0].msg.Payload["run_id"])

	rows := fx.log.all()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Success)
	assert.Equal(t, int64(1), rows[0].ChannelID)
	require.NotNil(t, rows[0].PolicyID)
	assert.Equal(t, int64(1), *rows[0].PolicyID)
	require.NotNil(t, rows[0].JobRunID)
	assert.Equal(t, int64(42), *rows[0].JobRunID)
	assert.Zero(t, rows[0].RetryCount)

	fx.runs.mu.Lock()
	outcomes := append([]notificationRecord(nil), fx.runs.notifications...)
	fx.runs.mu.Unlock()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].sent)
	assert.Nil(t, outcomes[0].err)
}

func TestNotifier_StatusFlags(t *testing.T) {
	t.Run("failure-only policy ignores success", func(t *testing.T) {
		fx := newNotifierFixture(t, nil)
		fx.opsPolicy()
		fx.notifier(t).NotifyRun(context.Background(), successRun(42), nil)

		assert.Empty(t, fx.recorder.messages())
		assert.Empty(t, fx.log.all())
		fx.runs.mu.Lock()
		outcomes := len(fx.runs.notifications)
		fx.runs.mu.Unlock()
		assert.Zero(t, outcomes, "nothing attempted, nothing recorded")
	})

	t.Run("on_success opt-in delivers", func(t *testing.T) {
		fx := newNotifierFixture(t, nil)
		p := fx.opsPolicy()
		p.OnSuccess = true
		fx.policies.put(p)
		fx.notifier(t).NotifyRun(context.Background(), successRun(42), nil)

		msgs := fx.recorder.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "✅ Disk check on local-box", msgs[0].msg.Title)
	})

	t.Run("cancelled runs never notify", func(t *testing.T) {
		fx := newNotifierFixture(t, nil)
		p := fx.opsPolicy()
		p.OnSuccess = true
		fx.policies.put(p)
		run := failedRun(42)
		run.Status = model.RunStatusCancelled
		fx.notifier(t).NotifyRun(context.Background(), run, nil)

		assert.Empty(t, fx.recorder.messages())
	})
}

func TestNotifier_Filters(t *testing.T) {
	tests := []struct {
		name    string
		filters model.PolicyFilters
		want    int
	}{
		{"no filters match everything", model.PolicyFilters{}, 1},
		{"job type mismatch", model.PolicyFilters{JobType: strPtr("patching")}, 0},
		{"job type match", model.PolicyFilters{JobType: strPtr("maintenance")}, 1},
		{"server list mismatch", model.PolicyFilters{ServerIDs: []int64{2, 3}}, 0},
		{"server list match", model.PolicyFilters{ServerIDs: []int64{1, 3}}, 1},
		{"tag mismatch", model.PolicyFilters{TagNames: []string{"staging"}}, 0},
		{"tag overlap", model.PolicyFilters{TagNames: []string{"staging", "prod"}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newNotifierFixture(t, nil)
			p := fx.opsPolicy()
			p.Filters = tt.filters
			fx.policies.put(p)

			fx.notifier(t).NotifyRun(context.Background(), failedRun(42), nil)
			assert.Len(t, fx.recorder.messages(), tt.want)
		})
	}
}

func TestNotifier_MinSeverity(t *testing.T) {
	fx := newNotifierFixture(t, nil)
	p := fx.opsPolicy()
	p.OnSuccess = true
	p.MinSeverity = 2
	fx.policies.put(p)
	notifier := fx.notifier(t)

	notifier.NotifyRun(context.Background(), successRun(1), nil)
	assert.Empty(t, fx.recorder.messages(), "success severity 0 sits under the floor")

	notifier.NotifyRun(context.Background(), failedRun(2), nil)
	assert.Len(t, fx.recorder.messages(), 1)
}

func TestNotifier_PinnedPolicy(t *testing.T) {
	t.Run("pinned bypasses filters", func(t *testing.T) {
		fx := newNotifierFixture(t, nil)
		fx.policies.put(&model.NotificationPolicy{
			ID: 2, Name: "template-pinned", Enabled: true, OnFailure: true,
			Filters:       model.PolicyFilters{JobType: strPtr("patching")},
			TitleTemplate: "pinned {{job_name}}",
			BodyTemplate:  "{{status}}",
			ChannelIDs:    []int64{1},
		})
		fx.templates.put(&model.JobTemplate{
			ID: 1, Name: "disk-check", DisplayName: "Disk check", JobTypeID: 1,
			NotificationPolicyID: int64Ptr(2),
		})

		fx.notifier(t).NotifyRun(context.Background(), failedRun(42), nil)

		msgs := fx.recorder.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "pinned disk-check", msgs[0].msg.Title)
	})

	t.Run("pinned but disabled stays quiet", func(t *testing.T) {
		fx := newNotifierFixture(t, nil)
		fx.policies.put(&model.NotificationPolicy{
			ID: 2, Name: "retired", Enabled: false, OnFailure: true,
			TitleTemplate: "x", BodyTemplate: "y", ChannelIDs: []int64{1},
		})
		fx.templates.put(&model.JobTemplate{
			ID: 1, Name: "disk-check", DisplayName: "Disk check", JobTypeID: 1,
			NotificationPolicyID: int64Ptr(2),
		})

		fx.notifier(t).NotifyRun(context.Background(), failedRun(42), nil)
		assert.Empty(t, fx.recorder.messages())
	})

	t.Run("pinned still honors status flags", func(t *testing.T) {
		fx := newNotifierFixture(t, nil)
		fx.policies.put(&model.NotificationPolicy{
			ID: 2, Name: "failures-only", Enabled: true, OnFailure: true,
			TitleTemplate: "x", BodyTemplate: "y", ChannelIDs: []int64{1},
		})
		fx.templates.put(&model.JobTemplate{
			ID: 1, Name: "disk-check", DisplayName: "Disk check", JobTypeID: 1,
			NotificationPolicyID: int64Ptr(2),
		})

		fx.notifier(t).NotifyRun(context.Background(), successRun(42), nil)
		assert.Empty(t, fx.recorder.messages())
	})
}

func TestNotifier_Throttle(t *testing.T) {
	t.Run("max_per_hour caps deliveries", func(t *testing.T) {
		fx := newNotifierFixture(t, nil)
		p := fx.opsPolicy()
		p.MaxPerHour = intPtr(2)
		fx.policies.put(p)
		for i := 0; i < 2; i++ {
			_, err := fx.log.Insert(context.Background(), &model.LogNotificationRequest{
				ChannelID: 1, PolicyID: int64Ptr(1), Success: true,
			})
			require.NoError(t, err)
		}

		fx.notifier(t).NotifyRun(context.Background(), failedRun(42), nil)

		assert.Empty(t, fx.recorder.messages())
		assert.Len(t, fx.log.all(), 2, "no new audit rows for a throttled policy")
	})

	t.Run("count failure fails open", func(t *testing.T) {
		fx := newNotifierFixture(t, nil)
		p := fx.opsPolicy()
		p.MaxPerHour = intPtr(1)
		fx.policies.put(p)
		fx.log.countErr = errors.New("log table unavailable")

		fx.notifier(t).NotifyRun(context.Background(), failedRun(42), nil)

		assert.Len(t, fx.recorder.messages(), 1, "a missed throttle beats a dropped alert")
	})
}

func TestNotifier_PerStatusTemplates(t *testing.T) {
	fx := newNotifierFixture(t, nil)
	p := fx.opsPolicy()
	p.OnSuccess = true
	p.SuccessTitleTemplate = strPtr("all well: {{job_name}}")
	p.FailureTitleTemplate = strPtr("NEEDS ATTENTION: {{job_name}} ({{error_summary}})")
	fx.policies.put(p)
	notifier := fx.notifier(t)

	notifier.NotifyRun(context.Background(), failedRun(1), nil)
	notifier.NotifyRun(context.Background(), successRun(2), nil)

	msgs := fx.recorder.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "NEEDS ATTENTION: disk-check (disk full)", msgs[0].msg.Title)
	assert.Equal(t, "all well: disk-check", msgs[1].msg.Title)
}

func TestNotifier_FanOutRecordsWorstOutcome(t *testing.T) {
	fx := newNotifierFixture(t, nil)
	fx.channels.put(&model.NotificationChannel{
		ID: 2, Name: "pager", Kind: model.ChannelKindGotify, Enabled: true, DefaultPriority: 8,
	})
	p := fx.opsPolicy()
	p.ChannelIDs = []int64{1, 2}
	fx.policies.put(p)
	fx.recorder.fail[2] = errors.New("gotify: 502 bad gateway")

	fx.notifier(t).NotifyRun(context.Background(), failedRun(42), nil)

	// Channel 1 delivered once; channel 2 burned all three attempts.
	var ch1, ch2 int
	for _, m := range fx.recorder.messages() {
		switch m.channelID {
		case 1:
			ch1++
		case 2:
			ch2++
			assert.Equal(t, 8, m.msg.Priority)
		}
	}
	assert.Equal(t, 1, ch1)
	assert.Equal(t, 3, ch2)

	byChannel := map[int64]*model.NotificationLog{}
	for _, row := range fx.log.all() {
		byChannel[row.ChannelID] = row
	}
	require.Len(t, byChannel, 2)
	assert.True(t, byChannel[1].Success)
	assert.False(t, byChannel[2].Success)
	assert.Equal(t, 2, byChannel[2].RetryCount)
	require.NotNil(t, byChannel[2].ErrorMessage)
	assert.Contains(t, *byChannel[2].ErrorMessage, "502")

	fx.runs.mu.Lock()
	outcomes := append([]notificationRecord(nil), fx.runs.notifications...)
	fx.runs.mu.Unlock()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].sent, "one failed channel fails the run's outcome")
	require.NotNil(t, outcomes[0].err)
	assert.Contains(t, *outcomes[0].err, "channel 2")
}

func TestNotifier_SkipsMissingAndDisabledChannels(t *testing.T) {
	fx := newNotifierFixture(t, nil)
	fx.channels.put(&model.NotificationChannel{
		ID: 3, Name: "muted", Kind: model.ChannelKindNtfy, Enabled: false,
	})
	p := fx.opsPolicy()
	p.ChannelIDs = []int64{1, 7, 3}
	fx.policies.put(p)

	fx.notifier(t).NotifyRun(context.Background(), failedRun(42), nil)

	msgs := fx.recorder.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].channelID)

	// Skipped channels do not drag the outcome down.
	fx.runs.mu.Lock()
	outcomes := append([]notificationRecord(nil), fx.runs.notifications...)
	fx.runs.mu.Unlock()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].sent)
}

func TestNotifier_GlobalKillSwitch(t *testing.T) {
	fx := newNotifierFixture(t, map[string]string{
		model.SettingNotificationsEnabled: "false",
	})
	fx.opsPolicy()

	fx.notifier(t).NotifyRun(context.Background(), failedRun(42), nil)

	assert.Empty(t, fx.recorder.messages())
	fx.runs.mu.Lock()
	outcomes := len(fx.runs.notifications)
	fx.runs.mu.Unlock()
	assert.Zero(t, outcomes)
}

func TestNotifier_OutputSnippet(t *testing.T) {
	fx := newNotifierFixture(t, nil)
	p := fx.opsPolicy()
	p.IncludeOutput = true
	p.OutputMaxLines = 2
	p.BodyTemplate = "{{output_snippet}}"
	fx.policies.put(p)

	fx.notifier(t).NotifyRun(context.Background(), failedRun(42), nil)

	msgs := fx.recorder.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "line one\nline two\n… (2 more lines)", msgs[0].msg.Body)
}

func TestNotifier_StepSummaryVariable(t *testing.T) {
	fx := newNotifierFixture(t, nil)
	p := fx.opsPolicy()
	p.BodyTemplate = "{{step_summary}}"
	fx.policies.put(p)

	steps := []*model.StepExecutionResult{
		{StepOrder: 1, StepName: "check disk", Status: model.RunStatusSuccess},
		{StepOrder: 2, StepName: "pull repo", Status: model.RunStatusFailure, Error: "fatal: not a git repository\ndetail"},
	}
	fx.notifier(t).NotifyRun(context.Background(), failedRun(42), steps)

	msgs := fx.recorder.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].msg.Body, "✅ step 1 (check disk): success")
	assert.Contains(t, msgs[0].msg.Body, "❌ step 2 (pull repo): failure - fatal: not a git repository")
}

func TestNotifier_RecordsLookupFailure(t *testing.T) {
	fx := newNotifierFixture(t, nil)
	fx.opsPolicy()
	run := failedRun(42)
	run.JobTemplateID = 99

	fx.notifier(t).NotifyRun(context.Background(), run, nil)

	assert.Empty(t, fx.recorder.messages())
	fx.runs.mu.Lock()
	outcomes := append([]notificationRecord(nil), fx.runs.notifications...)
	fx.runs.mu.Unlock()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].sent)
	require.NotNil(t, outcomes[0].err)
	assert.Contains(t, *outcomes[0].err, "load job template")
}

func TestNotifier_RetryDeliversOnSecondAttempt(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fx := newNotifierFixture(t, nil)
	fx.opsPolicy()

	channel := mocks.NewMockChannel(ctrl)
	gomock.InOrder(
		channel.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("gotify: 502 Bad Gateway")),
		channel.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil),
	)

	notifier := NewNotifierService(NotifierServiceOptions{
		Policies:  fx.policies,
		Channels:  fx.channels,
		Log:       fx.log,
		Runs:      fx.runs,
		Templates: fx.templates,
		JobTypes:  fx.jobTypes,
		Servers:   fx.servers,
		Settings:  fx.settings,
		BaseURL:   "https://armada.example.com",
		ChannelFactory: func(model.NotificationChannel, notify.Options) (notify.Channel, error) {
			return channel, nil
		},
		TimeProvider: fx.clock,
		Logger:       testLogger(),
	})

	notifier.NotifyRun(context.Background(), failedRun(42), nil)

	rows := fx.log.all()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Success, "second attempt lands the message")
	assert.Zero(t, rows[0].RetryCount, "retry count is only recorded for failed deliveries")

	fx.runs.mu.Lock()
	outcomes := append([]notificationRecord(nil), fx.runs.notifications...)
	fx.runs.mu.Unlock()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].sent)
}
