package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/data"
	"github.com/hullcrest/armada/internal/domain/model"
	"github.com/hullcrest/armada/internal/domain/render"
	"github.com/hullcrest/armada/internal/notify"
	"github.com/hullcrest/armada/internal/observability/metrics"
	"github.com/hullcrest/armada/internal/observability/statsd"
)

const (
	// deliveryAttempts bounds retries per channel: 1s, 2s, 4s between tries.
	deliveryAttempts       = 3
	deliveryBackoffBase    = time.Second
	deliveryAttemptTimeout = 10 * time.Second
	throttleWindow         = time.Hour
	errorSummaryMaxLen     = 500
)

var statusEmoji = map[model.RunStatus]string{
	model.RunStatusSuccess:   "✅",
	model.RunStatusFailure:   "❌",
	model.RunStatusTimeout:   "⏱️",
	model.RunStatusCancelled: "🚫",
}

// NotifierServiceOptions holds the dependencies for creating a NotifierService.
type NotifierServiceOptions struct {
	Policies  core.NotificationPolicyRepository
	Channels  core.NotificationChannelRepository
	Log       core.NotificationLogRepository
	Runs      core.RunRepository
	Templates core.JobTemplateRepository
	JobTypes  core.JobTypeRepository
	Servers   core.ServerRepository
	Settings  *SettingsService
	// Notify carries shared adapter knobs (HTTP client, per-attempt timeout).
	Notify notify.Options
	// BaseURL, when set, is prepended to run paths for the run_url variable.
	BaseURL string
	// ChannelFactory builds delivery adapters; defaults to notify.New.
	ChannelFactory func(model.NotificationChannel, notify.Options) (notify.Channel, error)
	Metrics        statsd.Sink // optional
	TimeProvider   data.TimeProvider
	Logger         *slog.Logger
}

// NotifierService fans completed runs out to notification channels through
// operator-defined policies. It never fails a run: every delivery problem
// ends up in the notification log and on the run's notification_error.
type NotifierService struct {
	policies     core.NotificationPolicyRepository
	channels     core.NotificationChannelRepository
	log          core.NotificationLogRepository
	runs         core.RunRepository
	templates    core.JobTemplateRepository
	jobTypes     core.JobTypeRepository
	servers      core.ServerRepository
	settings     *SettingsService
	notify       notify.Options
	baseURL      string
	newChannel   func(model.NotificationChannel, notify.Options) (notify.Channel, error)
	metrics      statsd.Sink
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewNotifierService creates a new NotifierService with the given dependencies.
func NewNotifierService(opts NotifierServiceOptions) *NotifierService {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	factory := opts.ChannelFactory
	if factory == nil {
		factory = notify.New
	}
	return &NotifierService{
		policies:     opts.Policies,
		channels:     opts.Channels,
		log:          opts.Log,
		runs:         opts.Runs,
		templates:    opts.Templates,
		jobTypes:     opts.JobTypes,
		servers:      opts.Servers,
		settings:     opts.Settings,
		notify:       opts.Notify,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		newChannel:   factory,
		metrics:      opts.Metrics,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger.With("component", "notifier"),
	}
}

// candidate is one policy under consideration for a run. Policies pinned on
// the job template bypass filter matching but not the status flags or the
// throttle.
type candidate struct {
	policy *model.NotificationPolicy
	pinned bool
}

// deliveryResult is the final outcome of one (policy, channel) delivery.
type deliveryResult struct {
	channelID int64
	ok        bool
	err       error
}

// NotifyRun fans a completed run out to every matching policy's channels and
// records the worst outcome on the run row. Errors are logged, never returned:
// the run's terminal status is already settled by the time this is called.
func (s *NotifierService) NotifyRun(ctx context.Context, run *model.JobRun, steps []*model.StepExecutionResult) {
	if run == nil {
		return
	}
	if !s.settings.NotificationsEnabled(ctx) {
		s.logger.DebugContext(ctx, "notifications disabled, skipping run", "run_id", run.ID)
		return
	}

	tmpl, err := s.templates.GetByID(ctx, run.JobTemplateID)
	if err != nil {
		s.recordOutcome(ctx, run.ID, false, fmt.Sprintf("load job template: %v", err))
		return
	}
	server, err := s.servers.GetByID(ctx, run.ServerID)
	if err != nil {
		s.recordOutcome(ctx, run.ID, false, fmt.Sprintf("load server: %v", err))
		return
	}
	jobType, err := s.jobTypes.GetByID(ctx, tmpl.JobTypeID)
	if err != nil {
		s.recordOutcome(ctx, run.ID, false, fmt.Sprintf("load job type: %v", err))
		return
	}

	candidates, err := s.candidates(ctx, tmpl)
	if err != nil {
		s.recordOutcome(ctx, run.ID, false, fmt.Sprintf("load policies: %v", err))
		return
	}

	vars := s.buildVars(run, tmpl, server, steps)
	var results []deliveryResult
	for _, cand := range candidates {
		if !s.policyApplies(cand, run, server, jobType.Name) {
			continue
		}
		if s.throttled(ctx, cand.policy) {
			s.logger.InfoContext(ctx, "policy throttled",
				"policy_id", cand.policy.ID, "policy_name", cand.policy.Name, "run_id", run.ID)
			continue
		}
		title, body := s.renderMessage(cand.policy, run, s.varsForPolicy(cand.policy, run, vars))
		results = append(results, s.deliverPolicy(ctx, cand.policy, run, title, body)...)
	}

	if len(results) == 0 {
		return
	}
	var failures []string
	for _, res := range results {
		if !res.ok {
			failures = append(failures, fmt.Sprintf("channel %d: %v", res.channelID, res.err))
		}
	}
	if len(failures) == 0 {
		s.recordOutcome(ctx, run.ID, true, "")
		return
	}
	s.recordOutcome(ctx, run.ID, false, truncate(strings.Join(failures, "; "), errorSummaryMaxLen))
}

// candidates returns the enabled policies plus the template's pinned policy,
// deduplicated, with the pinned one flagged to bypass filters.
func (s *NotifierService) candidates(ctx context.Context, tmpl *model.JobTemplate) ([]candidate, error) {
	enabled, err := s.policies.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	var pinnedID int64
	if tmpl.NotificationPolicyID != nil {
		pinnedID = *tmpl.NotificationPolicyID
	}

	out := make([]candidate, 0, len(enabled)+1)
	seenPinned := false
	for _, p := range enabled {
		pinned := p.ID == pinnedID
		seenPinned = seenPinned || pinned
		out = append(out, candidate{policy: p, pinned: pinned})
	}
	if pinnedID != 0 && !seenPinned {
		// Pinned but not in the enabled set: look it up so a disabled pinned
		// policy is skipped deliberately rather than silently missed.
		p, err := s.policies.GetByID(ctx, pinnedID)
		if err != nil {
			s.logger.WarnContext(ctx, "pinned notification policy missing",
				"policy_id", pinnedID, "job_template_id", tmpl.ID, "error", err)
			return out, nil
		}
		if p.Enabled {
			out = append(out, candidate{policy: p, pinned: true})
		}
	}
	return out, nil
}

// policyApplies checks the status flags, severity floor, and, for unpinned
// policies, the job-type/server/tag filters.
func (s *NotifierService) policyApplies(cand candidate, run *model.JobRun, server *model.Server, jobTypeName string) bool {
	p := cand.policy
	switch run.Status {
	case model.RunStatusSuccess:
		if !p.OnSuccess {
			return false
		}
	case model.RunStatusFailure:
		if !p.OnFailure {
			return false
		}
	case model.RunStatusTimeout:
		if !p.OnTimeout {
			return false
		}
	default:
		return false
	}
	if model.StatusSeverity(run.Status) < p.MinSeverity {
		return false
	}
	if cand.pinned {
		return true
	}

	f := p.Filters
	if f.JobType != nil && *f.JobType != jobTypeName {
		return false
	}
	if len(f.ServerIDs) > 0 && !containsID(f.ServerIDs, run.ServerID) {
		return false
	}
	if len(f.TagNames) > 0 && !anyTagMatch(f.TagNames, server.TagNames) {
		return false
	}
	return true
}

// throttled enforces the policy's max_per_hour against the delivery log.
// Counting errors fail open: a missed throttle beats a dropped alert.
func (s *NotifierService) throttled(ctx context.Context, p *model.NotificationPolicy) bool {
	if p.MaxPerHour == nil {
		return false
	}
	since := s.timeProvider.Now().Add(-throttleWindow)
	count, err := s.log.CountForPolicySince(ctx, p.ID, since)
	if err != nil {
		s.logger.WarnContext(ctx, "throttle count failed", "policy_id", p.ID, "error", err)
		return false
	}
	return count >= *p.MaxPerHour
}

// renderMessage picks the status-specific templates when present and renders
// both parts. Stored templates are compile-checked at save time; if one still
// fails, a plain fallback keeps the notification going out.
func (s *NotifierService) renderMessage(p *model.NotificationPolicy, run *model.JobRun, vars map[string]any) (string, string) {
	titleSrc, bodySrc := p.TitleTemplate, p.BodyTemplate
	switch run.Status {
	case model.RunStatusSuccess:
		if p.SuccessTitleTemplate != nil {
			titleSrc = *p.SuccessTitleTemplate
		}
		if p.SuccessBodyTemplate != nil {
			bodySrc = *p.SuccessBodyTemplate
		}
	case model.RunStatusFailure, model.RunStatusTimeout:
		if p.FailureTitleTemplate != nil {
			titleSrc = *p.FailureTitleTemplate
		}
		if p.FailureBodyTemplate != nil {
			bodySrc = *p.FailureBodyTemplate
		}
	}

	title, err := render.RenderString(titleSrc, vars)
	if err != nil {
		s.logger.Warn("title template failed to render", "policy_id", p.ID, "error", err)
		title = fmt.Sprintf("%s on %s: %s",
			render.Stringify(vars["job_display_name"]), render.Stringify(vars["server_name"]), run.Status)
	}
	body, err := render.RenderString(bodySrc, vars)
	if err != nil {
		s.logger.Warn("body template failed to render", "policy_id", p.ID, "error", err)
		body = fmt.Sprintf("Run %d finished with status %s.", run.ID, run.Status)
	}
	return title, body
}

// deliverPolicy sends one rendered message to each of the policy's channels,
// concurrently across channels. Each delivery writes its own audit row.
func (s *NotifierService) deliverPolicy(ctx context.Context, p *model.NotificationPolicy, run *model.JobRun, title, body string) []deliveryResult {
	results := make([]deliveryResult, len(p.ChannelIDs))
	var wg sync.WaitGroup
	for i, channelID := range p.ChannelIDs {
		i, channelID := i, channelID
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.deliverChannel(ctx, p, run, channelID, title, body)
		}()
	}
	wg.Wait()

	// Drop channels skipped on purpose (disabled or deleted) so they do not
	// count against the run's worst outcome.
	out := results[:0]
	for _, res := range results {
		if res.channelID != 0 {
			out = append(out, res)
		}
	}
	return out
}

// deliverChannel performs the retried delivery to a single channel and writes
// the audit row. A zero-valued result means the channel was skipped.
func (s *NotifierService) deliverChannel(ctx context.Context, p *model.NotificationPolicy, run *model.JobRun, channelID int64, title, body string) deliveryResult {
	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		s.logger.WarnContext(ctx, "notification channel missing",
			"channel_id", channelID, "policy_id", p.ID, "error", err)
		return deliveryResult{}
	}
	if !ch.Enabled {
		s.logger.DebugContext(ctx, "notification channel disabled",
			"channel_id", channelID, "policy_id", p.ID)
		return deliveryResult{}
	}

	priority := ch.DefaultPriority
	if priority <= 0 {
		priority = s.settings.DefaultPriority(ctx)
	}
	msg := notify.Message{
		Title:    title,
		Body:     body,
		Priority: priority,
		Payload:  runPayload(run, p),
	}

	sendErr := func() error {
		adapter, err := s.newChannel(*ch, s.notify)
		if err != nil {
			return fmt.Errorf("build %s adapter: %w", ch.Kind, err)
		}
		return s.sendWithRetry(ctx, adapter, msg)
	}()

	attempts := deliveryAttempts
	if sendErr == nil {
		attempts = 1 // logged retry count only matters for failures
	}
	logReq := &model.LogNotificationRequest{
		ChannelID:  ch.ID,
		PolicyID:   &p.ID,
		JobRunID:   &run.ID,
		Title:      title,
		Body:       body,
		Priority:   priority,
		Success:    sendErr == nil,
		RetryCount: attempts - 1,
	}
	if sendErr != nil {
		errMsg := truncate(sendErr.Error(), errorSummaryMaxLen)
		logReq.ErrorMessage = &errMsg
		s.logger.WarnContext(ctx, "notification delivery failed",
			"channel_id", ch.ID, "channel_kind", ch.Kind, "policy_id", p.ID,
			"run_id", run.ID, "error", sendErr)
	}
	if _, err := s.log.Insert(ctx, logReq); err != nil {
		s.logger.ErrorContext(ctx, "write notification log failed",
			"channel_id", ch.ID, "run_id", run.ID, "error", err)
	}
	metrics.EmitDelivery(s.metrics, string(ch.Kind), sendErr == nil, attempts)

	return deliveryResult{channelID: ch.ID, ok: sendErr == nil, err: sendErr}
}

// sendWithRetry attempts delivery up to deliveryAttempts times with
// exponential backoff, each attempt under its own timeout.
func (s *NotifierService) sendWithRetry(ctx context.Context, adapter notify.Channel, msg notify.Message) error {
	var lastErr error
	delay := deliveryBackoffBase
	for attempt := 0; attempt < deliveryAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, deliveryAttemptTimeout)
		err := adapter.Send(attemptCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < deliveryAttempts-1 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return lastErr
			case <-timer.C:
			}
			delay *= 2
		}
	}
	return lastErr
}

// recordOutcome writes the worst delivery outcome back onto the run row.
func (s *NotifierService) recordOutcome(ctx context.Context, runID int64, sent bool, errMsg string) {
	var msgPtr *string
	if errMsg != "" {
		msgPtr = &errMsg
	}
	if err := s.runs.RecordNotification(ctx, runID, sent, msgPtr); err != nil {
		s.logger.ErrorContext(ctx, "record notification outcome failed",
			"run_id", runID, "error", err)
	}
}

// buildVars assembles the substitution variables shared by every policy
// rendering for this run.
func (s *NotifierService) buildVars(run *model.JobRun, tmpl *model.JobTemplate, server *model.Server, steps []*model.StepExecutionResult) map[string]any {
	duration := run.Duration()
	vars := map[string]any{
		"job_name":         tmpl.Name,
		"job_display_name": tmpl.DisplayName,
		"server_name":      server.Name,
		"status":           string(run.Status),
		"status_emoji":     statusEmoji[run.Status],
		"duration_seconds": fmt.Sprintf("%.1f", duration.Seconds()),
		"duration_human":   humanDuration(duration),
		"run_id":           run.ID,
		"triggered_by":     string(run.TriggeredBy),
		"started_at":       run.StartedAt.UTC().Format(time.RFC3339),
		"retry_attempt":    run.RetryAttempt,
		"partial_success":  run.PartialSuccess(),
	}
	if server.Hostname != nil {
		vars["server_hostname"] = *server.Hostname
	} else if server.IsLocal {
		vars["server_hostname"] = "localhost"
	}
	if run.ExitCode != nil {
		vars["exit_code"] = *run.ExitCode
	}
	if run.FinishedAt != nil {
		vars["finished_at"] = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	if run.Error != "" {
		vars["error_summary"] = truncate(run.Error, errorSummaryMaxLen)
	}
	if s.baseURL != "" {
		vars["run_url"] = fmt.Sprintf("%s/runs/%d", s.baseURL, run.ID)
	}
	if len(steps) > 0 {
		vars["step_summary"] = stepSummary(steps)
	}
	return vars
}

// varsForPolicy layers the per-policy output snippet over the shared set.
func (s *NotifierService) varsForPolicy(p *model.NotificationPolicy, run *model.JobRun, shared map[string]any) map[string]any {
	if !p.IncludeOutput || run.Output == "" {
		return shared
	}
	vars := render.Merge(shared)
	vars["output_snippet"] = outputSnippet(run.Output, p.OutputMaxLines)
	return vars
}

func runPayload(run *model.JobRun, p *model.NotificationPolicy) map[string]any {
	payload := map[string]any{
		"run_id":          run.ID,
		"job_template_id": run.JobTemplateID,
		"server_id":       run.ServerID,
		"status":          string(run.Status),
		"triggered_by":    string(run.TriggeredBy),
		"started_at":      run.StartedAt.UTC().Format(time.RFC3339),
		"policy_id":       p.ID,
		"policy_name":     p.Name,
	}
	if run.ExitCode != nil {
		payload["exit_code"] = *run.ExitCode
	}
	if run.FinishedAt != nil {
		payload["finished_at"] = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	if run.DurationMS != nil {
		payload["duration_ms"] = *run.DurationMS
	}
	return payload
}

// stepSummary renders one line per step for composite-run notifications.
func stepSummary(steps []*model.StepExecutionResult) string {
	var b strings.Builder
	for i, st := range steps {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s step %d (%s): %s", statusEmoji[st.Status], st.StepOrder, st.StepName, st.Status)
		if st.Status != model.RunStatusSuccess && st.Error != "" {
			fmt.Fprintf(&b, " - %s", firstLine(st.Error))
		}
	}
	return b.String()
}

// outputSnippet keeps the first maxLines lines of output, marking truncation.
func outputSnippet(output string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	kept := strings.Join(lines[:maxLines], "\n")
	return fmt.Sprintf("%s\n… (%d more lines)", kept, len(lines)-maxLines)
}

// humanDuration formats a duration the way operators read one in an alert.
func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen - 1
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// anyTagMatch reports whether the server carries at least one of the policy's
// tags. Matching is case-insensitive; tags are stored lowercased but older
// rows may predate that.
func anyTagMatch(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}
