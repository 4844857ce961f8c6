// Package service provides the business logic layer of the armada orchestrator.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// Fallbacks used when a setting row is missing or unreadable. They mirror the
// seeded defaults so a half-migrated database still behaves.
const (
	fallbackCheckInterval     = 30 * time.Second
	fallbackDefaultTimeout    = 300 * time.Second
	fallbackMaxConcurrent     = 5
	fallbackSubmitTimeout     = 10 * time.Second
	fallbackRetentionDays     = 90
	fallbackSSHConnectTimeout = 10 * time.Second
	fallbackSSHCommandTimeout = 300 * time.Second
	fallbackDefaultPriority   = 5

	defaultSettingsCacheTTL = 30 * time.Second

	// The cache backend owns the daemon keyspace; this only scopes settings
	// within it.
	settingsCachePrefix = "settings:"
)

// SettingsServiceOptions groups dependencies for SettingsService.
type SettingsServiceOptions struct {
	Repo     core.SettingsRepository // Required: settings repository
	Cache    core.CacheRepository    // Optional: read-through cache for hot keys
	CacheTTL time.Duration           // Optional: cache entry lifetime, defaults to 30s
	Logger   *slog.Logger            // Optional: structured logger
}

// SettingsService reads and updates runtime tunables. Accessors never fail:
// unreadable values fall back to the seeded defaults so a bad edit cannot
// stall the daemon.
type SettingsService struct {
	repo     core.SettingsRepository
	cache    core.CacheRepository
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewSettingsService constructs a new SettingsService.
func NewSettingsService(opts SettingsServiceOptions) (*SettingsService, error) {
	if opts.Repo == nil {
		return nil, errors.New("SettingsRepository is required")
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultSettingsCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsService{
		repo:     opts.Repo,
		cache:    opts.Cache,
		cacheTTL: ttl,
		logger:   logger.With("component", "settings_service"),
	}, nil
}

// Get returns one setting row by key.
func (s *SettingsService) Get(ctx context.Context, key string) (*model.Setting, error) {
	return s.repo.Get(ctx, key)
}

// All returns every setting row.
func (s *SettingsService) All(ctx context.Context) ([]*model.Setting, error) {
	return s.repo.All(ctx)
}

// Update changes a setting's value after checking it parses under the
// setting's declared type, then drops the cached copy.
func (s *SettingsService) Update(ctx context.Context, key, value string) (*model.Setting, error) {
	current, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateSettingValue(current.ValueType, value); err != nil {
		return nil, apperrors.ValidationField("value", err.Error())
	}
	updated, err := s.repo.Update(ctx, key, model.UpdateSettingRequest{Value: value})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, key)
	return updated, nil
}

// CheckInterval returns how often the scheduler polls for due schedules.
func (s *SettingsService) CheckInterval(ctx context.Context) time.Duration {
	return s.durationSetting(ctx, model.SettingSchedulerCheckInterval, fallbackCheckInterval)
}

// DefaultTimeout returns the command timeout used when neither template nor
// schedule sets one.
func (s *SettingsService) DefaultTimeout(ctx context.Context) time.Duration {
	return s.durationSetting(ctx, model.SettingJobsDefaultTimeout, fallbackDefaultTimeout)
}

// MaxConcurrent returns the executor's run concurrency cap.
func (s *SettingsService) MaxConcurrent(ctx context.Context) int {
	n := s.intSetting(ctx, model.SettingJobsMaxConcurrent, fallbackMaxConcurrent)
	if n < 1 {
		return 1
	}
	return n
}

// SubmitTimeout returns how long a submission waits for an execution slot.
func (s *SettingsService) SubmitTimeout(ctx context.Context) time.Duration {
	return s.durationSetting(ctx, model.SettingJobsSubmitTimeout, fallbackSubmitTimeout)
}

// RetentionDays returns how many days of run and notification history to
// keep. Zero disables pruning.
func (s *SettingsService) RetentionDays(ctx context.Context) int {
	n := s.intSetting(ctx, model.SettingJobsRetentionDays, fallbackRetentionDays)
	if n < 0 {
		return 0
	}
	return n
}

// SSHConnectTimeout returns the TCP-plus-handshake bound for SSH dispatch.
func (s *SettingsService) SSHConnectTimeout(ctx context.Context) time.Duration {
	return s.durationSetting(ctx, model.SettingSSHConnectTimeout, fallbackSSHConnectTimeout)
}

// SSHCommandTimeout returns the fallback timeout for commands run over SSH.
func (s *SettingsService) SSHCommandTimeout(ctx context.Context) time.Duration {
	return s.durationSetting(ctx, model.SettingSSHCommandTimeout, fallbackSSHCommandTimeout)
}

// NotificationsEnabled reports whether notification delivery is switched on.
func (s *SettingsService) NotificationsEnabled(ctx context.Context) bool {
	raw, ok := s.rawSetting(ctx, model.SettingNotificationsEnabled)
	if !ok {
		return true
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "unreadable boolean setting, using default",
			"key", model.SettingNotificationsEnabled, "value", raw)
		return true
	}
	return enabled
}

// DefaultPriority returns the notification priority used when a channel does
// not set one.
func (s *SettingsService) DefaultPriority(ctx context.Context) int {
	n := s.intSetting(ctx, model.SettingNotificationsPriority, fallbackDefaultPriority)
	if n < 0 {
		return 0
	}
	if n > 10 {
		return 10
	}
	return n
}

// Timezone returns the IANA location cron expressions are evaluated in,
// falling back to UTC when the stored name does not load.
func (s *SettingsService) Timezone(ctx context.Context) *time.Location {
	raw, ok := s.rawSetting(ctx, model.SettingTimezone)
	if !ok || raw == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "unknown timezone setting, using UTC", "value", raw)
		return time.UTC
	}
	return loc
}

func (s *SettingsService) intSetting(ctx context.Context, key string, fallback int) int {
	raw, ok := s.rawSetting(ctx, key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "unreadable integer setting, using default", "key", key, "value", raw)
		return fallback
	}
	return n
}

func (s *SettingsService) durationSetting(ctx context.Context, key string, fallback time.Duration) time.Duration {
	seconds := s.intSetting(ctx, key, int(fallback/time.Second))
	if seconds < 1 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// rawSetting reads a value through the cache when one is wired. Cache
// failures degrade to direct reads.
func (s *SettingsService) rawSetting(ctx context.Context, key string) (string, bool) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, settingsCachePrefix+key); err == nil && cached != nil {
			return string(cached), true
		}
	}

	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			s.logger.WarnContext(ctx, "read setting failed", "key", key, "error", err)
		}
		return "", false
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, settingsCachePrefix+key, []byte(setting.Value), s.cacheTTL); err != nil {
			s.logger.DebugContext(ctx, "cache setting failed", "key", key, "error", err)
		}
	}
	return setting.Value, true
}

func (s *SettingsService) invalidate(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Delete(ctx, settingsCachePrefix+key); err != nil {
		s.logger.DebugContext(ctx, "invalidate setting cache failed", "key", key, "error", err)
	}
}
