package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
	"github.com/hullcrest/armada/internal/notify"
)

// channelTestTimeout bounds one test delivery end to end.
const channelTestTimeout = 15 * time.Second

// ChannelServiceOptions groups dependencies for ChannelService.
type ChannelServiceOptions struct {
	Repo     core.NotificationChannelRepository
	Settings *SettingsService
	Notify   notify.Options // shared adapter construction knobs
	Logger   *slog.Logger
}

// ChannelService manages notification channels and can fire test messages
// through their adapters.
type ChannelService struct {
	channels core.NotificationChannelRepository
	settings *SettingsService
	notify   notify.Options
	logger   *slog.Logger
}

// NewChannelService constructs a new ChannelService.
func NewChannelService(opts ChannelServiceOptions) *ChannelService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelService{
		channels: opts.Repo,
		settings: opts.Settings,
		notify:   opts.Notify,
		logger:   logger.With("component", "channel_service"),
	}
}

// Create creates a notification channel. Config shape is validated by the
// model against the channel kind.
func (s *ChannelService) Create(ctx context.Context, req *model.CreateNotificationChannelRequest) (*model.NotificationChannel, error) {
	return s.channels.Create(ctx, req)
}

// GetByID retrieves a channel by ID.
func (s *ChannelService) GetByID(ctx context.Context, id int64) (*model.NotificationChannel, error) {
	return s.channels.GetByID(ctx, id)
}

// GetByName retrieves a channel by its unique name.
func (s *ChannelService) GetByName(ctx context.Context, name string) (*model.NotificationChannel, error) {
	return s.channels.GetByName(ctx, name)
}

// List returns a page of channels.
func (s *ChannelService) List(ctx context.Context, opts model.ChannelsListOptions) ([]*model.NotificationChannel, error) {
	return s.channels.List(ctx, opts)
}

// Update updates a channel. A config replacement is shape-checked against the
// stored kind, which is immutable.
func (s *ChannelService) Update(ctx context.Context, id int64, req model.UpdateNotificationChannelRequest) (*model.NotificationChannel, error) {
	if req.Config != nil {
		current, err := s.channels.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := model.ValidateChannelConfig(current.Kind, req.Config); err != nil {
			return nil, apperrors.ValidationField("config", err.Error())
		}
	}
	return s.channels.Update(ctx, id, req)
}

// Delete removes a channel. Policies referencing it make the delete fail
// with an in_use error.
func (s *ChannelService) Delete(ctx context.Context, id int64) error {
	return s.channels.Delete(ctx, id)
}

// Test sends a test message through the channel's adapter and records the
// outcome on the row. The delivery error, if any, is returned to the caller
// so operators see what the remote end said.
func (s *ChannelService) Test(ctx context.Context, id int64) error {
	channel, err := s.channels.GetByID(ctx, id)
	if err != nil {
		return err
	}

	adapter, err := notify.New(*channel, s.notify)
	if err != nil {
		return apperrors.ValidationField("config", err.Error())
	}

	priority := channel.DefaultPriority
	if s.settings != nil && priority == 0 {
		priority = s.settings.DefaultPriority(ctx)
	}

	testCtx, cancel := context.WithTimeout(ctx, channelTestTimeout)
	defer cancel()

	sendErr := adapter.Send(testCtx, notify.Message{
		Title:    "Armada test notification",
		Body:     fmt.Sprintf("Test message for channel %q sent at %s.", channel.Name, time.Now().UTC().Format(time.RFC3339)),
		Priority: priority,
	})

	if recordErr := s.channels.RecordTest(ctx, id, sendErr == nil); recordErr != nil {
		s.logger.WarnContext(ctx, "record channel test failed", "channel_id", id, "error", recordErr)
	}

	if sendErr != nil {
		return apperrors.DispatchFailedf("test delivery: %v", sendErr)
	}
	return nil
}
