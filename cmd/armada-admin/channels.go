package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hullcrest/armada/internal/data"
	"github.com/hullcrest/armada/internal/domain/model"
	"github.com/hullcrest/armada/internal/notify"
	"github.com/hullcrest/armada/internal/service"
)

type channelTestOptions struct {
	ID   int64
	Name string
}

func parseChannelTestFlags(args []string) (channelTestOptions, error) {
	fs := flag.NewFlagSet("channel-test", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts channelTestOptions
	fs.Int64Var(&opts.ID, "id", 0, "Channel ID to test")
	fs.StringVar(&opts.Name, "name", "", "Channel name to test (alternative to --id)")

	if err := fs.Parse(args); err != nil {
		return channelTestOptions{}, err
	}

	opts.Name = strings.TrimSpace(opts.Name)
	if (opts.ID > 0) == (opts.Name != "") {
		return channelTestOptions{}, errors.New("exactly one of --id or --name is required")
	}

	return opts, nil
}

// runChannelTest delivers a test message through a channel's real adapter so
// operators can verify credentials before wiring the channel into a policy.
func runChannelTest(cmdCtx *commandContext, args []string) error {
	opts, err := parseChannelTestFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewNotificationChannelRepo(db)

		var channel *model.NotificationChannel
		var lookupErr error
		if opts.ID > 0 {
			channel, lookupErr = repo.GetByID(ctx, opts.ID)
		} else {
			channel, lookupErr = repo.GetByName(ctx, opts.Name)
		}
		if lookupErr != nil {
			return lookupErr
		}

		settings, svcErr := service.NewSettingsService(service.SettingsServiceOptions{
			Repo:   data.NewSettingsRepo(db),
			Logger: cmdCtx.Logger,
		})
		if svcErr != nil {
			return fmt.Errorf("create settings service: %w", svcErr)
		}

		channels := service.NewChannelService(service.ChannelServiceOptions{
			Repo:     repo,
			Settings: settings,
			Notify:   notify.Options{Timeout: cmdCtx.Config.Notify.Timeout},
			Logger:   cmdCtx.Logger,
		})

		if testErr := channels.Test(ctx, channel.ID); testErr != nil {
			return fmt.Errorf("channel %q test failed: %w", channel.Name, testErr)
		}

		if err := writef(os.Stdout, "test message delivered through channel %q (%s)\n",
			channel.Name, channel.Kind); err != nil {
			return fmt.Errorf("print channel test result: %w", err)
		}
		return nil
	})
}
