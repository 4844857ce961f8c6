package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hullcrest/armada/config"
	"github.com/hullcrest/armada/internal/data"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			// Scheduler mode hosts the loop plus the control listener.
			name:  "scheduler only",
			modes: []config.ServiceMode{config.ServiceModeScheduler},
			want:  2,
		},
		{
			name:  "reaper only",
			modes: []config.ServiceMode{config.ServiceModeReaper},
			want:  1,
		},
		{
			name:  "all services enabled",
			modes: []config.ServiceMode{config.ServiceModeScheduler, config.ServiceModeReaper},
			want:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}

func TestErrorChannelBufferSize(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 1,
		},
		{
			name:  "scheduler only",
			modes: []config.ServiceMode{config.ServiceModeScheduler},
			want:  3,
		},
		{
			name:  "all services enabled",
			modes: []config.ServiceMode{config.ServiceModeScheduler, config.ServiceModeReaper},
			want:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelBufferSize(enabled); got != tt.want {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}

func TestBuildRepositories_CacheSelection(t *testing.T) {
	t.Run("falls back to in-process cache without redis", func(t *testing.T) {
		repos := buildRepositories(nil, nil)
		if _, ok := repos.Cache.(*data.MemoryCacheRepo); !ok {
			t.Fatalf("Cache = %T, want *data.MemoryCacheRepo", repos.Cache)
		}
	})

	t.Run("uses redis cache when a client is configured", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
		t.Cleanup(func() { _ = client.Close() })

		repos := buildRepositories(nil, client)
		if _, ok := repos.Cache.(*data.RedisCacheRepo); !ok {
			t.Fatalf("Cache = %T, want *data.RedisCacheRepo", repos.Cache)
		}
	})
}

func TestLaunchBackground(t *testing.T) {
	t.Run("skips disabled modes", func(t *testing.T) {
		deps := &serviceStartupDeps{
			ctx:             context.Background(),
			logger:          discardLogger(),
			enabledServices: map[config.ServiceMode]bool{},
			errCh:           make(chan error, 1),
		}

		done := launchBackground(context.Background(), deps, backgroundService{
			mode: config.ServiceModeReaper,
			name: "reaper",
			start: func(context.Context) error {
				t.Fatal("disabled service must not start")
				return nil
			},
		})
		if done != nil {
			t.Fatal("expected nil done channel for disabled mode")
		}
	})

	t.Run("forwards start errors", func(t *testing.T) {
		deps := &serviceStartupDeps{
			ctx:             context.Background(),
			logger:          discardLogger(),
			enabledServices: map[config.ServiceMode]bool{config.ServiceModeReaper: true},
			errCh:           make(chan error, 1),
		}

		startErr := errors.New("listener lost")
		done := launchBackground(context.Background(), deps, backgroundService{
			mode:  config.ServiceModeReaper,
			name:  "reaper",
			start: func(context.Context) error { return startErr },
		})
		if done == nil {
			t.Fatal("expected done channel for enabled mode")
		}

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for service to finish")
		}

		select {
		case err := <-deps.errCh:
			if !errors.Is(err, startErr) {
				t.Fatalf("errCh error = %v, want wrapped %v", err, startErr)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for error")
		}
	})

	t.Run("clean exit sends nothing", func(t *testing.T) {
		deps := &serviceStartupDeps{
			ctx:             context.Background(),
			logger:          discardLogger(),
			enabledServices: map[config.ServiceMode]bool{config.ServiceModeScheduler: true},
			errCh:           make(chan error, 1),
		}

		done := launchBackground(context.Background(), deps, backgroundService{
			mode:  config.ServiceModeScheduler,
			name:  "scheduler",
			start: func(context.Context) error { return nil },
		})

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for service to finish")
		}

		select {
		case err := <-deps.errCh:
			t.Fatalf("unexpected error: %v", err)
		default:
		}
	})
}

func TestNewServices_RequiresDeps(t *testing.T) {
	if _, err := NewServices(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil deps")
	}
}
