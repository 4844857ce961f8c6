package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hullcrest/armada/config"
	"github.com/hullcrest/armada/internal/core"
	"github.com/hullcrest/armada/internal/data"
	"github.com/hullcrest/armada/internal/dispatch"
	"github.com/hullcrest/armada/internal/notify"
	"github.com/hullcrest/armada/internal/observability/statsd"
	"github.com/hullcrest/armada/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Servers          *service.ServerService
	Credentials      *service.CredentialService
	Tags             *service.TagService
	JobTypes         *service.JobTypeService
	CommandTemplates *service.CommandTemplateService
	JobTemplates     *service.JobTemplateService
	Schedules        *service.ScheduleService
	Runs             *service.RunService
	Channels         *service.ChannelService
	Policies         *service.PolicyService
	Settings         *service.SettingsService
	Executor         *service.ExecutorService
	Scheduler        *service.SchedulerService
	Notifier         *service.NotifierService
	Pty              *service.PtyService

	// Dispatcher owns the SSH connection pool; closed on shutdown.
	Dispatcher *dispatch.Dispatcher
	// Control posts and receives pg_notify control messages.
	Control *data.ControlRepo

	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.MetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB           *sql.DB
	Redis        redis.UniversalClient
	Servers      *data.ServerRepo
	Capabilities *data.CapabilityRepo
	Credentials  *data.CredentialRepo
	Tags         *data.TagRepo
	JobTypes     *data.JobTypeRepo
	Commands     *data.CommandTemplateRepo
	Templates    *data.JobTemplateRepo
	Schedules    *data.ScheduleRepo
	Runs         *data.RunRepo
	Steps        *data.StepResultRepo
	Channels     *data.NotificationChannelRepo
	Policies     *data.NotificationPolicyRepo
	Log          *data.NotificationLogRepo
	Settings     *data.SettingsRepo
	Control      *data.ControlRepo
	Cache        core.CacheRepository
}

// buildObservability configures the metrics adapter.
func buildObservability(logger *slog.Logger, cfg config.MetricsConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.StatsdAddress,
			Prefix:  cfg.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
// Without Redis the settings cache falls back to the in-process TTL cache.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient) *serviceRepositories {
	var cache core.CacheRepository
	if redisClient != nil {
		cache = data.NewRedisCacheRepo(redisClient)
	} else {
		cache = data.NewMemoryCacheRepo()
	}

	return &serviceRepositories{
		DB:           db,
		Redis:        redisClient,
		Servers:      data.NewServerRepo(db),
		Capabilities: data.NewCapabilityRepo(db),
		Credentials:  data.NewCredentialRepo(db),
		Tags:         data.NewTagRepo(db),
		JobTypes:     data.NewJobTypeRepo(db),
		Commands:     data.NewCommandTemplateRepo(db),
		Templates:    data.NewJobTemplateRepo(db),
		Schedules:    data.NewScheduleRepo(db),
		Runs:         data.NewRunRepo(db),
		Steps:        data.NewStepResultRepo(db),
		Channels:     data.NewNotificationChannelRepo(db),
		Policies:     data.NewNotificationPolicyRepo(db),
		Log:          data.NewNotificationLogRepo(db),
		Settings:     data.NewSettingsRepo(db),
		Control:      data.NewControlRepo(db),
		Cache:        cache,
	}
}

// DomainServicesOptions groups inputs for buildDomainServices.
type DomainServicesOptions struct {
	Repos         *serviceRepositories
	Observability ObservabilityContainer
	Config        *config.AppConfig
	Logger        *slog.Logger
}

// buildDomainServices wires business services using repositories and
// observability adapters. The context bounds the initial settings reads.
func buildDomainServices(ctx context.Context, opts *DomainServicesOptions) (ServiceContainer, error) {
	if opts == nil || opts.Repos == nil {
		return ServiceContainer{}, errors.New("domain service options are required")
	}
	svcLogger := opts.Logger
	if svcLogger == nil {
		svcLogger = slog.Default()
	}

	appCfg := opts.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	repos := opts.Repos
	metricsSink := opts.Observability.MetricsSink

	settings, err := service.NewSettingsService(service.SettingsServiceOptions{
		Repo:   repos.Settings,
		Cache:  repos.Cache,
		Logger: svcLogger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create settings service: %w", err)
	}

	// The SSH connect timeout is read once at boot; editing the setting takes
	// effect on the next daemon restart. Command timeouts stay per-run.
	dispatcher := dispatch.New(dispatch.Options{
		ConnectTimeout: settings.SSHConnectTimeout(ctx),
		KeyDir:         appCfg.SSH.KeyDir,
		PoolIdleTTL:    appCfg.SSH.PoolIdleTTL,
		Logger:         svcLogger,
	})

	notifyOpts := notify.Options{Timeout: appCfg.Notify.Timeout}

	notifier := service.NewNotifierService(service.NotifierServiceOptions{
		Policies:  repos.Policies,
		Channels:  repos.Channels,
		Log:       repos.Log,
		Runs:      repos.Runs,
		Templates: repos.Templates,
		JobTypes:  repos.JobTypes,
		Servers:   repos.Servers,
		Settings:  settings,
		Notify:    notifyOpts,
		BaseURL:   appCfg.Notify.BaseURL,
		Metrics:   metricsSink,
		Logger:    svcLogger,
	})

	executor := service.NewExecutorService(service.ExecutorServiceOptions{
		Runs:         repos.Runs,
		Steps:        repos.Steps,
		Templates:    repos.Templates,
		Commands:     repos.Commands,
		JobTypes:     repos.JobTypes,
		Servers:      repos.Servers,
		Capabilities: repos.Capabilities,
		Credentials:  repos.Credentials,
		Schedules:    repos.Schedules,
		Runner:       dispatcher,
		Settings:     settings,
		Notifier:     notifier,
		Metrics:      metricsSink,
		Logger:       svcLogger,
	})

	scheduler := service.NewSchedulerService(service.SchedulerServiceOptions{
		Schedules: repos.Schedules,
		Runs:      repos.Runs,
		Executor:  executor,
		Settings:  settings,
		BatchSize: appCfg.Scheduler.BatchSize,
		Logger:    svcLogger,
	})

	runs := service.NewRunService(service.RunServiceOptions{
		Runs:       repos.Runs,
		Steps:      repos.Steps,
		Schedules:  repos.Schedules,
		Executor:   executor,
		ControlBus: repos.Control,
		Logger:     svcLogger,
	})

	schedules := service.NewScheduleService(service.ScheduleServiceOptions{
		Repo:       repos.Schedules,
		Settings:   settings,
		ControlBus: repos.Control,
		Logger:     svcLogger,
	})

	servers := service.NewServerService(service.ServerServiceOptions{
		Repo:         repos.Servers,
		Capabilities: repos.Capabilities,
		Credentials:  repos.Credentials,
		Runner:       dispatcher,
		Logger:       svcLogger,
	})

	channels := service.NewChannelService(service.ChannelServiceOptions{
		Repo:     repos.Channels,
		Settings: settings,
		Notify:   notifyOpts,
		Logger:   svcLogger,
	})

	pty := service.NewPtyService(service.PtyServiceOptions{
		Servers:     repos.Servers,
		Credentials: repos.Credentials,
		Dispatcher:  dispatcher,
		Logger:      svcLogger,
	})

	return ServiceContainer{
		Servers:          servers,
		Credentials:      service.NewCredentialService(service.CredentialServiceOptions{Repo: repos.Credentials}),
		Tags:             service.NewTagService(service.TagServiceOptions{Repo: repos.Tags}),
		JobTypes:         service.NewJobTypeService(service.JobTypeServiceOptions{Repo: repos.JobTypes}),
		CommandTemplates: service.NewCommandTemplateService(service.CommandTemplateServiceOptions{Repo: repos.Commands}),
		JobTemplates: service.NewJobTemplateService(service.JobTemplateServiceOptions{
			Repo:     repos.Templates,
			Commands: repos.Commands,
		}),
		Schedules: schedules,
		Runs:      runs,
		Channels:  channels,
		Policies: service.NewPolicyService(service.PolicyServiceOptions{
			Repo:   repos.Policies,
			Logger: svcLogger,
		}),
		Settings:      settings,
		Executor:      executor,
		Scheduler:     scheduler,
		Notifier:      notifier,
		Pty:           pty,
		Dispatcher:    dispatcher,
		Control:       repos.Control,
		Observability: opts.Observability,
	}, nil
}

// NewServices builds the full service container from infrastructure handles.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var metricsCfg config.MetricsConfig
	if deps.Config != nil {
		metricsCfg = deps.Config.Metrics
	}
	observability := buildObservability(logger, metricsCfg)
	repos := buildRepositories(deps.DB, deps.RedisClient)
	return buildDomainServices(ctx, &DomainServicesOptions{
		Repos:         repos,
		Observability: observability,
		Config:        deps.Config,
		Logger:        logger,
	})
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// defaultShutdownWait is the fallback time to wait for services to stop
	// gracefully when no executor grace is configured.
	defaultShutdownWait = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started",
		"service", descriptor.name, "mode", descriptor.mode)

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

// buildBackgroundServices assembles the per-mode background components. The
// scheduler mode hosts three: the scheduler loop, and the control listener
// that feeds both the loop's Wake and the executor's Cancel.
func buildBackgroundServices(deps *serviceStartupDeps) ([]backgroundService, error) {
	if deps == nil || deps.cfg == nil {
		return nil, nil
	}

	services := make([]backgroundService, 0, 3)

	if deps.enabledServices[config.ServiceModeScheduler] {
		runner, err := NewSchedulerRunner(SchedulerRunnerConfig{
			Scheduler: deps.cfg.Services.Scheduler,
			Settings:  deps.cfg.Services.Settings,
			Metrics:   deps.cfg.Services.Observability.MetricsSink,
			Logger:    deps.logger,
		})
		if err != nil {
			return nil, err
		}

		services = append(services,
			backgroundService{
				mode:  config.ServiceModeScheduler,
				name:  "scheduler",
				start: runner.Run,
			},
			backgroundService{
				mode: config.ServiceModeScheduler,
				name: "control listener",
				start: func(ctx context.Context) error {
					return RunControlListener(ctx, ControlListenerConfig{
						Source:    deps.cfg.Services.Control,
						Scheduler: runner,
						Executor:  deps.cfg.Services.Executor,
						Logger:    deps.logger,
					})
				},
			},
		)
	}

	if deps.enabledServices[config.ServiceModeReaper] {
		services = append(services, backgroundService{
			mode: config.ServiceModeReaper,
			name: "reaper",
			start: func(ctx context.Context) error {
				var reaperCfg config.ReaperConfig
				if deps.cfg.Config != nil {
					reaperCfg = deps.cfg.Config.Reaper
				}
				return RunReaper(ctx, ReaperConfig{
					DB:       deps.cfg.DB,
					Config:   reaperCfg,
					Settings: deps.cfg.Services.Settings,
					Logger:   deps.logger,
					Metrics:  deps.cfg.Services.Observability.MetricsSink,
				})
			},
		})
	}

	return services, nil
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}

	services, err := buildBackgroundServices(deps)
	if err != nil {
		return err
	}
	handles := startBackgroundServices(deps, services)

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		executor:    cfg.Services.Executor,
		dispatcher:  cfg.Services.Dispatcher,
		grace:       cfg.Config.Executor.ShutdownGrace,
		logger:      logger,
		backgrounds: handles,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	if enabled[config.ServiceModeScheduler] {
		count += 2 // scheduler loop and control listener
	}
	if enabled[config.ServiceModeReaper] {
		count++
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	executor    *service.ExecutorService
	dispatcher  *dispatch.Dispatcher
	grace       time.Duration
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop waits for the background loops, drains in-flight runs, then
// tears down the SSH pool.
func gracefulStop(cfg shutdownConfig) error {
	grace := cfg.grace
	if grace <= 0 {
		grace = defaultShutdownWait
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, grace, cfg.logger)
	}

	if cfg.executor != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		if err := cfg.executor.Shutdown(shutdownCtx); err != nil {
			cfg.logger.Warn("executor did not drain in time", "error", err)
		}
	}

	if cfg.dispatcher != nil {
		cfg.dispatcher.Close()
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, grace time.Duration, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(grace):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
