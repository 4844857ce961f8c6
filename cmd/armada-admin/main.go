package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/hullcrest/armada/config"
	"github.com/hullcrest/armada/internal/bootstrap"
	"github.com/hullcrest/armada/internal/data"
	"github.com/hullcrest/armada/internal/service"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 2 * time.Minute
)

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}
	bootstrap.SetLogLevel(cfg.Level())

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"runs": {
			name:        "runs",
			description: "List recent job runs or show one run with its step results",
			run:         runRuns,
		},
		"schedules": {
			name:        "schedules",
			description: "List job schedules with their next fire times",
			run:         runSchedules,
		},
		"settings": {
			name:        "settings",
			description: "List, get, or set runtime settings",
			run:         runSettings,
		},
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrate,
		},
		"seed": {
			name:        "seed",
			description: "Insert missing settings defaults (or reset all with --reset)",
			run:         runSeed,
		},
		"trigger": {
			name:        "trigger",
			description: "Mark a schedule due now and wake the daemon scheduler",
			run:         runTrigger,
		},
		"cancel": {
			name:        "cancel",
			description: "Ask the daemon executing a run to cancel it",
			run:         runCancel,
		},
		"reload": {
			name:        "reload",
			description: "Wake daemon schedulers to reload schedules and settings",
			run:         runReload,
		},
		"channel-test": {
			name:        "channel-test",
			description: "Send a test message through a notification channel",
			run:         runChannelTest,
		},
		"prune": {
			name:        "prune",
			description: "Run one retention pass: prune old runs and fail stale ones",
			run:         runPrune,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: armada-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(os.Stdout, "  %-16s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

// withDatabase connects to the database, runs f under a signal-aware timeout
// context, and closes the pool afterwards.
func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DatabaseURL: cmdCtx.Config.DatabaseURL,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}

type migrateOptions struct {
	Timeout time.Duration
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}

	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func runMigrate(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")

		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}

		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

type seedOptions struct {
	Timeout     time.Duration
	Reset       bool
	Yes         bool
	AllowRemote bool
}

func parseSeedFlags(args []string) (seedOptions, error) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := seedOptions{
		Timeout: defaultCommandTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultCommandTimeout,
		"Maximum duration to wait for seeding to complete",
	)
	fs.BoolVar(
		&opts.Reset,
		"reset",
		false,
		"Overwrite existing settings values with their defaults",
	)
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")
	fs.BoolVar(
		&opts.AllowRemote,
		"allow-remote",
		false,
		"Permit running against database hosts that do not look local",
	)

	if err := fs.Parse(args); err != nil {
		return seedOptions{}, err
	}

	if opts.Timeout <= 0 {
		return seedOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

// settingSeed mirrors the defaults the settings migration inserts, so seed
// can restore deleted rows or reset values without re-running migrations.
type settingSeed struct {
	Key         string
	Value       string
	ValueType   string
	Description string
}

func settingsDefaults() []settingSeed {
	return []settingSeed{
		{"scheduler.check_interval_seconds", "30", "integer", "How often the scheduler polls for due schedules"},
		{"jobs.default_timeout_seconds", "300", "integer", "Command timeout when neither template nor schedule sets one"},
		{"jobs.max_concurrent", "5", "integer", "Maximum number of job runs executing at once"},
		{"jobs.submit_timeout_seconds", "10", "integer", "How long a submission waits for an execution slot before failing"},
		{"jobs.retention_days", "90", "integer", "Days of job run and notification history to keep"},
		{"ssh.connection_timeout_seconds", "10", "integer", "TCP and handshake timeout for SSH dispatch"},
		{"ssh.command_timeout_seconds", "300", "integer", "Fallback timeout for commands run over SSH"},
		{"notifications.enabled", "true", "boolean", "Master switch for notification delivery"},
		{"notifications.default_priority", "5", "integer", "Priority used when a channel does not set one"},
		{"timezone", "UTC", "string", "IANA timezone for cron evaluation"},
	}
}

func runSeed(cmdCtx *commandContext, args []string) error {
	opts, err := parseSeedFlags(args)
	if err != nil {
		return err
	}

	if opts.Reset {
		if _, guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote, "reset all settings to their defaults"); guardErr != nil {
			return guardErr
		}
		if confirmErr := confirmAction(
			"reset every setting to its default value",
			opts.Yes,
		); confirmErr != nil {
			return confirmErr
		}
	}

	stmt := `
		INSERT INTO settings (key, value, value_type, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING`
	if opts.Reset {
		stmt = `
			INSERT INTO settings (key, value, value_type, description)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value, updated_at = now()`
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		changed := 0
		for _, seed := range settingsDefaults() {
			res, execErr := db.ExecContext(ctx, stmt, seed.Key, seed.Value, seed.ValueType, seed.Description)
			if execErr != nil {
				return fmt.Errorf("seed setting %q: %w", seed.Key, execErr)
			}
			if n, raErr := res.RowsAffected(); raErr == nil {
				changed += int(n)
			}
		}

		cmdCtx.Logger.Info("settings seeding complete", "rows_written", changed, "reset", opts.Reset)
		return nil
	})
}

type settingsOptions struct {
	Key   string
	Value string
	Set   bool
}

func parseSettingsFlags(args []string) (settingsOptions, error) {
	fs := flag.NewFlagSet("settings", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts settingsOptions
	fs.StringVar(&opts.Key, "key", "", "Setting key to get or set (omit to list all)")
	fs.StringVar(&opts.Value, "value", "", "New value; requires --key")

	if err := fs.Parse(args); err != nil {
		return settingsOptions{}, err
	}

	opts.Key = strings.TrimSpace(opts.Key)
	opts.Set = flagWasSet(fs, "value")
	if opts.Set && opts.Key == "" {
		return settingsOptions{}, errors.New("--value requires --key")
	}

	return opts, nil
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func runSettings(cmdCtx *commandContext, args []string) error {
	opts, err := parseSettingsFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		settings, svcErr := service.NewSettingsService(service.SettingsServiceOptions{
			Repo:   data.NewSettingsRepo(db),
			Logger: cmdCtx.Logger,
		})
		if svcErr != nil {
			return fmt.Errorf("create settings service: %w", svcErr)
		}

		switch {
		case opts.Set:
			return setSetting(ctx, cmdCtx, db, settings, opts)
		case opts.Key != "":
			return showSetting(ctx, settings, opts.Key)
		default:
			return listSettings(ctx, settings)
		}
	})
}

func setSetting(
	ctx context.Context,
	cmdCtx *commandContext,
	db *sql.DB,
	settings *service.SettingsService,
	opts settingsOptions,
) error {
	updated, err := settings.Update(ctx, opts.Key, opts.Value)
	if err != nil {
		return err
	}

	if err := writef(os.Stdout, "%s = %s\n", updated.Key, updated.Value); err != nil {
		return fmt.Errorf("print updated setting: %w", err)
	}

	// Daemons refresh through their settings cache TTL; a reload NOTIFY makes
	// scheduler-facing changes take hold immediately.
	if err := data.NewControlRepo(db).NotifyReload(ctx); err != nil {
		cmdCtx.Logger.Warn("reload notify failed; daemons will pick the change up on cache expiry", "error", err)
	}
	return nil
}

func showSetting(ctx context.Context, settings *service.SettingsService, key string) error {
	setting, err := settings.Get(ctx, key)
	if err != nil {
		return err
	}

	if err := writef(os.Stdout, "%s = %s\n", setting.Key, setting.Value); err != nil {
		return fmt.Errorf("print setting: %w", err)
	}
	if err := writef(os.Stdout, "type: %s\n", setting.ValueType); err != nil {
		return fmt.Errorf("print setting type: %w", err)
	}
	if setting.Description != "" {
		if err := writef(os.Stdout, "description: %s\n", setting.Description); err != nil {
			return fmt.Errorf("print setting description: %w", err)
		}
	}
	if err := writef(os.Stdout, "updated: %s\n", setting.UpdatedAt.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("print setting updated: %w", err)
	}
	return nil
}

func listSettings(ctx context.Context, settings *service.SettingsService) error {
	all, err := settings.All(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "KEY\tVALUE\tTYPE\tDESCRIPTION"); err != nil {
		return fmt.Errorf("write settings header: %w", err)
	}
	for _, s := range all {
		if err := writef(w, "%s\t%s\t%s\t%s\n", s.Key, s.Value, s.ValueType, s.Description); err != nil {
			return fmt.Errorf("write setting row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush settings table: %w", err)
	}
	return nil
}

func runReload(cmdCtx *commandContext, _ []string) error {
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		if err := data.NewControlRepo(db).NotifyReload(ctx); err != nil {
			return fmt.Errorf("notify reload: %w", err)
		}

		if err := writeln(os.Stdout, "reload signalled; listening daemons will re-read schedules and tick"); err != nil {
			return fmt.Errorf("print reload confirmation: %w", err)
		}
		return nil
	})
}

// guardRemoteHost refuses destructive operations against hosts that do not
// look local unless explicitly allowed and re-confirmed.
func guardRemoteHost(cmdCtx *commandContext, allow bool, action string) (bool, error) {
	host := databaseHost(cmdCtx.Config.DatabaseURL)
	remote := isLikelyRemoteHost(host)
	if !remote {
		return false, nil
	}
	if !allow {
		return true, fmt.Errorf(
			"refusing to run against potentially remote database host %q; re-run with --allow-remote if this is intentional",
			host,
		)
	}
	if err := requireRemoteHostConfirmation(action, host); err != nil {
		return true, err
	}
	return true, nil
}

func databaseHost(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return false
	}
	if h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return false
	}
	if strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

func requireRemoteHostConfirmation(action, host string) error {
	if err := writef(
		os.Stderr,
		"\nWARNING: database host %q does not look like a local address.\n"+
			"This operation will %s.\n",
		host,
		action,
	); err != nil {
		return fmt.Errorf("print remote host warning: %w", err)
	}
	if err := writef(os.Stderr, "Type %q to continue or press enter to abort: ", host); err != nil {
		return fmt.Errorf("print remote host prompt: %w", err)
	}
	reader := bufio.NewReader(os.Stdin)
	resp, err := reader.ReadString('\n')
	if err != nil {
		if writeErr := writef(os.Stderr, "\nFailed to read confirmation input: %v\n", err); writeErr != nil {
			return fmt.Errorf("aborted by user: report write failed: %w", writeErr)
		}
		return errors.New("aborted by user")
	}
	if strings.TrimSpace(resp) != host {
		if writeErr := writeln(os.Stderr, "\nRemote safeguard check failed; aborting."); writeErr != nil {
			return fmt.Errorf("print remote safeguard failure: %w", writeErr)
		}
		return errors.New("aborted by user")
	}
	return nil
}

func confirmAction(action string, assumeYes bool) error {
	if assumeYes {
		return nil
	}

	if err := writef(os.Stdout, "About to %s.\n", action); err != nil {
		return fmt.Errorf("print confirmation message: %w", err)
	}
	if err := write(os.Stdout, "Continue? [y/N]: "); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	reader := bufio.NewReader(os.Stdin)
	resp, err := reader.ReadString('\n')
	if err != nil {
		if writeErr := writef(os.Stdout, "\nFailed to read confirmation input: %v\n", err); writeErr != nil {
			return fmt.Errorf("aborted by user: report write failed: %w", writeErr)
		}
		return errors.New("aborted by user")
	}
	resp = strings.ToLower(strings.TrimSpace(resp))
	if resp == "y" || resp == "yes" {
		return nil
	}
	return errors.New("aborted by user")
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func write(w io.Writer, args ...any) error {
	_, err := fmt.Fprint(w, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	if len(args) == 0 {
		_, err := fmt.Fprintln(w)
		return err
	}
	_, err := fmt.Fprintln(w, args...)
	return err
}
