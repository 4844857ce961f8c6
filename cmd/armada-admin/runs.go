package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hullcrest/armada/internal/data"
	"github.com/hullcrest/armada/internal/domain/model"
	"github.com/hullcrest/armada/internal/service"
)

type runsOptions struct {
	ID         int64
	Limit      int
	Status     string
	ScheduleID int64
	ServerID   int64
}

func parseRunsFlags(args []string) (runsOptions, error) {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts runsOptions
	fs.Int64Var(&opts.ID, "id", 0, "Show one run with its step results")
	fs.IntVar(&opts.Limit, "limit", 20, "Maximum rows to display")
	fs.StringVar(&opts.Status, "status", "", "Filter by status (running, success, failure, timeout, cancelled)")
	fs.Int64Var(&opts.ScheduleID, "schedule", 0, "Filter by schedule ID")
	fs.Int64Var(&opts.ServerID, "server", 0, "Filter by server ID")

	if err := fs.Parse(args); err != nil {
		return runsOptions{}, err
	}

	if opts.Limit < 1 {
		return runsOptions{}, errors.New("--limit must be >= 1")
	}
	if opts.Status != "" {
		if _, ok := model.ParseRunStatus(opts.Status); !ok {
			return runsOptions{}, fmt.Errorf("unknown status %q", opts.Status)
		}
	}

	return opts, nil
}

func runRuns(cmdCtx *commandContext, args []string) error {
	opts, err := parseRunsFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		if opts.ID > 0 {
			return showRun(ctx, db, opts.ID)
		}
		return listRuns(ctx, db, opts)
	})
}

func listRuns(ctx context.Context, db *sql.DB, opts runsOptions) error {
	listOpts := model.RunsListOptions{Limit: opts.Limit}
	if opts.Status != "" {
		status, _ := model.ParseRunStatus(opts.Status)
		listOpts.Status = &status
	}
	if opts.ScheduleID > 0 {
		listOpts.JobScheduleID = &opts.ScheduleID
	}
	if opts.ServerID > 0 {
		listOpts.ServerID = &opts.ServerID
	}

	repo := data.NewRunRepo(db)
	runs, err := repo.List(ctx, listOpts)
	if err != nil {
		return err
	}
	total, err := repo.Count(ctx, listOpts)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		return writeln(os.Stdout, "no runs matched")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "ID\tSTATUS\tTRIGGER\tTEMPLATE\tSERVER\tSCHEDULE\tSTARTED\tDURATION\tEXIT"); err != nil {
		return fmt.Errorf("write runs header: %w", err)
	}
	for _, run := range runs {
		if err := writef(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			run.ID,
			run.Status,
			run.TriggeredBy,
			run.JobTemplateID,
			run.ServerID,
			formatInt64Ptr(run.JobScheduleID),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			formatDurationMS(run.DurationMS),
			formatIntPtr(run.ExitCode),
		); err != nil {
			return fmt.Errorf("write run row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush runs table: %w", err)
	}

	if total > int64(len(runs)) {
		if err := writef(os.Stdout, "\nShowing %d of %d matching runs; increase --limit to view more.\n",
			len(runs), total); err != nil {
			return fmt.Errorf("write runs footer: %w", err)
		}
	}
	return nil
}

func showRun(ctx context.Context, db *sql.DB, id int64) error {
	run, err := data.NewRunRepo(db).GetByID(ctx, id)
	if err != nil {
		return err
	}
	steps, err := data.NewStepResultRepo(db).ListByRun(ctx, id)
	if err != nil {
		return err
	}

	if err := printRunDetail(run); err != nil {
		return err
	}
	return printRunSteps(steps)
}

func printRunDetail(run *model.JobRun) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"Run", fmt.Sprintf("%d", run.ID)},
		{"Status", string(run.Status)},
		{"Trigger", string(run.TriggeredBy)},
		{"Template", fmt.Sprintf("%d", run.JobTemplateID)},
		{"Server", fmt.Sprintf("%d", run.ServerID)},
		{"Schedule", formatInt64Ptr(run.JobScheduleID)},
		{"Started", run.StartedAt.Local().Format(time.RFC3339)},
		{"Finished", formatTimePtr(run.FinishedAt)},
		{"Duration", formatDurationMS(run.DurationMS)},
		{"Exit code", formatIntPtr(run.ExitCode)},
		{"Retry attempt", fmt.Sprintf("%d", run.RetryAttempt)},
	}
	if run.PartialSuccess() {
		rows = append(rows, [2]string{"Note", "partial success (only continue-on-failure steps failed)"})
	}
	if run.NotificationSent {
		rows = append(rows, [2]string{"Notified", "yes"})
	}
	if run.NotificationError != nil && *run.NotificationError != "" {
		rows = append(rows, [2]string{"Notify error", *run.NotificationError})
	}
	for _, row := range rows {
		if err := writef(w, "%s\t%s\n", row[0], row[1]); err != nil {
			return fmt.Errorf("write run field: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush run detail: %w", err)
	}

	if err := writef(os.Stdout, "\nCommand:\n  %s\n", run.RenderedCommand); err != nil {
		return fmt.Errorf("write run command: %w", err)
	}
	if run.Output != "" {
		if err := writef(os.Stdout, "\nOutput:\n%s\n", indentBlock(run.Output)); err != nil {
			return fmt.Errorf("write run output: %w", err)
		}
	}
	if run.Error != "" {
		if err := writef(os.Stdout, "\nError:\n%s\n", indentBlock(run.Error)); err != nil {
			return fmt.Errorf("write run error: %w", err)
		}
	}
	return nil
}

func printRunSteps(steps []*model.StepExecutionResult) error {
	if len(steps) == 0 {
		return nil
	}

	if err := writef(os.Stdout, "\nSteps:\n"); err != nil {
		return fmt.Errorf("write steps header: %w", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "ORDER\tNAME\tSTATUS\tDURATION\tEXIT\tERROR"); err != nil {
		return fmt.Errorf("write steps table header: %w", err)
	}
	for _, step := range steps {
		stepErr := step.Error
		if stepErr == "" {
			stepErr = "-"
		}
		if err := writef(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			step.StepOrder,
			step.StepName,
			step.Status,
			formatDurationMS(step.DurationMS),
			formatIntPtr(step.ExitCode),
			stepErr,
		); err != nil {
			return fmt.Errorf("write step row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush steps table: %w", err)
	}
	return nil
}

type schedulesOptions struct {
	Limit       int
	EnabledOnly bool
}

func parseSchedulesFlags(args []string) (schedulesOptions, error) {
	fs := flag.NewFlagSet("schedules", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts schedulesOptions
	fs.IntVar(&opts.Limit, "limit", 50, "Maximum rows to display")
	fs.BoolVar(&opts.EnabledOnly, "enabled-only", false, "Only show enabled schedules")

	if err := fs.Parse(args); err != nil {
		return schedulesOptions{}, err
	}

	if opts.Limit < 1 {
		return schedulesOptions{}, errors.New("--limit must be >= 1")
	}

	return opts, nil
}

func runSchedules(cmdCtx *commandContext, args []string) error {
	opts, err := parseSchedulesFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		listOpts := model.SchedulesListOptions{Limit: opts.Limit}
		if opts.EnabledOnly {
			enabled := true
			listOpts.Enabled = &enabled
		}

		schedules, listErr := data.NewScheduleRepo(db).List(ctx, listOpts)
		if listErr != nil {
			return listErr
		}

		if len(schedules) == 0 {
			return writeln(os.Stdout, "no schedules matched")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if err := writeln(w, "ID\tNAME\tCRON\tENABLED\tLAST STATUS\tLAST RUN\tNEXT RUN\tOK\tFAIL"); err != nil {
			return fmt.Errorf("write schedules header: %w", err)
		}
		for _, sched := range schedules {
			lastStatus := "-"
			if sched.LastRunStatus != nil {
				lastStatus = string(*sched.LastRunStatus)
			}
			if err := writef(w, "%d\t%s\t%s\t%t\t%s\t%s\t%s\t%d\t%d\n",
				sched.ID,
				sched.Name,
				sched.Schedule,
				sched.Enabled,
				lastStatus,
				formatTimePtr(sched.LastRunAt),
				formatTimePtr(sched.NextRunAt),
				sched.SuccessCount,
				sched.FailureCount,
			); err != nil {
				return fmt.Errorf("write schedule row: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush schedules table: %w", err)
		}
		return nil
	})
}

type triggerOptions struct {
	ScheduleID int64
	Name       string
}

func parseTriggerFlags(args []string) (triggerOptions, error) {
	fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts triggerOptions
	fs.Int64Var(&opts.ScheduleID, "schedule", 0, "Schedule ID to fire now")
	fs.StringVar(&opts.Name, "name", "", "Schedule name to fire now (alternative to --schedule)")

	if err := fs.Parse(args); err != nil {
		return triggerOptions{}, err
	}

	opts.Name = strings.TrimSpace(opts.Name)
	if (opts.ScheduleID > 0) == (opts.Name != "") {
		return triggerOptions{}, errors.New("exactly one of --schedule or --name is required")
	}

	return opts, nil
}

// runTrigger marks a schedule due immediately and emits a reload NOTIFY so a
// listening daemon wakes, sees the due schedule, and executes it. The CLI
// never runs the job itself.
func runTrigger(cmdCtx *commandContext, args []string) error {
	opts, err := parseTriggerFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewScheduleRepo(db)

		var sched *model.JobSchedule
		var lookupErr error
		if opts.ScheduleID > 0 {
			sched, lookupErr = repo.GetByID(ctx, opts.ScheduleID)
		} else {
			sched, lookupErr = repo.GetByName(ctx, opts.Name)
		}
		if lookupErr != nil {
			return lookupErr
		}

		if !sched.Enabled {
			return fmt.Errorf("schedule %q is disabled; enable it before triggering", sched.Name)
		}

		now := time.Now().UTC()
		if err := repo.SetNextRun(ctx, sched.ID, &now); err != nil {
			return fmt.Errorf("mark schedule due: %w", err)
		}
		if err := data.NewControlRepo(db).NotifyReload(ctx); err != nil {
			return fmt.Errorf("notify reload: %w", err)
		}

		cmdCtx.Logger.Info("schedule triggered", "schedule_id", sched.ID, "schedule_name", sched.Name)
		if err := writef(os.Stdout, "schedule %q marked due; a listening daemon will execute it now\n", sched.Name); err != nil {
			return fmt.Errorf("print trigger confirmation: %w", err)
		}
		return nil
	})
}

type cancelOptions struct {
	RunID int64
}

func parseCancelFlags(args []string) (cancelOptions, error) {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts cancelOptions
	fs.Int64Var(&opts.RunID, "run", 0, "Run ID to cancel (required)")

	if err := fs.Parse(args); err != nil {
		return cancelOptions{}, err
	}

	if opts.RunID <= 0 {
		return cancelOptions{}, errors.New("--run is required")
	}

	return opts, nil
}

func runCancel(cmdCtx *commandContext, args []string) error {
	opts, err := parseCancelFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		run, getErr := data.NewRunRepo(db).GetByID(ctx, opts.RunID)
		if getErr != nil {
			return getErr
		}

		if run.Status.Terminal() {
			return writef(os.Stdout, "run %d already finished with status %s\n", run.ID, run.Status)
		}

		if err := data.NewControlRepo(db).NotifyCancel(ctx, run.ID); err != nil {
			return fmt.Errorf("notify cancel: %w", err)
		}

		cmdCtx.Logger.Info("cancel signalled", "run_id", run.ID)
		if err := writef(os.Stdout, "cancel signalled for run %d; the executing daemon will stop it\n", run.ID); err != nil {
			return fmt.Errorf("print cancel confirmation: %w", err)
		}
		return nil
	})
}

type pruneOptions struct {
	Timeout  time.Duration
	StaleAge time.Duration
	Yes      bool
}

func parsePruneFlags(args []string, defaultStaleAge time.Duration) (pruneOptions, error) {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := pruneOptions{
		Timeout: defaultMigrationTimeout,
	}
	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for the retention pass to complete",
	)
	fs.DurationVar(
		&opts.StaleAge,
		"stale-age",
		defaultStaleAge,
		"How long a running row may sit before it is failed as abandoned",
	)
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return pruneOptions{}, err
	}

	if opts.Timeout <= 0 {
		return pruneOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func runPrune(cmdCtx *commandContext, args []string) error {
	opts, err := parsePruneFlags(args, cmdCtx.Config.Reaper.StaleRunAge)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		settings, svcErr := service.NewSettingsService(service.SettingsServiceOptions{
			Repo:   data.NewSettingsRepo(db),
			Logger: cmdCtx.Logger,
		})
		if svcErr != nil {
			return fmt.Errorf("create settings service: %w", svcErr)
		}

		retention := settings.RetentionDays(ctx)
		action := fmt.Sprintf("prune runs and notification history older than %d days "+
			"and fail running rows older than %s", retention, opts.StaleAge)
		if retention == 0 {
			action = fmt.Sprintf("fail running rows older than %s "+
				"(retention pruning is disabled: jobs.retention_days = 0)", opts.StaleAge)
		}
		if confirmErr := confirmAction(action, opts.Yes); confirmErr != nil {
			return confirmErr
		}

		reaper, reaperErr := service.NewReaperService(service.ReaperServiceOptions{
			Runs:        data.NewRunRepo(db),
			Log:         data.NewNotificationLogRepo(db),
			Settings:    settings,
			StaleRunAge: opts.StaleAge,
			Logger:      cmdCtx.Logger,
		})
		if reaperErr != nil {
			return fmt.Errorf("create reaper service: %w", reaperErr)
		}

		if runErr := reaper.RunOnce(ctx); runErr != nil {
			return fmt.Errorf("retention pass: %w", runErr)
		}

		cmdCtx.Logger.Info("retention pass complete")
		return nil
	})
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDurationMS(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return (time.Duration(*ms) * time.Millisecond).String()
}

func formatIntPtr(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}

func formatInt64Ptr(n *int64) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}

func indentBlock(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}
