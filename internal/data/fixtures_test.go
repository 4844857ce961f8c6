package data

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hullcrest/armada/internal/domain/model"
	"github.com/hullcrest/armada/internal/testutil"
)

// fleet carries the minimal row graph a run needs: a job type, one command
// template under it, a simple job template, and a local server.
type fleet struct {
	jobType  *model.JobType
	command  *model.CommandTemplate
	template *model.JobTemplate
	server   *model.Server
}

// seedFleet provisions one fleet. Names carry a nanosecond suffix so multiple
// fleets can coexist in one schema.
func seedFleet(t *testing.T, db *sql.DB) fleet {
	t.Helper()
	ctx := context.Background()
	suffix := time.Now().UnixNano()

	jt, err := NewJobTypeRepo(db).Create(ctx, &model.CreateJobTypeRequest{
		Name: fmt.Sprintf("maintenance-%d", suffix),
	})
	require.NoError(t, err)

	cmd, err := NewCommandTemplateRepo(db).Create(ctx,
		testutil.NewCommandTemplateRequest(jt.ID).
			WithName(fmt.Sprintf("disk-usage-%d", suffix)).
			Build())
	require.NoError(t, err)

	tpl, err := NewJobTemplateRepo(db).Create(ctx,
		testutil.NewJobTemplateRequest(jt.ID, cmd.ID).
			WithName(fmt.Sprintf("disk-check-%d", suffix)).
			Build())
	require.NoError(t, err)

	srv, err := NewServerRepo(db).Create(ctx,
		testutil.LocalServerRequest(fmt.Sprintf("local-%d", suffix)))
	require.NoError(t, err)

	return fleet{jobType: jt, command: cmd, template: tpl, server: srv}
}

// startRun inserts one running row for the fleet.
func startRun(t *testing.T, db *sql.DB, f fleet, trigger model.RunTrigger) *model.JobRun {
	t.Helper()
	run, err := NewRunRepo(db).Create(context.Background(), &model.CreateJobRunRequest{
		JobTemplateID:   f.template.ID,
		ServerID:        f.server.ID,
		TriggeredBy:     trigger,
		RenderedCommand: "df -h /",
	})
	require.NoError(t, err)
	return run
}

// finishRun closes a running row with the given terminal status.
func finishRun(t *testing.T, db *sql.DB, runID int64, status model.RunStatus, exitCode int) *model.JobRun {
	t.Helper()
	run, err := NewRunRepo(db).Finish(context.Background(), runID, model.FinishJobRunRequest{
		Status:   status,
		ExitCode: &exitCode,
		Output:   "done\n",
	})
	require.NoError(t, err)
	return run
}

// seedSchedule creates a schedule for the fleet with the given next fire time.
func seedSchedule(t *testing.T, db *sql.DB, f fleet, name string, nextRunAt *time.Time) *model.JobSchedule {
	t.Helper()
	sched, err := NewScheduleRepo(db).Create(context.Background(),
		testutil.NewScheduleRequest(f.template.ID, f.server.ID).
			WithName(name).
			Build(),
		nextRunAt)
	require.NoError(t, err)
	return sched
}
