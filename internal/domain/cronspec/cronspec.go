// Package cronspec parses the 6-field cron dialect used by job schedules and
// computes fire times in the orchestrator timezone.
package cronspec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts exactly six fields: seconds minutes hours day-of-month month
// day-of-week. Descriptors like @daily are not part of the dialect.
var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ErrNeverFires marks expressions that parse but have no future fire time,
// e.g. "0 0 0 30 2 *".
var ErrNeverFires = errors.New("cron expression never fires")

// Schedule is a parsed cron expression pinned to a timezone.
type Schedule struct {
	expr string
	loc  *time.Location
	spec cron.Schedule
}

// Parse compiles a 6-field cron expression. A nil location means UTC.
func Parse(expr string, loc *time.Location) (*Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, errors.New("cron expression is empty")
	}
	if fields := strings.Fields(trimmed); len(fields) != 6 {
		return nil, fmt.Errorf(
			"cron expression must have 6 fields (seconds minutes hours day-of-month month day-of-week), got %d",
			len(fields))
	}
	spec, err := parser.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Schedule{expr: trimmed, loc: loc, spec: spec}, nil
}

// Validate reports whether expr parses under the 6-field dialect and fires at
// least once after from in the given timezone.
func Validate(expr string, loc *time.Location, from time.Time) error {
	s, err := Parse(expr, loc)
	if err != nil {
		return err
	}
	if s.Next(from).IsZero() {
		return ErrNeverFires
	}
	return nil
}

// Next returns the first fire time strictly after t, evaluated in the
// schedule's timezone. The zero time means no future fire exists.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.spec.Next(t.In(s.loc))
}

// Expr returns the expression the schedule was parsed from.
func (s *Schedule) Expr() string { return s.expr }

// Location returns the timezone fire times are evaluated in.
func (s *Schedule) Location() *time.Location { return s.loc }
