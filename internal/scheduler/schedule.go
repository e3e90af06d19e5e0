package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relayq/relayq/internal/domain/model"
)

// IntervalSchedule implements model.Schedule as a fixed run_every interval,
// the simpler of the two periodic-job schedule kinds named in spec §3.
type IntervalSchedule struct {
	every time.Duration
}

// NewIntervalSchedule constructs an IntervalSchedule. every must be positive.
func NewIntervalSchedule(every time.Duration) (*IntervalSchedule, error) {
	if every <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive")
	}
	return &IntervalSchedule{every: every}, nil
}

// NextAfter returns t advanced by the configured interval.
func (s *IntervalSchedule) NextAfter(t time.Time) time.Time {
	return t.Add(s.every)
}

var _ model.Schedule = (*IntervalSchedule)(nil)

// CronSchedule implements model.Schedule over a parsed standard cron
// expression, the "cron-like calendar" named in spec §4.3.
type CronSchedule struct {
	sched cron.Schedule
}

// NewCronSchedule parses expr (the standard five-field cron syntax) into a
// CronSchedule.
func NewCronSchedule(expr string) (*CronSchedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse cron expression %q: %w", expr, err)
	}
	return &CronSchedule{sched: sched}, nil
}

// NextAfter returns the next instant the cron expression fires after t.
func (s *CronSchedule) NextAfter(t time.Time) time.Time {
	return s.sched.Next(t)
}

var _ model.Schedule = (*CronSchedule)(nil)
