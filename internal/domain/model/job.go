package model

import (
	"context"
	"encoding/json"
	"time"
)

// JobContext is the view a running job callable has of its invocation: its
// bound arguments, the task record it is executing, and a channel to emit
// progress notes (the worker's TaskConsumer implements this).
type JobContext interface {
	Args() []json.RawMessage
	Kwargs() map[string]json.RawMessage
	Task() *Task
	Progress(note string)
}

// JobFunc is the callable a worker invokes to execute a task. It returns the
// task's JSON-serializable result, or an error that drives the
// FAILURE/RETRY decision (spec §4.5 step 6).
type JobFunc func(ctx context.Context, jc JobContext) (json.RawMessage, error)

// RetryableError wraps a job error that should cycle the task back to
// RECEIVED instead of terminating it in FAILURE (spec §4.6 STARTED -> RETRY).
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the worker dispatch loop retries the task instead
// of failing it outright.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// JobType distinguishes standard jobs from periodic jobs, mirroring pulsar's
// Job / PeriodicJob split.
type JobType string

const (
	// JobTypeStandard is a job only ever run on explicit request.
	JobTypeStandard JobType = "standard"
	// JobTypePeriodic is a job additionally materialized by the scheduler's calendar.
	JobTypePeriodic JobType = "periodic"
)

// Schedule produces the next materialization instant for a periodic job.
// Implementations wrap either a fixed interval or a parsed cron expression.
type Schedule interface {
	NextAfter(t time.Time) time.Time
}

// JobDescriptor is the immutable, registry-owned metadata for a named job
// (spec §3, "Job descriptor").
type JobDescriptor struct {
	Name string
	Type JobType

	// Schedule is non-nil only for JobTypePeriodic descriptors.
	Schedule Schedule

	// Func is the callable invoked by the worker dispatch loop.
	Func JobFunc

	// DefaultArgs/DefaultKwargs seed the task created at each calendar tick.
	DefaultArgs   []json.RawMessage
	DefaultKwargs map[string]json.RawMessage

	// Timeout is the per-task execution ceiling; spec §6 default is 1h.
	Timeout time.Duration

	// CanOverlap, when false, makes queue_task return an existing non-terminal
	// task instead of creating a duplicate for identical name+args (spec §4.3).
	CanOverlap bool

	// MaxRetries bounds how many times a RETRY cycle may recur before the
	// worker gives up and transitions to STARTED -> FAILURE instead
	// (spec §9 open question, resolved in DESIGN.md).
	MaxRetries int
}
