// Package command implements the monitor-resident Command Surface (spec
// §4.7): named handlers routed to the scheduler (mutations) or the store
// (reads).
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relayq/relayq/internal/data"
	"github.com/relayq/relayq/internal/domain/model"
	"github.com/relayq/relayq/internal/registry"
	"github.com/relayq/relayq/internal/scheduler"
	"github.com/relayq/relayq/internal/store"
)

// defaultWaitTimeout is wait_for_task's default ceiling (spec §6: "timeout=3600").
const defaultWaitTimeout = 3600 * time.Second

// TaskExtra carries the optional out-of-band fields addtask accepts
// alongside a job's positional/keyword arguments.
type TaskExtra struct {
	FromTask *string
}

// JobSummary is job_list's per-job answer.
type JobSummary struct {
	Name       string
	Type       model.JobType
	CanOverlap bool
	Timeout    time.Duration
	MaxRetries int
}

// Monitor binds the registry, store, and scheduler into the Command
// Surface a monitor process exposes over its RPC transport.
type Monitor struct {
	reg   *registry.Registry
	store store.Store
	sched *scheduler.Scheduler
	clock data.TimeProvider
	log   *slog.Logger
}

// New constructs a Monitor. clock may be nil (defaults to real time).
func New(reg *registry.Registry, st store.Store, sched *scheduler.Scheduler, clock data.TimeProvider) *Monitor {
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	return &Monitor{reg: reg, store: st, sched: sched, clock: clock, log: slog.Default().With("component", "command.monitor")}
}

// AddTask creates and enqueues a task for jobname, returning the created (or
// deduplicated, for a non-overlapping job) record (spec §6 addtask).
func (m *Monitor) AddTask(ctx context.Context, jobname string, extra TaskExtra, args []json.RawMessage, kwargs map[string]json.RawMessage) (*model.Task, error) {
	return m.sched.QueueTask(ctx, jobname, args, kwargs, extra.FromTask)
}

// AddTaskNoAck is addtask's fire-and-forget sibling: the RPC layer does not
// await or return the created record (spec §4.7).
func (m *Monitor) AddTaskNoAck(ctx context.Context, jobname string, extra TaskExtra, args []json.RawMessage, kwargs map[string]json.RawMessage) {
	go func() {
		if _, err := m.sched.QueueTask(context.Background(), jobname, args, kwargs, extra.FromTask); err != nil {
			m.log.Warn("addtask_noack failed", "job", jobname, "error", err)
		}
	}()
}

// GetTask returns the task with id, or (nil, nil) if it does not exist
// (spec §6: "record or null").
func (m *Monitor) GetTask(ctx context.Context, id string) (*model.Task, error) {
	task, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

// GetTasks returns every task matching filter's attribute-equality
// predicates (spec §6 get_tasks).
func (m *Monitor) GetTasks(ctx context.Context, filter store.Filter) ([]*model.Task, error) {
	return m.store.Filter(ctx, filter)
}

// JobList returns descriptor summaries, optionally restricted to jobnames
// (spec §6 job_list).
func (m *Monitor) JobList(jobnames ...string) []JobSummary {
	descs := m.reg.List(jobnames...)
	out := make([]JobSummary, 0, len(descs))
	for _, d := range descs {
		out = append(out, JobSummary{
			Name: d.Name, Type: d.Type, CanOverlap: d.CanOverlap,
			Timeout: d.Timeout, MaxRetries: d.MaxRetries,
		})
	}
	return out
}

// NextScheduled returns each periodic job's next-run instant as an absolute
// time, optionally restricted to jobnames (spec §6 next_scheduled). It does
// not compute the seconds remaining until that instant.
func (m *Monitor) NextScheduled(jobnames ...string) []scheduler.NextRun {
	return m.sched.NextScheduled(jobnames...)
}

// SaveTask persists a fully-formed task record, used internally to land a
// record synthesized outside the normal addtask path (spec §6 save_task).
// It creates the record if unseen. For an existing non-terminal record it
// always applies the status and retry count, applies the start and end
// times only when set, and applies the result, revoke reason and last error
// only when non-empty.
func (m *Monitor) SaveTask(ctx context.Context, task *model.Task) error {
	existing, err := m.store.Get(ctx, task.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return m.store.Create(ctx, task)
		}
		return err
	}
	if existing.Status.IsTerminal() {
		return fmt.Errorf("command: save_task %s: %w", task.ID, model.ErrIllegalTransition)
	}

	patch := store.Patch{
		Status:       task.Status,
		TimeStart:    task.TimeStart,
		TimeEnd:      task.TimeEnd,
		RevokeReason: nonEmptyReason(task.RevokeReason),
		RetryCount:   &task.RetryCount,
	}
	if len(task.Result) > 0 {
		result := []byte(task.Result)
		patch.Result = &result
	}
	if task.LastError != "" {
		patch.LastError = &task.LastError
	}
	_, err = m.store.Update(ctx, task.ID, patch)
	return err
}

func nonEmptyReason(r model.RevokeReason) *model.RevokeReason {
	if r == "" {
		return nil
	}
	return &r
}

// DeleteTasks removes the tasks with the given ids, returning how many
// existed (spec §6 delete_tasks).
func (m *Monitor) DeleteTasks(ctx context.Context, ids []string) (int, error) {
	return m.store.Delete(ctx, ids)
}

// WaitForTask blocks until the task with id reaches a terminal state, or
// timeout elapses (model.ErrTimeout). timeout<=0 uses the 3600s default
// (spec §6 wait_for_task).
func (m *Monitor) WaitForTask(ctx context.Context, id string, timeout time.Duration) (*model.Task, error) {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	return m.store.WaitForTerminal(ctx, id, timeout)
}
