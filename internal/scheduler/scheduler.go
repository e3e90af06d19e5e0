// Package scheduler implements the monitor-resident Scheduler (spec §4.3):
// it owns the periodic-job calendar, materializes due jobs into tasks, and
// exposes QueueTask for on-demand task creation from the command surface.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relayq/relayq/internal/data"
	"github.com/relayq/relayq/internal/domain/model"
	"github.com/relayq/relayq/internal/observability/metrics"
	"github.com/relayq/relayq/internal/queue"
	"github.com/relayq/relayq/internal/registry"
	"github.com/relayq/relayq/internal/store"
)

// nonTerminalStatuses is every status a duplicate-detection scan over a
// non-overlapping job must consider (spec §4.3 overlap guard): anything
// that is not yet in a ReadyStates terminal status.
var nonTerminalStatuses = []model.Status{
	model.StatusPending,
	model.StatusReceived,
	model.StatusStarted,
	model.StatusRetry,
}

// CalendarEntry is one periodic job's position on the scheduler's calendar.
type CalendarEntry struct {
	Descriptor *model.JobDescriptor
	LastRunAt  time.Time
	NextRunAt  time.Time
}

// Scheduler owns the periodic-job calendar and materializes tasks into the
// Store/Queue pair shared with the worker dispatch loop.
type Scheduler struct {
	reg    *registry.Registry
	store  store.Store
	queue  queue.Queue
	clock  data.TimeProvider
	defTTL time.Duration

	recorder metrics.Recorder

	mu       sync.Mutex
	calendar []*CalendarEntry

	// createMu serializes the duplicate-scan-then-create sequence for
	// non-overlapping descriptors across concurrent QueueTask callers
	// (spec invariant 3). It is separate from mu, which Tick already holds
	// while calling QueueTask; reusing mu here would deadlock.
	createMu sync.Mutex
}

// WithRecorder sets the metrics.Recorder queue-depth measurements are
// reported to.
func (s *Scheduler) WithRecorder(rec metrics.Recorder) *Scheduler {
	if rec != nil {
		s.recorder = rec
	}
	return s
}

// New builds a Scheduler and its initial calendar from every periodic
// descriptor in reg, in registration order (spec §4.3 tie-break rule).
// defaultTimeout seeds Timeout/Expiry for descriptors that leave Timeout
// unset.
func New(reg *registry.Registry, st store.Store, q queue.Queue, clock data.TimeProvider, defaultTimeout time.Duration) *Scheduler {
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	s := &Scheduler{reg: reg, store: st, queue: q, clock: clock, defTTL: defaultTimeout, recorder: metrics.NoopRecorder{}}

	now := clock.Now()
	for _, desc := range reg.Ordered(model.JobTypePeriodic) {
		s.calendar = append(s.calendar, &CalendarEntry{
			Descriptor: desc,
			NextRunAt:  desc.Schedule.NextAfter(now),
		})
	}
	return s
}

func (s *Scheduler) timeoutFor(desc *model.JobDescriptor) time.Duration {
	if desc.Timeout > 0 {
		return desc.Timeout
	}
	return s.defTTL
}

// QueueTask resolves name against the registry and creates a PENDING task
// for it, enqueueing its id for worker pickup (spec §4.3, §6 addtask).
// For a non-overlapping descriptor it returns the existing non-terminal
// task with the same args/kwargs instead of creating a duplicate.
func (s *Scheduler) QueueTask(ctx context.Context, name string, args []json.RawMessage, kwargs map[string]json.RawMessage, fromTask *string) (*model.Task, error) {
	desc, err := s.reg.Lookup(name)
	if err != nil {
		return nil, err
	}

	task := &model.Task{
		ID:       uuid.New().String(),
		Name:     desc.Name,
		Status:   model.StatusPending,
		Args:     args,
		Kwargs:   kwargs,
		FromTask: fromTask,
	}

	if !desc.CanOverlap {
		s.createMu.Lock()
		defer s.createMu.Unlock()

		if existing, err := s.findNonTerminalDuplicate(ctx, task); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	now := s.clock.Now()
	timeout := s.timeoutFor(desc)
	task.TimeExecuted = now
	task.Expiry = now.Add(timeout)
	task.Timeout = timeout
	task.CreatedAt = now
	task.UpdatedAt = now

	if err := s.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("scheduler: create task for %q: %w", name, err)
	}

	if err := s.queue.Put(ctx, queue.Message{Tag: queue.TagRequest, Payload: task.ID}); err != nil {
		return nil, fmt.Errorf("scheduler: enqueue task %s: %w", task.ID, err)
	}
	s.recorder.QueueDepth("default", s.queue.Qsize(ctx))
	return task, nil
}

func (s *Scheduler) findNonTerminalDuplicate(ctx context.Context, candidate *model.Task) (*model.Task, error) {
	key := candidate.ArgsKey()
	for _, status := range nonTerminalStatuses {
		tasks, err := s.store.Filter(ctx, store.Filter{Name: candidate.Name, Status: status})
		if err != nil {
			return nil, fmt.Errorf("scheduler: scan for duplicate of %q: %w", candidate.Name, err)
		}
		for _, t := range tasks {
			if t.ArgsKey() == key {
				return t, nil
			}
		}
	}
	return nil, nil
}

// Tick materializes every periodic job whose calendar entry is due at or
// before now, coalescing any missed intervals into exactly one catch-up
// task per job (spec §8 S4), then advances each entry's NextRunAt.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.calendar {
		if entry.NextRunAt.After(now) {
			continue
		}

		desc := entry.Descriptor
		if _, err := s.QueueTask(ctx, desc.Name, desc.DefaultArgs, desc.DefaultKwargs, nil); err != nil {
			return fmt.Errorf("scheduler: materialize periodic job %q: %w", desc.Name, err)
		}

		entry.LastRunAt = entry.NextRunAt
		next := entry.NextRunAt
		for !next.After(now) {
			next = desc.Schedule.NextAfter(next)
		}
		entry.NextRunAt = next
	}
	return nil
}

// NextRun is one job's next materialization instant, as an absolute time
// rather than a duration from now (spec §6 next_scheduled).
type NextRun struct {
	Name      string
	NextRunAt time.Time
}

// NextScheduled returns the calendar's next-run times, restricted to
// jobnames when given, ordered by name for deterministic output.
func (s *Scheduler) NextScheduled(jobnames ...string) []NextRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	var want map[string]bool
	if len(jobnames) > 0 {
		want = make(map[string]bool, len(jobnames))
		for _, n := range jobnames {
			want[n] = true
		}
	}

	out := make([]NextRun, 0, len(s.calendar))
	for _, entry := range s.calendar {
		if want != nil && !want[entry.Descriptor.Name] {
			continue
		}
		out = append(out, NextRun{Name: entry.Descriptor.Name, NextRunAt: entry.NextRunAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
