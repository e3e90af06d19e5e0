package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq/internal/data"
	"github.com/relayq/relayq/internal/domain/model"
	"github.com/relayq/relayq/internal/queue"
	"github.com/relayq/relayq/internal/registry"
	"github.com/relayq/relayq/internal/store"
)

func newTestScheduler(t *testing.T, now time.Time, descs ...*model.JobDescriptor) (*Scheduler, store.Store, queue.Queue, *data.FixedTimeProvider) {
	t.Helper()
	reg := registry.New()
	for _, d := range descs {
		require.NoError(t, reg.Register(d))
	}
	reg.Freeze()

	st := store.NewMemoryStore(store.Hooks{}, nil)
	q := queue.NewInProcessQueue(64)
	clock := data.NewFixedTimeProvider(now)

	return New(reg, st, q, clock, time.Hour), st, q, clock
}

func TestScheduler_QueueTaskEnqueuesAndCreates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, st, q, _ := newTestScheduler(t, now, &model.JobDescriptor{
		Name: "addition", Type: model.JobTypeStandard, CanOverlap: true,
	})

	task, err := sched.QueueTask(context.Background(), "addition", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, task.Status)

	stored, err := st.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, stored.ID)

	msg, ok, err := q.Get(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, task.ID, msg.Payload)
}

func TestScheduler_QueueTaskUnknownJob(t *testing.T) {
	sched, _, _, _ := newTestScheduler(t, time.Now())
	_, err := sched.QueueTask(context.Background(), "missing", nil, nil, nil)
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

// S5: overlap guard. A non-overlapping job queued twice with identical args
// while the first invocation is still non-terminal returns the same task.
func TestScheduler_OverlapGuardReturnsExistingTask(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, _, _, _ := newTestScheduler(t, now, &model.JobDescriptor{
		Name: "crawl", Type: model.JobTypeStandard, CanOverlap: false,
	})

	first, err := sched.QueueTask(context.Background(), "crawl", nil, nil, nil)
	require.NoError(t, err)

	second, err := sched.QueueTask(context.Background(), "crawl", nil, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

// Invariant 3: concurrent AddTask calls for the same non-overlapping job
// must not race past the duplicate scan and create two non-terminal records.
func TestScheduler_OverlapGuardSerializesConcurrentCreates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, st, _, _ := newTestScheduler(t, now, &model.JobDescriptor{
		Name: "crawl", Type: model.JobTypeStandard, CanOverlap: false,
	})

	const n = 20
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := sched.QueueTask(context.Background(), "crawl", nil, nil, nil)
			require.NoError(t, err)
			ids <- task.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1, "all concurrent callers must observe the same task id")

	matches, err := st.Filter(context.Background(), store.Filter{Name: "crawl"})
	require.NoError(t, err)
	assert.Len(t, matches, 1, "only one task record may exist for the non-overlapping job")
}

func TestScheduler_OverlapGuardAllowsDistinctArgs(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, _, _, _ := newTestScheduler(t, now, &model.JobDescriptor{
		Name: "crawl", Type: model.JobTypeStandard, CanOverlap: false,
	})

	first, err := sched.QueueTask(context.Background(), "crawl", rawArgs("a"), nil, nil)
	require.NoError(t, err)
	second, err := sched.QueueTask(context.Background(), "crawl", rawArgs("b"), nil, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

// S4: periodic coalesce. A job scheduled every second that misses several
// ticks while "frozen" materializes exactly one catch-up task, not one per
// missed interval.
func TestScheduler_TickCoalescesMissedIntervals(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	interval, err := NewIntervalSchedule(time.Second)
	require.NoError(t, err)

	sched, _, q, _ := newTestScheduler(t, start, &model.JobDescriptor{
		Name: "heartbeat", Type: model.JobTypePeriodic, Schedule: interval, CanOverlap: true,
	})

	// Jump 10 intervals into the future in a single tick.
	later := start.Add(10 * time.Second)
	require.NoError(t, sched.Tick(context.Background(), later))

	count := 0
	for {
		_, ok, err := q.Get(context.Background(), 10*time.Millisecond)
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 1, count, "exactly one catch-up task should be materialized")

	next := sched.NextScheduled("heartbeat")
	require.Len(t, next, 1)
	assert.True(t, next[0].NextRunAt.After(later), "calendar entry must advance strictly past the tick instant")
}

func TestScheduler_TickSkipsNotYetDueEntries(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	interval, err := NewIntervalSchedule(time.Minute)
	require.NoError(t, err)

	sched, _, q, _ := newTestScheduler(t, start, &model.JobDescriptor{
		Name: "hourly", Type: model.JobTypePeriodic, Schedule: interval, CanOverlap: true,
	})

	require.NoError(t, sched.Tick(context.Background(), start.Add(time.Second)))

	_, ok, err := q.Get(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "entry not yet due must not materialize")
}

// Invariant 4: the calendar's next-run times never move backwards across ticks.
func TestScheduler_CalendarIsMonotonic(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	interval, err := NewIntervalSchedule(time.Second)
	require.NoError(t, err)

	sched, _, _, _ := newTestScheduler(t, start, &model.JobDescriptor{
		Name: "tick", Type: model.JobTypePeriodic, Schedule: interval, CanOverlap: true,
	})

	prev := sched.NextScheduled("tick")[0].NextRunAt
	cursor := start
	for i := 0; i < 5; i++ {
		cursor = cursor.Add(time.Second)
		require.NoError(t, sched.Tick(context.Background(), cursor))
		next := sched.NextScheduled("tick")[0].NextRunAt
		assert.True(t, !next.Before(prev), "calendar entry regressed")
		prev = next
	}
}

func TestScheduler_NextScheduledFiltersByName(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	interval, err := NewIntervalSchedule(time.Second)
	require.NoError(t, err)

	sched, _, _, _ := newTestScheduler(t, start,
		&model.JobDescriptor{Name: "a", Type: model.JobTypePeriodic, Schedule: interval},
		&model.JobDescriptor{Name: "b", Type: model.JobTypePeriodic, Schedule: interval},
	)

	only := sched.NextScheduled("b")
	require.Len(t, only, 1)
	assert.Equal(t, "b", only[0].Name)
}

func rawArgs(s string) []json.RawMessage {
	encoded, _ := json.Marshal(s)
	return []json.RawMessage{encoded}
}
