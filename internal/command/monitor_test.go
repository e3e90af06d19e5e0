package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq/internal/data"
	"github.com/relayq/relayq/internal/domain/model"
	"github.com/relayq/relayq/internal/queue"
	"github.com/relayq/relayq/internal/registry"
	"github.com/relayq/relayq/internal/scheduler"
	"github.com/relayq/relayq/internal/store"
)

func newTestMonitor(t *testing.T, descs ...*model.JobDescriptor) (*Monitor, store.Store) {
	t.Helper()
	reg := registry.New()
	for _, d := range descs {
		require.NoError(t, reg.Register(d))
	}
	reg.Freeze()

	st := store.NewMemoryStore(store.Hooks{}, nil)
	q := queue.NewInProcessQueue(64)
	clock := data.NewFixedTimeProvider(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sched := scheduler.New(reg, st, q, clock, time.Hour)

	return New(reg, st, sched, clock), st
}

func TestMonitor_AddTaskAndGetTask(t *testing.T) {
	m, _ := newTestMonitor(t, &model.JobDescriptor{Name: "addition", Type: model.JobTypeStandard, CanOverlap: true})

	task, err := m.AddTask(context.Background(), "addition", TaskExtra{}, nil, nil)
	require.NoError(t, err)

	got, err := m.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
}

func TestMonitor_GetTaskMissingReturnsNilNotError(t *testing.T) {
	m, _ := newTestMonitor(t)
	got, err := m.GetTask(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMonitor_JobList(t *testing.T) {
	m, _ := newTestMonitor(t,
		&model.JobDescriptor{Name: "addition", Type: model.JobTypeStandard},
		&model.JobDescriptor{Name: "sleeper", Type: model.JobTypeStandard},
	)

	all := m.JobList()
	assert.Len(t, all, 2)

	only := m.JobList("sleeper")
	require.Len(t, only, 1)
	assert.Equal(t, "sleeper", only[0].Name)
}

func TestMonitor_DeleteTasks(t *testing.T) {
	m, _ := newTestMonitor(t, &model.JobDescriptor{Name: "addition", Type: model.JobTypeStandard, CanOverlap: true})

	task, err := m.AddTask(context.Background(), "addition", TaskExtra{}, nil, nil)
	require.NoError(t, err)

	count, err := m.DeleteTasks(context.Background(), []string{task.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := m.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMonitor_WaitForTaskTimesOut(t *testing.T) {
	m, _ := newTestMonitor(t, &model.JobDescriptor{Name: "addition", Type: model.JobTypeStandard, CanOverlap: true})

	task, err := m.AddTask(context.Background(), "addition", TaskExtra{}, nil, nil)
	require.NoError(t, err)

	_, err = m.WaitForTask(context.Background(), task.ID, 20*time.Millisecond)
	assert.ErrorIs(t, err, model.ErrTimeout)
}

func TestMonitor_SaveTaskCreatesThenUpdates(t *testing.T) {
	m, st := newTestMonitor(t)

	now := time.Now()
	task := &model.Task{
		ID: "external-1", Name: "chained", Status: model.StatusPending,
		TimeExecuted: now, Expiry: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, m.SaveTask(context.Background(), task))

	task.Status = model.StatusReceived
	require.NoError(t, m.SaveTask(context.Background(), task))

	stored, err := st.Get(context.Background(), "external-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReceived, stored.Status)
}

func TestMonitor_NextScheduled(t *testing.T) {
	interval, err := scheduler.NewIntervalSchedule(time.Minute)
	require.NoError(t, err)
	m, _ := newTestMonitor(t, &model.JobDescriptor{
		Name: "heartbeat", Type: model.JobTypePeriodic, Schedule: interval, CanOverlap: true,
	})

	runs := m.NextScheduled()
	require.Len(t, runs, 1)
	assert.Equal(t, "heartbeat", runs[0].Name)
}
