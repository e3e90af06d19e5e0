package store

import (
	"context"
	"testing"
	"time"

	"github.com/relayq/relayq/internal/data"
	"github.com/relayq/relayq/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(id string) *model.Task {
	now := time.Now()
	return &model.Task{
		ID:           id,
		Name:         "addition",
		Status:       model.StatusPending,
		TimeExecuted: now,
		Expiry:       now.Add(time.Hour),
		Timeout:      time.Minute,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMemoryStore_CreateRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Hooks{}, nil)

	require.NoError(t, s.Create(ctx, newTestTask("t1")))
	err := s.Create(ctx, newTestTask("t1"))
	assert.ErrorIs(t, err, model.ErrDuplicate)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore(Hooks{}, nil)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryStore_UpdateValidatesTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Hooks{}, nil)
	require.NoError(t, s.Create(ctx, newTestTask("t1")))

	_, err := s.Update(ctx, "t1", Patch{Status: model.StatusStarted})
	assert.ErrorIs(t, err, model.ErrIllegalTransition)

	got, err := s.Update(ctx, "t1", Patch{Status: model.StatusReceived})
	require.NoError(t, err)
	assert.Equal(t, model.StatusReceived, got.Status)
}

func TestMemoryStore_TerminalIsImmutable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Hooks{}, nil)
	require.NoError(t, s.Create(ctx, newTestTask("t1")))
	_, err := s.Update(ctx, "t1", Patch{Status: model.StatusReceived})
	require.NoError(t, err)
	_, err = s.Update(ctx, "t1", Patch{Status: model.StatusStarted})
	require.NoError(t, err)
	_, err = s.Update(ctx, "t1", Patch{Status: model.StatusSuccess})
	require.NoError(t, err)

	_, err = s.Update(ctx, "t1", Patch{Status: model.StatusFailure})
	assert.ErrorIs(t, err, model.ErrIllegalTransition)
}

func TestMemoryStore_UpdateStampsTimeEndOnTerminalTransition(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Hooks{}, nil)
	require.NoError(t, s.Create(ctx, newTestTask("t1")))
	_, err := s.Update(ctx, "t1", Patch{Status: model.StatusReceived})
	require.NoError(t, err)
	startedAt := time.Now()
	started, err := s.Update(ctx, "t1", Patch{Status: model.StatusStarted, TimeStart: &startedAt})
	require.NoError(t, err)
	require.NotNil(t, started.TimeStart)

	done, err := s.Update(ctx, "t1", Patch{Status: model.StatusSuccess})
	require.NoError(t, err)
	require.NotNil(t, done.TimeEnd)
	assert.False(t, done.TimeEnd.Before(*done.TimeStart))
}

func TestMemoryStore_UpdateKeepsExplicitTimeEnd(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Hooks{}, nil)
	require.NoError(t, s.Create(ctx, newTestTask("t1")))
	_, err := s.Update(ctx, "t1", Patch{Status: model.StatusReceived})
	require.NoError(t, err)
	_, err = s.Update(ctx, "t1", Patch{Status: model.StatusStarted})
	require.NoError(t, err)

	explicit := time.Now().Add(-time.Hour)
	done, err := s.Update(ctx, "t1", Patch{Status: model.StatusFailure, TimeEnd: &explicit})
	require.NoError(t, err)
	require.NotNil(t, done.TimeEnd)
	assert.True(t, done.TimeEnd.Equal(explicit))
}

func TestMemoryStore_UpdateIfStatusRejectsStaleCaller(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Hooks{}, nil)
	require.NoError(t, s.Create(ctx, newTestTask("t1")))

	// First caller wins the PENDING -> RECEIVED race.
	_, err := s.Update(ctx, "t1", Patch{Status: model.StatusReceived, IfStatus: model.StatusPending})
	require.NoError(t, err)

	// A second caller that also read PENDING must lose, not silently
	// re-apply the same transition (spec §8 invariant 5).
	_, err = s.Update(ctx, "t1", Patch{Status: model.StatusReceived, IfStatus: model.StatusPending})
	assert.ErrorIs(t, err, model.ErrIllegalTransition)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReceived, got.Status)
}

func TestMemoryStore_Filter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Hooks{}, nil)
	require.NoError(t, s.Create(ctx, newTestTask("t1")))
	t2 := newTestTask("t2")
	t2.Name = "sleeper"
	require.NoError(t, s.Create(ctx, t2))

	matches, err := s.Filter(ctx, Filter{Name: "addition"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "t1", matches[0].ID)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Hooks{}, nil)
	require.NoError(t, s.Create(ctx, newTestTask("t1")))

	count, err := s.Delete(ctx, []string{"t1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = s.Get(ctx, "t1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryStore_WaitForTerminal_AlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Hooks{}, nil)
	require.NoError(t, s.Create(ctx, newTestTask("t1")))
	_, err := s.Update(ctx, "t1", Patch{Status: model.StatusReceived})
	require.NoError(t, err)
	_, err = s.Update(ctx, "t1", Patch{Status: model.StatusStarted})
	require.NoError(t, err)
	_, err = s.Update(ctx, "t1", Patch{Status: model.StatusSuccess})
	require.NoError(t, err)

	got, err := s.WaitForTerminal(ctx, "t1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, got.Status)
}

func TestMemoryStore_WaitForTerminal_UnblocksOnTransition(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Hooks{}, nil)
	require.NoError(t, s.Create(ctx, newTestTask("t1")))

	done := make(chan *model.Task, 1)
	go func() {
		got, err := s.WaitForTerminal(ctx, "t1", 2*time.Second)
		require.NoError(t, err)
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := s.Update(ctx, "t1", Patch{Status: model.StatusReceived})
	require.NoError(t, err)
	_, err = s.Update(ctx, "t1", Patch{Status: model.StatusStarted})
	require.NoError(t, err)
	_, err = s.Update(ctx, "t1", Patch{Status: model.StatusSuccess})
	require.NoError(t, err)

	select {
	case got := <-done:
		assert.Equal(t, model.StatusSuccess, got.Status)
	case <-time.After(time.Second):
		t.Fatal("expected WaitForTerminal to unblock")
	}
}

func TestMemoryStore_WaitForTerminal_TimesOut(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Hooks{}, nil)
	require.NoError(t, s.Create(ctx, newTestTask("t1")))

	_, err := s.WaitForTerminal(ctx, "t1", 30*time.Millisecond)
	assert.ErrorIs(t, err, model.ErrTimeout)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestMemoryStore_HooksFire(t *testing.T) {
	ctx := context.Background()
	var created, received, started, finished int
	hooks := Hooks{
		OnCreated:  func(ctx context.Context, tk *model.Task) { created++ },
		OnReceived: func(ctx context.Context, tk *model.Task) { received++ },
		OnStart:    func(ctx context.Context, tk *model.Task) { started++ },
		OnFinish:   func(ctx context.Context, tk *model.Task) { finished++ },
	}
	s := NewMemoryStore(hooks, &data.RealTimeProvider{})
	require.NoError(t, s.Create(ctx, newTestTask("t1")))
	_, err := s.Update(ctx, "t1", Patch{Status: model.StatusReceived})
	require.NoError(t, err)
	_, err = s.Update(ctx, "t1", Patch{Status: model.StatusStarted})
	require.NoError(t, err)
	_, err = s.Update(ctx, "t1", Patch{Status: model.StatusSuccess})
	require.NoError(t, err)

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, received)
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, finished)
}
