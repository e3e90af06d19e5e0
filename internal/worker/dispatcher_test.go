package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq/internal/domain/model"
	"github.com/relayq/relayq/internal/queue"
	"github.com/relayq/relayq/internal/registry"
	"github.com/relayq/relayq/internal/store"
)

func newTestDispatcher(t *testing.T, cfg Config, descs ...*model.JobDescriptor) (*Dispatcher, store.Store, queue.Queue) {
	t.Helper()
	reg := registry.New()
	for _, d := range descs {
		require.NoError(t, reg.Register(d))
	}
	reg.Freeze()

	st := store.NewMemoryStore(store.Hooks{}, nil)
	q := queue.NewInProcessQueue(64)

	d, err := New(reg, st, q, nil, cfg)
	require.NoError(t, err)
	return d, st, q
}

func seedTask(t *testing.T, st store.Store, q queue.Queue, name string, args []json.RawMessage, timeout time.Duration) *model.Task {
	t.Helper()
	now := time.Now()
	task := &model.Task{
		ID:           name + "-" + time.Now().Format("150405.000000000"),
		Name:         name,
		Args:         args,
		Status:       model.StatusPending,
		TimeExecuted: now,
		Expiry:       now.Add(timeout),
		Timeout:      timeout,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.Create(context.Background(), task))
	require.NoError(t, q.Put(context.Background(), queue.Message{Tag: queue.TagRequest, Payload: task.ID}))
	return task
}

func waitTerminal(t *testing.T, st store.Store, id string) *model.Task {
	t.Helper()
	task, err := st.WaitForTerminal(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	return task
}

func intArg(n int) json.RawMessage {
	b, _ := json.Marshal(n)
	return b
}

// S1: Addition job.
func additionFunc(ctx context.Context, jc model.JobContext) (json.RawMessage, error) {
	args := jc.Args()
	var a, b int
	_ = json.Unmarshal(args[0], &a)
	_ = json.Unmarshal(args[1], &b)
	return json.Marshal(a + b)
}

func TestDispatcher_AdditionSucceeds(t *testing.T) {
	d, st, q := newTestDispatcher(t, Config{Backlog: 2}, &model.JobDescriptor{
		Name: "addition", Type: model.JobTypeStandard, Func: additionFunc,
	})

	task := seedTask(t, st, q, "addition", []json.RawMessage{intArg(2), intArg(3)}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	done := waitTerminal(t, st, task.ID)
	assert.Equal(t, model.StatusSuccess, done.Status)
	assert.JSONEq(t, "5", string(done.Result))
	require.NotNil(t, done.TimeEnd)
	require.NotNil(t, done.TimeStart)
	assert.False(t, done.TimeEnd.Before(*done.TimeStart))
}

// S2: Sleeper job, timeout shorter than sleep duration.
func sleeperFunc(ctx context.Context, jc model.JobContext) (json.RawMessage, error) {
	select {
	case <-time.After(5 * time.Second):
		return json.Marshal("awake")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestDispatcher_SleeperTimesOut(t *testing.T) {
	d, st, q := newTestDispatcher(t, Config{Backlog: 2}, &model.JobDescriptor{
		Name: "sleeper", Type: model.JobTypeStandard, Func: sleeperFunc,
	})

	task := seedTask(t, st, q, "sleeper", nil, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	done := waitTerminal(t, st, task.ID)
	assert.Equal(t, model.StatusRevoked, done.Status)
	assert.Equal(t, model.RevokeReasonTimeout, done.RevokeReason)
	require.NotNil(t, done.TimeEnd)
	require.NotNil(t, done.TimeStart)
	assert.False(t, done.TimeEnd.Before(*done.TimeStart))
}

// S3: job callable fails outright.
func failingFunc(ctx context.Context, jc model.JobContext) (json.RawMessage, error) {
	return nil, errors.New("boom")
}

func TestDispatcher_FailureRecordsLastError(t *testing.T) {
	d, st, q := newTestDispatcher(t, Config{Backlog: 2}, &model.JobDescriptor{
		Name: "failer", Type: model.JobTypeStandard, Func: failingFunc,
	})

	task := seedTask(t, st, q, "failer", nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	done := waitTerminal(t, st, task.ID)
	assert.Equal(t, model.StatusFailure, done.Status)
	assert.Equal(t, "boom", done.LastError)
	require.NotNil(t, done.TimeEnd)
	require.NotNil(t, done.TimeStart)
	assert.True(t, done.TimeEnd.After(*done.TimeStart) || done.TimeEnd.Equal(*done.TimeStart))
}

func TestDispatcher_RetryableFailureEventuallySucceeds(t *testing.T) {
	var attempts int32
	retryThenSucceed := func(ctx context.Context, jc model.JobContext) (json.RawMessage, error) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			return nil, model.Retryable(errors.New("transient"))
		}
		return json.Marshal("ok")
	}

	d, st, q := newTestDispatcher(t, Config{Backlog: 2, RetryBaseDelay: 5 * time.Millisecond, RetryMaxDelay: 20 * time.Millisecond}, &model.JobDescriptor{
		Name: "flaky", Type: model.JobTypeStandard, Func: retryThenSucceed, MaxRetries: 3,
	})

	task := seedTask(t, st, q, "flaky", nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	done, err := st.WaitForTerminal(context.Background(), task.ID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, done.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

// Invariant 5: duplicate delivery tolerance. Enqueuing the same task id
// twice before the first delivery moves past PENDING must not invoke the
// callable twice.
func TestDispatcher_DuplicateDeliveryIsIdempotent(t *testing.T) {
	var calls int32
	slowFunc := func(ctx context.Context, jc model.JobContext) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(100 * time.Millisecond)
		return json.Marshal("done")
	}

	d, st, q := newTestDispatcher(t, Config{Backlog: 2}, &model.JobDescriptor{
		Name: "slow", Type: model.JobTypeStandard, Func: slowFunc,
	})

	task := seedTask(t, st, q, "slow", nil, time.Minute)
	// Redeliver the same id before the first delivery transitions past PENDING.
	require.NoError(t, q.Put(context.Background(), queue.Message{Tag: queue.TagRequest, Payload: task.ID}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	done := waitTerminal(t, st, task.ID)
	assert.Equal(t, model.StatusSuccess, done.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// Invariant 5, cross-process: two independent Dispatchers (no shared in-process
// `claimed` map, as separate relayq-worker processes would have) racing the
// same re-delivered task id must still invoke the callable only once. This
// exercises the store's Patch.IfStatus compare-and-set rather than the
// in-process duplicate guard.
func TestDispatcher_CrossProcessDuplicateDeliveryIsIdempotent(t *testing.T) {
	var calls int32
	slowFunc := func(ctx context.Context, jc model.JobContext) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return json.Marshal("done")
	}
	desc := &model.JobDescriptor{Name: "slow", Type: model.JobTypeStandard, Func: slowFunc}

	reg := registry.New()
	require.NoError(t, reg.Register(desc))
	reg.Freeze()

	st := store.NewMemoryStore(store.Hooks{}, nil)
	q := queue.NewInProcessQueue(64)
	task := seedTask(t, st, q, "slow", nil, time.Minute)

	d1, err := New(reg, st, q, nil, Config{Backlog: 2})
	require.NoError(t, err)
	d2, err := New(reg, st, q, nil, Config{Backlog: 2})
	require.NoError(t, err)

	ctx := context.Background()
	done := make(chan struct{}, 2)
	go func() { d1.processOne(ctx, task.ID); done <- struct{}{} }()
	go func() { d2.processOne(ctx, task.ID); done <- struct{}{} }()
	<-done
	<-done

	result := waitTerminal(t, st, task.ID)
	assert.Equal(t, model.StatusSuccess, result.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
