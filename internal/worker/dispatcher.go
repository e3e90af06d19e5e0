// Package worker implements the per-process worker dispatch loop (spec
// §4.5): a loop that pulls task ids off the Queue and hands each to its own
// goroutine, bounded by the backlog semaphore, which drives the task through
// the lifecycle state machine and invokes the registered job callable.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/relayq/relayq/internal/data"
	"github.com/relayq/relayq/internal/domain/model"
	obserrors "github.com/relayq/relayq/internal/observability/errors"
	"github.com/relayq/relayq/internal/observability/metrics"
	"github.com/relayq/relayq/internal/queue"
	"github.com/relayq/relayq/internal/registry"
	"github.com/relayq/relayq/internal/store"
)

// Config configures a Dispatcher. It mirrors config.WorkerConfig without
// importing the config package, keeping worker free of the env-parsing
// dependency.
type Config struct {
	WorkerID       string
	Backlog        int
	DefaultTimeout time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// PollInterval bounds how long a single Queue.Get call blocks, so Run
	// can observe ctx cancellation promptly.
	PollInterval time.Duration
	// Recorder receives task lifecycle measurements. Nil defaults to a
	// no-op recorder.
	Recorder metrics.Recorder
}

func (c *Config) sanitize() {
	if c.WorkerID == "" {
		c.WorkerID = "worker"
	}
	if c.Backlog <= 0 {
		c.Backlog = 1
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = time.Hour
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 250 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Recorder == nil {
		c.Recorder = metrics.NoopRecorder{}
	}
}

// Dispatcher runs the worker dispatch loop against a shared Queue/Store
// pair (spec §5: "Queue and Store are the only shared mutable resources").
type Dispatcher struct {
	reg      *registry.Registry
	store    store.Store
	queue    queue.Queue
	clock    data.TimeProvider
	log      *slog.Logger
	cfg      Config
	recorder metrics.Recorder

	policy   *TimeoutPolicy
	backlog  *semaphore.Weighted
	Progress chan ProgressEvent

	mu       sync.Mutex
	inFlight map[string]struct{}
	claimed  sync.Map // task id -> struct{}, guards against this process handling two concurrent deliveries of the same id
	wg       sync.WaitGroup
}

// New constructs a Dispatcher. clock may be nil (defaults to real time).
func New(reg *registry.Registry, st store.Store, q queue.Queue, clock data.TimeProvider, cfg Config) (*Dispatcher, error) {
	cfg.sanitize()
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	policy, err := NewTimeoutPolicy(cfg.DefaultTimeout)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		reg:      reg,
		store:    st,
		queue:    q,
		clock:    clock,
		log:      slog.Default().With("component", "worker.dispatcher", "worker_id", cfg.WorkerID),
		cfg:      cfg,
		recorder: cfg.Recorder,
		policy:   policy,
		backlog:  semaphore.NewWeighted(int64(cfg.Backlog)),
		Progress: make(chan ProgressEvent, 64),
		inFlight: make(map[string]struct{}),
	}, nil
}

// Run blocks, pulling task ids off the queue and dispatching each to a
// bounded worker goroutine, until ctx is cancelled. It then waits for every
// in-flight task to finish before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.wg.Wait()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A backlog slot is taken before polling, so a saturated worker
		// leaves messages on the queue instead of holding one it cannot run.
		if err := d.backlog.Acquire(ctx, 1); err != nil {
			return ctx.Err()
		}

		msg, ok, err := d.queue.Get(ctx, d.cfg.PollInterval)
		if err != nil {
			d.backlog.Release(1)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			d.log.Error("queue get failed", "error", err)
			continue
		}
		if !ok || msg.Tag != queue.TagRequest {
			d.backlog.Release(1)
			continue
		}

		d.wg.Add(1)
		go func(taskID string) {
			defer d.wg.Done()
			defer d.backlog.Release(1)
			d.processOne(ctx, taskID)
		}(msg.Payload)
	}
}

// processOne drives one task id through the dispatch loop's ten steps
// (spec §4.5): duplicate-delivery guard, expiry check, RECEIVED/STARTED
// transitions, invocation under a bounded context, and the terminal
// transition.
func (d *Dispatcher) processOne(ctx context.Context, taskID string) {
	if _, alreadyClaimed := d.claimed.LoadOrStore(taskID, struct{}{}); alreadyClaimed {
		// Another in-process delivery of the same id is already being
		// handled; drop this one rather than racing the store (spec §4.5
		// step 1 duplicate-delivery tolerance).
		return
	}
	defer d.claimed.Delete(taskID)

	task, err := d.store.Get(ctx, taskID)
	if err != nil {
		// Already deleted, or never existed: duplicate delivery of a
		// terminal task that was since cleaned up. Drop silently.
		return
	}

	switch task.Status {
	case model.StatusPending, model.StatusRetry:
		updated, err := d.store.Update(ctx, taskID, store.Patch{Status: model.StatusReceived, IfStatus: task.Status})
		if err != nil {
			if errors.Is(err, model.ErrIllegalTransition) {
				// Another delivery raced this one to RECEIVED first; the
				// CAS lost. Drop (spec §8 invariant 5, queue idempotence).
				return
			}
			d.log.Warn("receive failed", "task_id", taskID, "error", err)
			return
		}
		task = updated
	case model.StatusReceived:
		// Re-delivered after a RETRY backoff already advanced it to RECEIVED.
	default:
		// STARTED, or a terminal status: another delivery already owns
		// this task, or it finished already. Tolerate duplicate delivery
		// by dropping (spec §4.5 step 1, §8 invariant on idempotence).
		return
	}

	now := d.clock.Now()
	if !now.Before(task.Expiry) {
		reason := model.RevokeReasonExpired
		if _, err := d.store.Update(ctx, taskID, store.Patch{Status: model.StatusRevoked, RevokeReason: &reason}); err != nil {
			d.log.Warn("revoke expired task failed", "task_id", taskID, "error", err)
		}
		return
	}

	desc, err := d.reg.Lookup(task.Name)
	if err != nil {
		lastErr := err.Error()
		_, _ = d.store.Update(ctx, taskID, store.Patch{Status: model.StatusFailure, LastError: &lastErr})
		return
	}

	startedAt := d.clock.Now()
	task, err = d.store.Update(ctx, taskID, store.Patch{Status: model.StatusStarted, TimeStart: &startedAt, IfStatus: model.StatusReceived})
	if err != nil {
		if errors.Is(err, model.ErrIllegalTransition) {
			// Another delivery raced this one to STARTED first; the CAS
			// lost. Drop (spec §8 invariant 5, queue idempotence).
			return
		}
		d.log.Warn("start failed", "task_id", taskID, "error", err)
		return
	}

	d.trackInFlight(taskID, true)
	defer d.trackInFlight(taskID, false)

	d.invoke(ctx, desc, task)
}

// invoke runs the job callable under min(task.Timeout, expiry-now) (spec
// §4.5 step 6) and applies the resulting lifecycle transition.
func (d *Dispatcher) invoke(ctx context.Context, desc *model.JobDescriptor, task *model.Task) {
	budget := d.effectiveTimeout(task)
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	consumer := NewTaskConsumer(d.cfg.WorkerID, task, d.Progress)

	invokedAt := d.clock.Now()
	result, err := d.runCallable(runCtx, desc, consumer)
	d.recorder.TaskDuration(desc.Name, d.clock.Now().Sub(invokedAt).Seconds())

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		reason := model.RevokeReasonTimeout
		if _, uerr := d.store.Update(ctx, task.ID, store.Patch{Status: model.StatusRevoked, RevokeReason: &reason}); uerr != nil {
			d.log.Warn("revoke timed-out task failed", "task_id", task.ID, "error", uerr)
		}
		d.recorder.TaskFinished(desc.Name, string(model.StatusRevoked), string(reason))
	case err == nil:
		resultBytes := []byte(result)
		if _, uerr := d.store.Update(ctx, task.ID, store.Patch{Status: model.StatusSuccess, Result: &resultBytes}); uerr != nil {
			d.log.Warn("complete success failed", "task_id", task.ID, "error", uerr)
		}
		d.recorder.TaskFinished(desc.Name, string(model.StatusSuccess), "")
	default:
		d.applyFailure(ctx, desc, task, err)
	}
}

func (d *Dispatcher) runCallable(ctx context.Context, desc *model.JobDescriptor, consumer *TaskConsumer) (result string, callErr error) {
	defer func() {
		if r := recover(); r != nil {
			callErr = fmt.Errorf("worker: job %q panicked: %v", desc.Name, r)
		}
	}()
	raw, err := desc.Func(ctx, consumer)
	return string(raw), err
}

func (d *Dispatcher) applyFailure(ctx context.Context, desc *model.JobDescriptor, task *model.Task, cause error) {
	var retryable *model.RetryableError
	lastErr := cause.Error()
	errorClass := obserrors.Classify(cause)

	if errors.As(cause, &retryable) && task.RetryCount < desc.MaxRetries {
		retryCount := task.RetryCount + 1
		if _, err := d.store.Update(ctx, task.ID, store.Patch{
			Status:     model.StatusRetry,
			LastError:  &lastErr,
			RetryCount: &retryCount,
		}); err != nil {
			d.log.Warn("retry transition failed", "task_id", task.ID, "error", err)
			return
		}
		d.recorder.TaskFinished(desc.Name, string(model.StatusRetry), errorClass)
		d.scheduleRetry(task.ID, retryCount)
		return
	}

	if _, err := d.store.Update(ctx, task.ID, store.Patch{Status: model.StatusFailure, LastError: &lastErr}); err != nil {
		d.log.Warn("fail transition failed", "task_id", task.ID, "error", err)
	}
	d.recorder.TaskFinished(desc.Name, string(model.StatusFailure), errorClass)
}

// scheduleRetry re-delivers taskID after an exponential backoff (base *
// 2^attempt, capped at RetryMaxDelay; spec §9 open question resolution).
func (d *Dispatcher) scheduleRetry(taskID string, attempt int) {
	delay := d.backoff(attempt)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		<-timer.C

		ctx := context.Background()
		if _, err := d.store.Update(ctx, taskID, store.Patch{Status: model.StatusReceived}); err != nil {
			d.log.Warn("retry re-receive failed", "task_id", taskID, "error", err)
			return
		}
		if err := d.queue.Put(ctx, queue.Message{Tag: queue.TagRequest, Payload: taskID}); err != nil {
			d.log.Warn("retry re-enqueue failed", "task_id", taskID, "error", err)
		}
	}()
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	factor := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(d.cfg.RetryBaseDelay) * factor)
	if delay > d.cfg.RetryMaxDelay || delay <= 0 {
		return d.cfg.RetryMaxDelay
	}
	return delay
}

func (d *Dispatcher) effectiveTimeout(task *model.Task) time.Duration {
	decision := d.policy.Resolve(task.Timeout)
	timeoutSeconds := time.Duration(decision.Seconds) * time.Second

	if remaining := task.Expiry.Sub(d.clock.Now()); remaining < timeoutSeconds {
		if remaining <= 0 {
			return time.Millisecond
		}
		return remaining
	}
	return timeoutSeconds
}

func (d *Dispatcher) trackInFlight(taskID string, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if active {
		d.inFlight[taskID] = struct{}{}
	} else {
		delete(d.inFlight, taskID)
	}
}

// InFlight returns the number of tasks currently executing in this
// dispatcher.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}
