// Package store implements the Task Store (spec §4.2): keyed persistence for
// task records supporting create, update-by-id, get, filter, and a blocking
// wait-for-terminal-state operation.
package store

import (
	"context"
	"time"

	"github.com/relayq/relayq/internal/domain/model"
)

// Patch describes an attribute update applied by Update. Only non-nil
// fields are changed; an empty Status leaves the task's status as it is.
//
// A patch reaching a model.ReadyStates status stamps TimeEnd from the
// store's clock automatically when the caller leaves it nil, so every
// terminal transition carries one without relying on each call site to
// remember it (spec §3, "time_end — set on any terminal transition").
type Patch struct {
	Status       model.Status
	TimeStart    *time.Time
	TimeEnd      *time.Time
	Result       *[]byte
	RevokeReason *model.RevokeReason
	LastError    *string
	RetryCount   *int

	// IfStatus, when non-empty, makes Update a compare-and-set: it fails
	// with model.ErrIllegalTransition unless the record's current status
	// equals IfStatus. Callers that read a task's status and then patch it
	// must set this to the status they observed, so a second caller racing
	// the same pre-state delivery loses instead of silently re-applying the
	// same transition (spec §8 invariant 5, queue idempotence).
	IfStatus model.Status
}

// Filter restricts Filter to attribute-equality predicates (spec §4.2:
// "attribute-equality filters only"). Zero-value fields are not applied.
type Filter struct {
	Name     string
	Status   model.Status
	FromTask string
}

// Hooks are the lifecycle callbacks a store fires as a task's record moves
// through its lifecycle: OnCreated from Create, OnReceived and OnStart from
// an Update whose patch moves the task to RECEIVED or STARTED, and OnFinish
// from an Update that leaves the task in a terminal status. The scheduler
// and the worker do not call them. The default no-op Hooks satisfies every
// call site.
type Hooks struct {
	OnCreated  func(ctx context.Context, t *model.Task)
	OnReceived func(ctx context.Context, t *model.Task)
	OnStart    func(ctx context.Context, t *model.Task)
	OnFinish   func(ctx context.Context, t *model.Task)
}

func (h Hooks) fireCreated(ctx context.Context, t *model.Task) {
	if h.OnCreated != nil {
		h.OnCreated(ctx, t)
	}
}

func (h Hooks) fireReceived(ctx context.Context, t *model.Task) {
	if h.OnReceived != nil {
		h.OnReceived(ctx, t)
	}
}

func (h Hooks) fireStart(ctx context.Context, t *model.Task) {
	if h.OnStart != nil {
		h.OnStart(ctx, t)
	}
}

func (h Hooks) fireFinish(ctx context.Context, t *model.Task) {
	if h.OnFinish != nil {
		h.OnFinish(ctx, t)
	}
}

// Store is the contract a task persistence backend must satisfy. The
// in-memory implementation in this package is the default; PostgresStore
// implements the same contract against Postgres.
type Store interface {
	Create(ctx context.Context, t *model.Task) error
	Update(ctx context.Context, id string, patch Patch) (*model.Task, error)
	Get(ctx context.Context, id string) (*model.Task, error)
	Filter(ctx context.Context, f Filter) ([]*model.Task, error)
	Delete(ctx context.Context, ids []string) (int, error)
	WaitForTerminal(ctx context.Context, id string, timeout time.Duration) (*model.Task, error)
}
