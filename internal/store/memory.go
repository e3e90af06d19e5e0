package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relayq/relayq/internal/data"
	"github.com/relayq/relayq/internal/domain"
	"github.com/relayq/relayq/internal/domain/model"
)

// MemoryStore is the default Store implementation: a map guarded by a
// mutex, with per-id subscriber channels fanning out terminal-state
// notifications to WaitForTerminal callers (spec §4.2 default: "an
// in-memory keyed table").
type MemoryStore struct {
	hooks Hooks
	clock data.TimeProvider

	mu      sync.Mutex
	byID    map[string]*model.Task
	waiters map[string][]chan struct{}
}

// NewMemoryStore constructs an empty MemoryStore. hooks may be the zero
// value; every hook then becomes a no-op. A nil clock defaults to
// data.RealTimeProvider.
func NewMemoryStore(hooks Hooks, clock data.TimeProvider) *MemoryStore {
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	return &MemoryStore{
		hooks:   hooks,
		clock:   clock,
		byID:    make(map[string]*model.Task),
		waiters: make(map[string][]chan struct{}),
	}
}

// Create inserts t, failing with model.ErrDuplicate if its id already exists.
func (s *MemoryStore) Create(ctx context.Context, t *model.Task) error {
	s.mu.Lock()
	if _, exists := s.byID[t.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("store: create %s: %w", t.ID, model.ErrDuplicate)
	}
	cp := *t
	s.byID[t.ID] = &cp
	s.mu.Unlock()

	s.hooks.fireCreated(ctx, &cp)
	return nil
}

// Get returns the task with id, or model.ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("store: get %s: %w", id, model.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

// Update applies patch to the task with id, validating the status
// transition through domain.Validate. Terminal records are immutable
// (spec §3 invariant, "except for deletion").
func (s *MemoryStore) Update(ctx context.Context, id string, patch Patch) (*model.Task, error) {
	s.mu.Lock()

	existing, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("store: update %s: %w", id, model.ErrNotFound)
	}
	if existing.Status.IsTerminal() {
		s.mu.Unlock()
		return nil, fmt.Errorf("store: update %s: terminal task is immutable: %w", id, model.ErrIllegalTransition)
	}
	if patch.IfStatus != "" && existing.Status != patch.IfStatus {
		s.mu.Unlock()
		return nil, fmt.Errorf("store: update %s: expected status %s, found %s: %w", id, patch.IfStatus, existing.Status, model.ErrIllegalTransition)
	}

	if patch.Status != "" && patch.Status != existing.Status {
		if err := domain.Validate(existing.Status, patch.Status); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("store: update %s: %w", id, err)
		}
	}

	now := s.clock.Now()
	updated := *existing
	if patch.Status != "" {
		updated.Status = patch.Status
	}
	if patch.TimeStart != nil {
		updated.TimeStart = patch.TimeStart
	}
	if patch.TimeEnd != nil {
		updated.TimeEnd = patch.TimeEnd
	}
	if patch.Result != nil {
		updated.Result = *patch.Result
	}
	if patch.RevokeReason != nil {
		updated.RevokeReason = *patch.RevokeReason
	}
	if patch.LastError != nil {
		updated.LastError = *patch.LastError
	}
	if patch.RetryCount != nil {
		updated.RetryCount = *patch.RetryCount
	}
	if updated.Status.IsTerminal() && updated.TimeEnd == nil {
		updated.TimeEnd = &now
	}
	updated.UpdatedAt = now

	cp := updated
	s.byID[id] = &cp

	var toNotify []chan struct{}
	if cp.Status.IsTerminal() {
		toNotify = s.waiters[id]
		delete(s.waiters, id)
	}
	s.mu.Unlock()

	for _, ch := range toNotify {
		close(ch)
	}

	result := cp
	switch patch.Status {
	case model.StatusReceived:
		s.hooks.fireReceived(ctx, &result)
	case model.StatusStarted:
		s.hooks.fireStart(ctx, &result)
	}
	if result.Status.IsTerminal() {
		s.hooks.fireFinish(ctx, &result)
	}

	return &result, nil
}

// Filter returns every task matching f's non-zero fields.
func (s *MemoryStore) Filter(ctx context.Context, f Filter) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Task, 0)
	for _, t := range s.byID {
		if f.Name != "" && t.Name != f.Name {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.FromTask != "" && (t.FromTask == nil || *t.FromTask != f.FromTask) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// Delete removes the tasks with the given ids and returns how many existed.
func (s *MemoryStore) Delete(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, id := range ids {
		if _, ok := s.byID[id]; ok {
			delete(s.byID, id)
			count++
		}
		if waiters, ok := s.waiters[id]; ok {
			for _, ch := range waiters {
				close(ch)
			}
			delete(s.waiters, id)
		}
	}
	return count, nil
}

// WaitForTerminal blocks until the task with id reaches SUCCESS, FAILURE, or
// REVOKED, or timeout elapses (then model.ErrTimeout; the task keeps
// running).
func (s *MemoryStore) WaitForTerminal(ctx context.Context, id string, timeout time.Duration) (*model.Task, error) {
	s.mu.Lock()
	t, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("store: wait_for_terminal %s: %w", id, model.ErrNotFound)
	}
	if t.Status.IsTerminal() {
		cp := *t
		s.mu.Unlock()
		return &cp, nil
	}

	ch := make(chan struct{})
	s.waiters[id] = append(s.waiters[id], ch)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return s.Get(ctx, id)
	case <-timer.C:
		return nil, fmt.Errorf("store: wait_for_terminal %s: %w", id, model.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ Store = (*MemoryStore)(nil)
