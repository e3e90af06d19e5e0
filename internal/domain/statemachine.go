// Package domain holds the task lifecycle state machine shared by the
// store, scheduler, and worker packages (spec §4.6).
package domain

import (
	"fmt"

	"github.com/relayq/relayq/internal/domain/model"
)

// transitions lists, for each status, the statuses it may legally move to.
// PENDING is the only entry status; REVOKED/FAILURE/SUCCESS are terminal and
// have no outgoing edges.
var transitions = map[model.Status]map[model.Status]bool{
	model.StatusPending: {
		model.StatusReceived: true,
		model.StatusRevoked:  true,
	},
	model.StatusReceived: {
		model.StatusStarted: true,
		model.StatusRevoked: true,
	},
	model.StatusStarted: {
		model.StatusSuccess: true,
		model.StatusFailure: true,
		model.StatusRetry:   true,
		model.StatusRevoked: true,
	},
	model.StatusRetry: {
		model.StatusReceived: true,
		model.StatusRevoked:  true,
	},
	model.StatusRevoked: {},
	model.StatusFailure: {},
	model.StatusSuccess: {},
}

// Validate reports whether moving a task from `from` to `to` is a legal
// transition. It rejects no-op transitions and any edge absent from the
// table, returning model.ErrIllegalTransition wrapped with the offending pair.
func Validate(from, to model.Status) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("domain: invalid status %q -> %q: %w", from, to, model.ErrIllegalTransition)
	}

	allowed, ok := transitions[from]
	if !ok || !allowed[to] {
		return fmt.Errorf("domain: %s -> %s: %w", from, to, model.ErrIllegalTransition)
	}
	return nil
}

// CanTransition is the non-error variant of Validate, used by callers that
// only need a boolean (e.g. to decide whether to attempt an update at all).
func CanTransition(from, to model.Status) bool {
	return Validate(from, to) == nil
}
