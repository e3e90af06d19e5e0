package model

import "errors"

// Sentinel errors returned across the registry, store, scheduler, and
// worker packages (spec §7).
var (
	// ErrJobNotFound means no job descriptor is registered under the given name.
	ErrJobNotFound = errors.New("model: job not found")
	// ErrDuplicate means a task with the same id already exists in the store.
	ErrDuplicate = errors.New("model: duplicate task")
	// ErrNotFound means no task exists with the given id.
	ErrNotFound = errors.New("model: task not found")
	// ErrIllegalTransition means a status change was rejected by the state machine.
	ErrIllegalTransition = errors.New("model: illegal status transition")
	// ErrTimeout means a blocking wait exceeded its deadline.
	ErrTimeout = errors.New("model: wait timed out")
	// ErrFull means a bounded queue rejected a Put because it is at capacity.
	ErrFull = errors.New("model: queue full")
	// ErrWorkerLost means the reaper revoked a task whose worker never reported back.
	ErrWorkerLost = errors.New("model: worker lost")
)
