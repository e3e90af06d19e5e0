package worker

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidDefaultTimeout indicates the configured default timeout is not positive.
var ErrInvalidDefaultTimeout = errors.New("worker: default timeout must be positive")

// TimeoutSource identifies how a task's execution timeout was resolved.
type TimeoutSource string

const (
	// TimeoutSourceExplicit indicates the job descriptor or task supplied a positive duration.
	TimeoutSourceExplicit TimeoutSource = "explicit"
	// TimeoutSourceDefault indicates the worker's configured default was used.
	TimeoutSourceDefault TimeoutSource = "default"
	// TimeoutSourceClamped indicates the requested duration was clamped to the minimum supported value.
	TimeoutSourceClamped TimeoutSource = "clamped"
)

// TimeoutPolicy normalises the execution timeout applied to a STARTED task
// (spec §4.5 step 6: "invoke the job callable under min(task.timeout, expiry-now)").
type TimeoutPolicy struct {
	defaultTimeout time.Duration
}

// NewTimeoutPolicy constructs a TimeoutPolicy with the provided default timeout.
func NewTimeoutPolicy(defaultTimeout time.Duration) (*TimeoutPolicy, error) {
	if defaultTimeout <= 0 {
		return nil, ErrInvalidDefaultTimeout
	}
	return &TimeoutPolicy{defaultTimeout: defaultTimeout}, nil
}

// Default returns the configured default timeout.
func (p *TimeoutPolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultTimeout
}

// TimeoutDecision captures the outcome of resolving a requested timeout.
type TimeoutDecision struct {
	Seconds   int
	Source    TimeoutSource
	Requested time.Duration
}

// UsedDefault reports whether the policy fell back to the default timeout.
func (d TimeoutDecision) UsedDefault() bool {
	return d.Source == TimeoutSourceDefault
}

// Clamped reports whether the requested value was clamped to the minimum supported duration.
func (d TimeoutDecision) Clamped() bool {
	return d.Source == TimeoutSourceClamped
}

// Resolve normalises a task or job descriptor's requested timeout to a whole
// number of seconds, falling back to the policy default for a zero request.
func (p *TimeoutPolicy) Resolve(request time.Duration) TimeoutDecision {
	if p == nil {
		return TimeoutDecision{Seconds: 0, Source: TimeoutSourceDefault, Requested: request}
	}

	decision := TimeoutDecision{Requested: request}

	switch {
	case request > 0:
		seconds, clamped := durationToSeconds(request)
		decision.Seconds = seconds
		if clamped {
			decision.Source = TimeoutSourceClamped
		} else {
			decision.Source = TimeoutSourceExplicit
		}
		return decision
	case request == 0:
		seconds, _ := durationToSeconds(p.defaultTimeout)
		decision.Seconds = seconds
		decision.Source = TimeoutSourceDefault
		return decision
	default:
		decision.Seconds = 1
		decision.Source = TimeoutSourceClamped
		return decision
	}
}

func durationToSeconds(d time.Duration) (int, bool) {
	seconds := int64(d / time.Second)
	clamped := false

	if seconds <= 0 {
		seconds = 1
		clamped = true
	}

	maxSeconds := int64(math.MaxInt)
	if seconds > maxSeconds {
		seconds = maxSeconds
		clamped = true
	}

	return int(seconds), clamped
}
