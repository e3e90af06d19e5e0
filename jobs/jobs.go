// Package jobs provides the built-in example job descriptors used to
// exercise the core end to end: Addition and Sleeper, matching spec §8
// scenarios S1 and S2.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relayq/relayq/internal/domain/model"
	"github.com/relayq/relayq/internal/registry"
)

// RegisterAll registers every built-in job against reg. Call before
// reg.Freeze().
func RegisterAll(reg *registry.Registry) error {
	for _, desc := range []*model.JobDescriptor{additionDescriptor(), sleeperDescriptor()} {
		if err := reg.Register(desc); err != nil {
			return fmt.Errorf("jobs: register %q: %w", desc.Name, err)
		}
	}
	return nil
}

// additionDescriptor is spec §8 S1: Addition(a,b) -> a+b.
func additionDescriptor() *model.JobDescriptor {
	return &model.JobDescriptor{
		Name:       "Addition",
		Type:       model.JobTypeStandard,
		CanOverlap: true,
		Func:       addition,
	}
}

func addition(ctx context.Context, jc model.JobContext) (json.RawMessage, error) {
	args := jc.Args()
	if len(args) < 2 {
		return nil, fmt.Errorf("jobs: Addition requires two arguments, got %d", len(args))
	}
	var a, b float64
	if err := json.Unmarshal(args[0], &a); err != nil {
		return nil, fmt.Errorf("jobs: Addition arg 0: %w", err)
	}
	if err := json.Unmarshal(args[1], &b); err != nil {
		return nil, fmt.Errorf("jobs: Addition arg 1: %w", err)
	}
	jc.Progress("computing sum")
	return json.Marshal(a + b)
}

// sleeperDescriptor is spec §8 S2: Sleeper(n) sleeps n seconds, descriptor
// timeout=1s so addtask("Sleeper", {}, 10) times out and is revoked.
func sleeperDescriptor() *model.JobDescriptor {
	return &model.JobDescriptor{
		Name:       "Sleeper",
		Type:       model.JobTypeStandard,
		CanOverlap: true,
		Timeout:    time.Second,
		Func:       sleeper,
	}
}

func sleeper(ctx context.Context, jc model.JobContext) (json.RawMessage, error) {
	args := jc.Args()
	if len(args) < 1 {
		return nil, fmt.Errorf("jobs: Sleeper requires one argument, got %d", len(args))
	}
	var seconds float64
	if err := json.Unmarshal(args[0], &seconds); err != nil {
		return nil, fmt.Errorf("jobs: Sleeper arg 0: %w", err)
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		return json.Marshal("awake")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
