package cameratexture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/camera-texture/frameslot"
)

// RestartPolicy configures supervised restarts with exponential backoff.
type RestartPolicy struct {
	MaxRestarts  int           // Maximum consecutive restarts (default: 5)
	InitialDelay time.Duration // Initial restart delay (default: 1 second)
	MaxDelay     time.Duration // Maximum restart delay cap (default: 30 seconds)

	// OnStart is called with the new slot after every successful Start, so the
	// consumer can be re-attached. Optional.
	OnStart func(slot *frameslot.Slot)
	// OnFault is called with each fault before the restart delay. Optional.
	OnFault func(fault *PipelineFault)
}

// DefaultRestartPolicy returns the default restart policy.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxRestarts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	def := DefaultRestartPolicy()
	if p.MaxRestarts <= 0 {
		p.MaxRestarts = def.MaxRestarts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// RunSupervised starts the capture and restarts it after runtime faults with
// exponential backoff.
//
// Every restart builds a new pipeline and a new slot; the faulted pipeline is
// already Null. Construction errors (missing capability, capability mismatch)
// are not retried, including a negotiation fault that arrives after PLAYING. A run that stays up longer than MaxDelay resets the restart
// counter.
//
// Returns nil on end of stream, ctx.Err() on cancellation, and an error
// wrapping the last fault once MaxRestarts consecutive restarts have failed.
// The capture is stopped on return.
func (c *Capture) RunSupervised(ctx context.Context, policy RestartPolicy) error {
	policy = policy.withDefaults()
	attempt := 0

	for {
		if err := c.Start(ctx); err != nil {
			if errors.Is(err, ErrMissingCapability) || errors.Is(err, ErrCapabilityMismatch) {
				return err
			}
			if berr := c.backoffOrFail(ctx, policy, &attempt, err); berr != nil {
				return berr
			}
			continue
		}
		startedAt := time.Now()

		if policy.OnStart != nil {
			policy.OnStart(c.Slot())
		}

		select {
		case <-ctx.Done():
			c.Stop()
			slog.Info("camera-texture: context cancelled, stopping supervision")
			return ctx.Err()
		case <-c.Done():
		}

		fault := c.Err()
		c.Stop()

		if fault == nil {
			slog.Info("camera-texture: end of stream, supervision finished")
			return nil
		}

		if time.Since(startedAt) > policy.MaxDelay {
			attempt = 0
		}

		var pf *PipelineFault
		if policy.OnFault != nil && errors.As(fault, &pf) {
			policy.OnFault(pf)
		}
		if errors.Is(fault, ErrCapabilityMismatch) {
			slog.Error("camera-texture: source cannot produce the requested format, not restarting", "error", fault)
			return fault
		}

		if err := c.backoffOrFail(ctx, policy, &attempt, fault); err != nil {
			return err
		}
	}
}

// backoffOrFail counts a failed run and waits before the next one. It returns
// an error when retries are exhausted or ctx is cancelled.
func (c *Capture) backoffOrFail(ctx context.Context, policy RestartPolicy, attempt *int, cause error) error {
	*attempt++
	if *attempt > policy.MaxRestarts {
		return fmt.Errorf("camera-texture: max restarts exceeded (%d attempts): %w", policy.MaxRestarts, cause)
	}

	delay := calculateBackoff(*attempt, policy)
	slog.Warn("camera-texture: restarting capture",
		"attempt", *attempt,
		"max_restarts", policy.MaxRestarts,
		"delay", delay,
		"cause", cause,
	)

	select {
	case <-time.After(delay):
		c.restarts.Add(1)
		return nil
	case <-ctx.Done():
		slog.Info("camera-texture: context cancelled during backoff")
		return ctx.Err()
	}
}

// calculateBackoff calculates the exponential backoff delay for a given attempt
//
// Formula: delay = initialDelay * 2^(attempt-1)
// Cap: min(delay, maxDelay)
//
// Example with default policy (initialDelay=1s, maxDelay=30s):
//   - Attempt 1: 1s
//   - Attempt 2: 2s
//   - Attempt 3: 4s
//   - Attempt 6: 30s (capped)
func calculateBackoff(attempt int, policy RestartPolicy) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return policy.MaxDelay
	}

	delay := policy.InitialDelay * time.Duration(1<<uint(attempt-1))

	if delay > policy.MaxDelay || delay <= 0 {
		delay = policy.MaxDelay
	}
	return delay
}
