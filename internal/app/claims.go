package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/giftclaim/internal/domain"
	"github.com/pscheid92/giftclaim/internal/platform/retry"
)

type ClaimPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// ClaimResult is a successful redemption and how many attempts it took.
type ClaimResult struct {
	Redemption domain.Redemption
	Attempts   int
}

// ClaimFailedError is the terminal failure of one claim occurrence. Err is
// the last attempt's error.
type ClaimFailedError struct {
	Attempts int
	Err      error
}

func (e *ClaimFailedError) Error() string {
	return fmt.Sprintf("claim failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ClaimFailedError) Unwrap() error { return e.Err }

// ClaimPipeline redeems one voucher with a bounded, fixed-delay retry.
type ClaimPipeline struct {
	redeemer domain.Redeemer
	policy   ClaimPolicy
	clock    clockwork.Clock
	recorder ClaimRecorder
}

func NewClaimPipeline(redeemer domain.Redeemer, policy ClaimPolicy, clock clockwork.Clock, recorder ClaimRecorder) *ClaimPipeline {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &ClaimPipeline{redeemer: redeemer, policy: policy, clock: clock, recorder: recorder}
}

// retryAll treats every redemption failure as transient.
func retryAll(error) retry.Action { return retry.Retry }

// Attempt runs the redemption sequence. Once started it is not cancelled by
// ctx; each attempt is bounded by the redeemer's own timeout.
func (p *ClaimPipeline) Attempt(ctx context.Context, destination, voucher string) (ClaimResult, error) {
	ctx = context.WithoutCancel(ctx)

	policy := retry.Policy{
		MaxAttempts:    p.policy.MaxAttempts,
		InitialBackoff: p.policy.Delay,
		Fixed:          true,
		Clock:          p.clock,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			slog.WarnContext(ctx, "Redemption attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", p.policy.MaxAttempts,
				"retry_in", wait,
				"error", err)
		},
	}

	attempts := 0
	redemption, err := retry.Do(ctx, policy, retryAll, func(attempt int) (domain.Redemption, error) {
		attempts = attempt
		p.recorder.ClaimAttempt()
		return p.redeemer.Redeem(ctx, destination, voucher)
	})
	if err != nil {
		last := err
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			last = exhausted.Err
		}
		return ClaimResult{Attempts: attempts}, &ClaimFailedError{Attempts: attempts, Err: last}
	}

	return ClaimResult{Redemption: redemption, Attempts: attempts}, nil
}
