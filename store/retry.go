package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds the optimistic retry loop.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay" yaml:"max_delay"`
}

// DefaultRetryPolicy returns five attempts with 10ms..200ms jittered backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Backoff returns the full-jitter delay before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if p.BaseDelay == 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, p.MaxDelay)
	return rand.N(d) + 1
}

// CommitFunc atomically applies a transaction buffer. It returns an error
// wrapping ErrConflict when a checked read or write no longer holds.
type CommitFunc func(ctx context.Context, txn *Txn) error

// RunOptimistic runs fn against a fresh Txn, commits it, and starts over
// on ErrConflict until the policy is exhausted. Errors returned by fn
// abort immediately without a commit.
func RunOptimistic(ctx context.Context, policy RetryPolicy, load Loader, commit CommitFunc, fn TxFunc) error {
	policy = policy.normalized()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		txn := NewTxn(load)
		if err := fn(ctx, txn); err != nil {
			return err
		}
		if txn.Empty() && len(txn.ReadOnly()) == 0 {
			return nil
		}

		err := commit(ctx, txn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			return fmt.Errorf("%w (%d): %w", ErrTooManyAttempts, attempt, err)
		}

		timer := time.NewTimer(policy.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
