// Package retry re-runs units of work that failed on transient storage errors.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/starline/starline-api/internal/pkg/database"
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultPolicy matches the billing reconciler defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxTries:        4,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsed:      10 * time.Second,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or the policy is exhausted.
// Only database.IsRetryable errors are retried.
func Do[T any](ctx context.Context, p Policy, name string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}

	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !database.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		log.Warn().Err(err).Str("op", name).Int("attempt", attempt).Msg("retrying billing operation")
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}

	return backoff.Retry(ctx, wrapped, opts...)
}
