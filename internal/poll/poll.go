// Package poll runs bounded fixed-interval polling loops.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codex-k8s/swarmctl/internal/fault"
)

// ErrExhausted is wrapped by the error returned when every attempt was used.
var ErrExhausted = errors.New("polling attempts exhausted")

var errNotYet = errors.New("condition not met")

// Spec bounds a polling loop.
type Spec struct {
	Attempts int
	Interval time.Duration
}

// Condition is evaluated once per attempt, counting from 1. Returning an
// error keeps polling unless it was wrapped with Stop.
type Condition func(ctx context.Context, attempt int) (bool, error)

// Stop ends polling immediately with err.
func Stop(err error) error {
	return backoff.Permanent(err)
}

// Until evaluates cond up to spec.Attempts times, waiting spec.Interval
// between attempts. It returns the number of attempts made. When the
// attempts run out the error is a timeout fault wrapping ErrExhausted.
func Until(ctx context.Context, spec Spec, cond Condition) (int, error) {
	attempts := spec.Attempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	stopped := false
	var lastErr error
	op := func() error {
		attempt++
		done, err := cond(ctx, attempt)
		if err != nil {
			var permanent *backoff.PermanentError
			stopped = errors.As(err, &permanent)
			lastErr = err
			return err
		}
		lastErr = nil
		if done {
			return nil
		}
		return errNotYet
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(spec.Interval), uint64(attempts-1)),
		ctx,
	)

	err := backoff.Retry(op, b)
	switch {
	case err == nil:
		return attempt, nil
	case stopped:
		return attempt, err
	case ctx.Err() != nil:
		return attempt, ctx.Err()
	case lastErr != nil:
		return attempt, fault.Newf(fault.KindTimeout, "", "%w after %d attempts: %w", ErrExhausted, attempt, lastErr)
	default:
		return attempt, fault.Newf(fault.KindTimeout, "", "%w after %d attempts", ErrExhausted, attempt)
	}
}
