package app

import (
	"context"
	"errors"
)

// defaultConflictAttempts bounds optimistic-concurrency retries per operation.
const defaultConflictAttempts = 5

// retryConflict runs fn until it succeeds, fails with a non-conflict error,
// or the attempt budget runs out. Revision conflicts are the expected loser
// path of a first-committer-wins store, so each attempt re-reads fresh state.
func retryConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = defaultConflictAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if err == nil || !errors.Is(err, ErrRevisionConflict) {
			return err
		}
	}
	return err
}
