package db

import (
	"context"
	"time"

	pkgerrors "github.com/angelmondragon/shopstock-backend/pkg/errors"
)

const retryBaseDelay = 10 * time.Millisecond

// WithConflictRetry runs fn up to attempts times while it keeps failing with a
// serialization failure. Once attempts are exhausted the last failure is
// reported as CONCURRENCY_CONFLICT; any other error is returned unchanged.
func WithConflictRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !IsSerializationFailure(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(time.Duration(attempt) * retryBaseDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "concurrent update on shared stock")
}
