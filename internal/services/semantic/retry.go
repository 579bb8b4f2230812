package semantic

import (
	"context"
	"fmt"
	"time"
)

// withRetry runs fn up to attempts times with exponential backoff
// starting at base and capped at maxDelay. The last error is returned
// when all attempts fail; ctx cancellation stops the loop immediately.
func withRetry(ctx context.Context, attempts int, base, maxDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := base
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}
