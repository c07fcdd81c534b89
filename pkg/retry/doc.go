// Package retry provides a bounded attempt loop with pluggable backoff for
// per-image download attempts.
//
// Features:
//   - Explicit attempt loop, attempts are numbered from 1
//   - Linear and constant backoff strategies with optional jitter
//   - Context support for cancellation, including during backoff waits
//   - Retry predicate driven by the error kinds in pkg/errors
//
// Basic usage:
//
//	attempts, err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
//		return downloadOnce(ctx, entry, attempt)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		Backoff:     retry.DownloadBackoff(2 * time.Second),
//		Logger:      log,
//	})
//
// DownloadBackoff(2s) waits 2s after the first failure, 4s after the second
// and so on. A cancelled context interrupts the wait and Do returns an error
// wrapping the context error.
package retry
