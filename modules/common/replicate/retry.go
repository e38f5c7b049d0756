package replicate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	maxRetryAttempts = 3
	retryDelay       = 2 * time.Second
)

// DoWithRetry runs fn up to 3 times, retrying only rate limits and upstream
// 5xx failures. Used for step-2 submission and result re-fetch; plain status
// polls are never wrapped, the poll loop itself is the retry.
func DoWithRetry(ctx context.Context, label string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		if attempt > 1 {
			log.Printf("   🔄 [%s] Retry attempt %d/%d", label, attempt, maxRetryAttempts)
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Printf("✅ [%s] Succeeded on attempt %d/%d", label, attempt, maxRetryAttempts)
			}
			return nil
		}

		lastErr = err

		if !isRetryable(err) {
			log.Printf("❌ [%s] Non-retryable error: %v", label, err)
			return err
		}

		log.Printf("⚠️  [%s] Retryable error on attempt %d/%d: %v", label, attempt, maxRetryAttempts, err)

		if attempt < maxRetryAttempts {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", label, maxRetryAttempts, lastErr)
}

// isRetryable matches 429s and upstream 5xx responses.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "quota")
}
