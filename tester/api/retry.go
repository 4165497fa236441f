package api

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/plurl/plurl"
)

// DoRetry wraps Do in a bounded retry loop: up to maxRetries+1 total
// attempts with a fixed delay between them. A result is accepted as
// terminal once it succeeds with a status under 500, so 4xx client
// errors stop the loop while 5xx and outright failures are retried.
// With maxRetries 0 this is identical to a single Do.
func (e *Executor) DoRetry(ctx context.Context, url, method string, maxRetries int, delay time.Duration) (*plurl.RequestResult, error) {
	var last *plurl.RequestResult

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			e.logger.Record(plurl.EventRetry, &plurl.RetryEvent{
				URL:        url,
				Attempt:    attempt + 1,
				MaxRetries: maxRetries,
				Message:    fmt.Sprintf("Retrying %s (attempt %d/%d)", url, attempt+1, maxRetries+1),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return last, ctx.Err()
			}
		}

		result, err := e.Do(ctx, Request{URL: url, Method: method})
		if err != nil {
			return nil, err
		}
		last = result

		if result.StatusBelow(500) {
			if attempt > 0 {
				e.logger.Success(fmt.Sprintf("Retry successful for %s on attempt %d", url, attempt+1))
			}
			return result, nil
		}
	}

	last.RetryAttempts = maxRetries + 1
	e.logger.Error(fmt.Sprintf("All retry attempts failed for %s", url), nil)
	return last, nil
}
