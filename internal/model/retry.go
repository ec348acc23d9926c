package model

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

const (
	maxAttempts    = 3
	retryBaseDelay = time.Second
	// maxCallWall caps one completion call end to end, retries included.
	maxCallWall = 5 * time.Minute
)

// retryable reports whether an error suggests the call may succeed on a
// fresh attempt: rate limits, transient server errors, network failures.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "429", "overloaded", "529",
		"500", "502", "503", "504",
		"connection reset", "connection refused", "timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetry runs start until it succeeds, exhausting maxAttempts with
// exponential backoff on retryable errors. The context handed to start
// carries the overall wall-clock cap.
func withRetry[T any](ctx context.Context, start func(ctx context.Context) (T, error)) (T, context.CancelFunc, error) {
	callCtx, cancel := context.WithTimeout(ctx, maxCallWall)

	var zero T
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-callCtx.Done():
				cancel()
				return zero, nil, callCtx.Err()
			case <-time.After(retryBaseDelay * time.Duration(1<<uint(attempt-1))):
			}
		}
		out, err := start(callCtx)
		if err == nil {
			return out, cancel, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	cancel()
	return zero, nil, lastErr
}
