package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy bounds retries of transient network failures.
type RetryPolicy struct {
	MaxAttempts int
	MaxElapsed  time.Duration
}

// DefaultRetryPolicy allows 5 attempts within 60 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MaxElapsed:  60 * time.Second,
	}
}

// Backoff computes the exponential delay before the given retry attempt,
// capped at 30 seconds.
func Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	seconds := 1 << (attempt - 1)
	if seconds > 30 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

// doWithRetry issues the request via send, retrying transient failures per
// policy. Non-transient errors surface immediately; an exhausted budget
// surfaces as ErrProviderUnavailable.
func doWithRetry(ctx context.Context, policy RetryPolicy, log *logrus.Entry, send func() (*http.Response, error)) (*http.Response, error) {
	started := time.Now()
	for attempt := 1; ; attempt++ {
		resp, err := send()
		if err == nil {
			return resp, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		if attempt >= policy.MaxAttempts || time.Since(started)+Backoff(attempt) > policy.MaxElapsed {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}

		delay := Backoff(attempt)
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": delay.String(),
		}).WithError(err).Warn("transient request failure, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
