package rtdb

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// shouldRetry returns true if the given status code should be retried.
func shouldRetry(statusCode int) bool {
	// Retry on server errors (5xx) and rate limiting (429)
	// Do NOT retry on client errors (4xx except 429)
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode >= 500 && statusCode < 600 {
		return true
	}
	return false
}

// parseRetryAfter parses the Retry-After header.
// Returns 0 if the header is not present or invalid.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	// Try parsing as seconds
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}

	// Try parsing as HTTP-date
	if t, err := http.ParseTime(header); err == nil {
		delta := time.Until(t)
		if delta > 0 {
			// Cap at 1 hour
			if delta > time.Hour {
				delta = time.Hour
			}
			return delta
		}
	}

	return 0
}

// nextDelay grows delay by the policy multiplier, capped at MaxDelay.
func (p RetryPolicy) nextDelay(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * p.Multiplier)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// doWithRetry executes the request that opens an event stream, retrying
// network errors and transient statuses. It never retries once a stream has
// started flowing; reconnecting a live stream is the Stream's decision.
func (o *httpOpener) doWithRetry(
	ctx context.Context,
	makeRequest func() (*http.Request, error),
) (*http.Response, error) {
	policy := o.retryPolicy
	delay := policy.InitialDelay

	for attempt := 0; ; attempt++ {
		req, err := makeRequest()
		if err != nil {
			return nil, err
		}

		resp, err := o.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= policy.MaxRetries {
				return nil, err
			}
			o.logger.Debug("retrying stream open after network error",
				zap.String("url", redactURL(req.URL.String())),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			if err := sleepContext(ctx, delay); err != nil {
				return nil, err
			}
			delay = policy.nextDelay(delay)
			continue
		}

		if !shouldRetry(resp.StatusCode) || attempt >= policy.MaxRetries {
			return resp, nil
		}

		// Calculate backoff with jitter, honoring Retry-After
		waitTime := time.Duration(rand.Float64() * float64(delay))
		if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > waitTime {
			waitTime = retryAfter
		}
		resp.Body.Close()

		o.logger.Debug("retrying stream open after transient status",
			zap.String("url", redactURL(req.URL.String())),
			zap.Int("status", resp.StatusCode),
			zap.Duration("wait", waitTime))
		if err := sleepContext(ctx, waitTime); err != nil {
			return nil, err
		}
		delay = policy.nextDelay(delay)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
