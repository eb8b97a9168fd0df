package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
)

// DefaultBackoffSchedule is the fixed wait sequence between rate-limited
// attempts. The attempt cap is len(schedule)+1: one initial try plus one
// retry after each wait.
var DefaultBackoffSchedule = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
}

// Sleeper blocks for the given duration. Injected so tests can use a fake
// clock instead of elapsing minutes of wall time.
type Sleeper func(d time.Duration)

// ResilientClient wraps a Client with rate-limit backoff. Only rate-limit
// class errors are retried; anything else surfaces immediately, since blind
// retries of arbitrary failures hide real bugs.
type ResilientClient struct {
	client   Client
	schedule []time.Duration
	sleep    Sleeper
}

// ResilientOption customizes a ResilientClient.
type ResilientOption func(*ResilientClient)

// WithBackoffSchedule overrides the wait sequence between retries.
func WithBackoffSchedule(schedule []time.Duration) ResilientOption {
	return func(r *ResilientClient) { r.schedule = schedule }
}

// WithSleeper overrides how the client waits between retries.
func WithSleeper(sleep Sleeper) ResilientOption {
	return func(r *ResilientClient) { r.sleep = sleep }
}

// NewResilientClient wraps client with the default backoff schedule.
func NewResilientClient(client Client, opts ...ResilientOption) *ResilientClient {
	r := &ResilientClient{
		client:   client,
		schedule: DefaultBackoffSchedule,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GenerateContent calls the wrapped client with rate-limit retries.
func (r *ResilientClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return r.retry(ctx, func() (string, error) {
		return r.client.GenerateContent(ctx, prompt, tier)
	})
}

// GenerateJSON calls the wrapped client with rate-limit retries.
func (r *ResilientClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return r.retry(ctx, func() (string, error) {
		return r.client.GenerateJSON(ctx, prompt, tier)
	})
}

// EmbedText calls the wrapped client with rate-limit retries.
func (r *ResilientClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	_, err := r.retry(ctx, func() (string, error) {
		var err error
		vec, err = r.client.EmbedText(ctx, text)
		return "", err
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbeddingDim returns the wrapped client's embedding dimensionality.
func (r *ResilientClient) EmbeddingDim() int {
	return r.client.EmbeddingDim()
}

// Close closes the wrapped client.
func (r *ResilientClient) Close() error {
	return r.client.Close()
}

func (r *ResilientClient) retry(ctx context.Context, call func() (string, error)) (string, error) {
	var lastErr error
	attempts := len(r.schedule) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			r.sleep(r.schedule[attempt-1])
		}

		result, err := call()
		if err == nil {
			return result, nil
		}
		if !IsRateLimited(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("rate limited after %d attempts: %w", attempts, lastErr)
}

// IsRateLimited reports whether err is a rate-limit-class provider error.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 429
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota exceeded")
}
