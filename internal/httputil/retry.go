// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the retrying HTTP primitive used by network clients.
package httputil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/pdiddy/citation-novelty/pkg/types"
)

// Policy describes how a request is retried. The zero value is not useful;
// use DefaultPolicy or NewPolicy.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// Multiplier scales the backoff window: attempt n waits a uniformly random
	// duration in [0, min(MaxDelay, Multiplier*2^(n-1))).
	Multiplier time.Duration

	// MaxDelay caps the backoff window.
	MaxDelay time.Duration

	// Retryable decides whether an attempt outcome is transient. Exactly one of
	// resp and err is non-nil.
	Retryable func(resp *http.Response, err error) bool

	// Logger receives a warning before each backoff sleep.
	Logger *slog.Logger
}

// DefaultPolicy returns 5 attempts, 1s multiplier and a 10s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Multiplier:  time.Second,
		MaxDelay:    10 * time.Second,
		Retryable:   IsTransient,
	}
}

// NewPolicy builds a Policy from configuration, filling unset fields from DefaultPolicy.
func NewPolicy(cfg types.RetryConfig, logger *slog.Logger) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	p.Logger = logger
	return p
}

// IsTransient reports transport errors, 408, 429 and 5xx responses as retryable.
// Context cancellation is never retried.
func IsTransient(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return true
	}
	return false
}

// backoff returns the randomized wait before the attempt following attempt n (1-based).
func (p Policy) backoff(n int) time.Duration {
	window := p.Multiplier << (n - 1)
	if window <= 0 || window > p.MaxDelay {
		window = p.MaxDelay
	}
	if window <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(window)))
}

// DoWithRetry executes req and retries transient outcomes with randomized
// exponential backoff.
//
// A non-retryable response (including 404) is returned immediately. After the
// final attempt the last response or transport error is returned as-is so the
// caller can decide how to degrade. If ctx is cancelled during a backoff wait
// the function returns ctx.Err().
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy Policy) (*http.Response, error) {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 1; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		if err == nil && !retryable(resp, nil) {
			return resp, nil
		}
		if err != nil && !retryable(nil, err) {
			return nil, err
		}
		if attempt >= attempts {
			return resp, err
		}

		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		wait := policy.backoff(attempt)
		logger.Warn("retrying request",
			slog.String("path", req.URL.Path),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("wait", wait),
			slog.Any("status", statusOf(resp)),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
