// Package retry runs an operation with exponential backoff. It is used for
// assistant calls only; store writes are never retried internally.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Policy configures attempts and delays.
type Policy struct {
	MaxRetries int           `koanf:"max_retries"`
	BaseDelay  time.Duration `koanf:"base_delay"`
	MaxDelay   time.Duration `koanf:"max_delay"`
	Multiplier float64       `koanf:"multiplier"`
	Jitter     bool          `koanf:"jitter"`
	// Retryable decides whether an error is worth another attempt. Nil means
	// IsRetryableError.
	Retryable func(error) bool `koanf:"-"`
}

// Outcome describes a finished Do call.
type Outcome struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
	Reasons  []string
}

func (o Outcome) Success() bool { return o.Err == nil }

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// LLMPolicy allows slower backoff for model providers.
func LLMPolicy() Policy {
	return Policy{
		MaxRetries: 2,
		BaseDelay:  2 * time.Second,
		MaxDelay:   20 * time.Second,
		Multiplier: 2.5,
		Jitter:     true,
	}
}

// Do calls op until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx ends. logger may be nil.
func Do(ctx context.Context, p Policy, op func(context.Context) error, logger *zerolog.Logger) Outcome {
	start := time.Now()
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryableError
	}
	out := Outcome{}

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		out.Attempts = attempt + 1
		err := op(ctx)
		if err == nil {
			out.Err = nil
			out.Elapsed = time.Since(start)
			if logger != nil && attempt > 0 {
				logger.Info().Int("attempts", out.Attempts).Dur("elapsed", out.Elapsed).Msg("operation succeeded after retry")
			}
			return out
		}
		out.Err = err
		out.Reasons = append(out.Reasons, err.Error())

		if attempt >= p.MaxRetries || !retryable(err) {
			break
		}
		if ctx.Err() != nil {
			out.Err = ctx.Err()
			break
		}

		delay := p.delay(attempt)
		if logger != nil {
			logger.Warn().Err(err).Int("attempt", attempt+1).Int("max", p.MaxRetries+1).Dur("backoff", delay).Msg("operation failed, retrying")
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			out.Err = ctx.Err()
			out.Elapsed = time.Since(start)
			return out
		case <-timer.C:
		}
	}

	out.Elapsed = time.Since(start)
	if logger != nil {
		logger.Error().Err(out.Err).Int("attempts", out.Attempts).Dur("elapsed", out.Elapsed).Msg("operation failed")
	}
	return out
}

// delay is BaseDelay × Multiplier^attempt capped at MaxDelay, ±10% jitter.
func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		span := d * 0.1
		d += (rand.Float64() - 0.5) * 2 * span
		if d < 0 {
			d = float64(p.BaseDelay)
		}
	}
	return time.Duration(d)
}

var retryableFragments = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"no such host",
	"broken pipe",
	"malformed reply",
}

// IsRetryableError matches transient network and provider failures.
// Cancellation is never retried.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range retryableFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
