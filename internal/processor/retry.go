package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryConfig defines retry behaviour for a processor chain.
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts"` // including the first call
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	Jitter        bool          `json:"jitter"`
}

// DefaultRetryConfig retries once after one second.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:   2,
	InitialDelay:  time.Second,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
}

// Classifier reports whether an error is worth retrying.
type Classifier func(error) bool

// ShouldRetry retries everything except cancellation and gRPC statuses
// that a second attempt cannot fix.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied,
			codes.Unauthenticated, codes.Unimplemented, codes.FailedPrecondition:
			return false
		}
	}
	return true
}

// RetryPolicy couples a config with a classifier.
type RetryPolicy struct {
	Config     RetryConfig
	Classifier Classifier
}

// NewRetryPolicy creates a policy. A nil classifier uses ShouldRetry.
func NewRetryPolicy(cfg RetryConfig, classifier Classifier) *RetryPolicy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	return &RetryPolicy{Config: cfg, Classifier: classifier}
}

// Delay computes the wait before the given attempt (1-based).
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}
	if p.Config.Jitter && delay > 0 {
		// +/- 10%
		delay += time.Duration((rand.Float64()*0.2 - 0.1) * float64(delay))
	}
	return delay
}

// WithRetry retries failed calls according to policy.
func WithRetry(policy *RetryPolicy, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Processor) Processor {
		return Func(func(ctx context.Context, req Request) (string, error) {
			var lastErr error
			for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
				if attempt > 1 {
					delay := policy.Delay(attempt)
					logger.Warn("retrying message processor",
						"session_key", req.SessionKey,
						"expert", req.Expert.Key,
						"attempt", attempt,
						"delay", delay,
						"error", lastErr)
					if delay > 0 {
						select {
						case <-ctx.Done():
							return "", fmt.Errorf("retry cancelled: %w", ctx.Err())
						case <-time.After(delay):
						}
					}
				}

				reply, err := next.Process(ctx, req)
				if err == nil {
					return reply, nil
				}
				lastErr = err
				if !policy.Classifier(err) {
					break
				}
			}
			return "", lastErr
		})
	}
}
