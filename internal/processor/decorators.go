package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout is the hard ceiling on one turn's processing.
const DefaultTimeout = 120 * time.Second

// WithTimeout bounds every call with d.
func WithTimeout(d time.Duration) Middleware {
	if d <= 0 {
		d = DefaultTimeout
	}
	return func(next Processor) Processor {
		return Func(func(ctx context.Context, req Request) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			reply, err := next.Process(ctx, req)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("processing exceeded %s: %w", d, err)
			}
			return reply, err
		})
	}
}

// WithFallback answers from backup when the wrapped processor fails.
// Cancellation is never masked.
func WithFallback(backup Processor, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Processor) Processor {
		if backup == nil {
			return next
		}
		return Func(func(ctx context.Context, req Request) (string, error) {
			reply, err := next.Process(ctx, req)
			if err == nil || errors.Is(err, context.Canceled) {
				return reply, err
			}
			logger.Warn("primary processor failed, using backup",
				"session_key", req.SessionKey,
				"expert", req.Expert.Key,
				"error", err)
			reply, backupErr := backup.Process(ctx, req)
			if backupErr != nil {
				return "", errors.Join(err, fmt.Errorf("backup: %w", backupErr))
			}
			return reply, nil
		})
	}
}

// Observer receives processing outcomes.
type Observer interface {
	ObserveProcess(expert string, err error, elapsed time.Duration)
}

// WithObserver reports every call to o.
func WithObserver(o Observer) Middleware {
	return func(next Processor) Processor {
		if o == nil {
			return next
		}
		return Func(func(ctx context.Context, req Request) (string, error) {
			start := time.Now()
			reply, err := next.Process(ctx, req)
			o.ObserveProcess(req.Expert.Key, err, time.Since(start))
			return reply, err
		})
	}
}

// WithFailureWrapping marks any error as ErrProcessorFailure so callers can
// match on the sentinel regardless of the backend.
func WithFailureWrapping() Middleware {
	return func(next Processor) Processor {
		return Func(func(ctx context.Context, req Request) (string, error) {
			reply, err := next.Process(ctx, req)
			if err != nil {
				return "", fmt.Errorf("%w: %w", ErrProcessorFailure, err)
			}
			if reply == "" {
				return "", fmt.Errorf("%w: empty reply", ErrProcessorFailure)
			}
			return reply, nil
		})
	}
}
