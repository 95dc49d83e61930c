// Package store provides session persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/bladealex9848/expert-nexus/internal/session"
)

// Repository persists session bundles keyed by session identity.
type Repository interface {
	// GetSession retrieves a session. It returns (nil, nil) when none exists.
	GetSession(ctx context.Context, key string) (*session.Session, error)

	// SaveSession creates or replaces a session.
	SaveSession(ctx context.Context, s *session.Session) error

	// DeleteSession removes a session. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, key string) error

	// CleanupExpiredSessions removes sessions not updated within ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
