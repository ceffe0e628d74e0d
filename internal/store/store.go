// Package store persists the chat passport between client runs.
package store

import (
	"context"

	"github.com/aborealis/ragclient/internal/domain"
)

// Repository defines the interface for persisting the chat passport.
type Repository interface {
	// GetPassport returns the cached passport, or nil when none is stored.
	GetPassport(ctx context.Context) (*domain.Passport, error)

	// SavePassport replaces the cached passport.
	SavePassport(ctx context.Context, p *domain.Passport) error

	// DeletePassport forgets the cached passport.
	DeletePassport(ctx context.Context) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
