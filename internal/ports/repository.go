package ports

import (
	"context"
	"time"

	"optionsSentry/internal/domain"
)

// PositionRepository defines the interface for storing and retrieving
// positions. Positions are never deleted; closed ones remain as history.
type PositionRepository interface {
	// Create saves a new position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// Update modifies an existing position.
	Update(ctx context.Context, pos *domain.Position) error
	// FindByID retrieves a position by its unique ID.
	// Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Position, error)
	// FindActive retrieves all positions still subject to evaluation
	// (status active or exiting), ordered by entry time.
	FindActive(ctx context.Context) ([]*domain.Position, error)
	// FindClosedSince retrieves positions exited at or after t, most
	// recent first. Used to resync daily counters after a restart.
	FindClosedSince(ctx context.Context, t time.Time) ([]*domain.Position, error)
	// FindAll retrieves the most recent positions up to limit.
	FindAll(ctx context.Context, limit int) ([]*domain.Position, error)
}
