package repository

import (
	"context"
	"time"

	"github.com/ucplabs/session-service/internal/domain"
)

type SessionRepository interface {
	// Create inserts a new session. Returns domain.ErrDuplicateID if the
	// id is already present.
	Create(ctx context.Context, session *domain.Session) error

	// GetByID returns the session or domain.ErrNotFound.
	GetByID(ctx context.Context, id string) (*domain.Session, error)

	// Update writes the session back, guarded by the updated_at value the
	// caller read. Returns domain.ErrConcurrentModification if the row
	// changed since that read, domain.ErrNotFound if it is gone.
	Update(ctx context.Context, session *domain.Session, expectedUpdatedAt time.Time) error

	// DeleteExpired removes every session whose expires_at is before the
	// cutoff and returns the number of rows removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
