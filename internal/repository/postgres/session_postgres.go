package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/ucplabs/session-service/internal/domain"
	"github.com/ucplabs/session-service/internal/repository"
)

// Postgres class for unique_violation.
const pqUniqueViolation = "23505"

type sessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(db *sqlx.DB) repository.SessionRepository {
	return &sessionRepository{db: db}
}

// Create inserts a new session into the database
func (r *sessionRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (
			id, status, data, expires_at, created_at, updated_at
		) VALUES (
			:id, :status, :data, :expires_at, :created_at, :updated_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, session)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("failed to create session %s: %w", session.ID, domain.ErrDuplicateID)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by its ID
func (r *sessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT id, status, data, expires_at, created_at, updated_at
		FROM sessions
		WHERE id = $1`

	var session domain.Session
	err := r.db.GetContext(ctx, &session, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session by id: %w", err)
	}

	return &session, nil
}

// Update writes the session back with an optimistic guard on updated_at.
// Zero rows affected means either the row changed under us or it is gone;
// a follow-up existence check disambiguates the two.
func (r *sessionRepository) Update(ctx context.Context, session *domain.Session, expectedUpdatedAt time.Time) error {
	query := `
		UPDATE sessions
		SET status = $1,
			data = $2,
			expires_at = $3,
			updated_at = $4
		WHERE id = $5 AND updated_at = $6`

	result, err := r.db.ExecContext(ctx, query,
		session.Status, session.Data, session.ExpiresAt, session.UpdatedAt,
		session.ID, expectedUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		var exists bool
		checkQuery := `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`
		if err := r.db.GetContext(ctx, &exists, checkQuery, session.ID); err != nil {
			return fmt.Errorf("failed to check session existence: %w", err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConcurrentModification
	}

	return nil
}

// DeleteExpired removes all sessions whose expiry is before the cutoff
func (r *sessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < $1`

	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}
