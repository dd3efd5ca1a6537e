package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/ucplabs/session-service/internal/domain"
	"github.com/ucplabs/session-service/internal/repository"
)

const (
	// maxWriteAttempts bounds the read-merge-write cycle when concurrent
	// writers race on the same session. Contention is expected to be rare
	// (one logical client per session), so a small bound is enough.
	maxWriteAttempts = 3

	// tokenBytes gives 256 bits of entropy, well above the floor needed to
	// resist brute-force enumeration.
	tokenBytes = 32
)

type SessionService struct {
	sessions   repository.SessionRepository
	defaultTTL time.Duration
	maxTTL     time.Duration

	// now is swapped in tests to control the clock.
	now func() time.Time
}

func NewSessionService(sessions repository.SessionRepository, defaultTTL, maxTTL time.Duration) *SessionService {
	return &SessionService{
		sessions:   sessions,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		now:        time.Now,
	}
}

// generateToken returns a cryptographically random, URL-safe session id.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Create stores a new session in status created with the given payload.
// A non-positive ttl falls back to the configured default; ttl is clamped
// to the configured maximum.
func (s *SessionService) Create(ctx context.Context, payload domain.Payload, ttl time.Duration) (*domain.Session, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if s.maxTTL > 0 && ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	if payload == nil {
		payload = domain.Payload{}
	}

	now := s.now().UTC().Truncate(time.Microsecond)

	// Ids carry 256 bits of randomness, so a collision indicates a broken
	// entropy source rather than bad luck. One regeneration keeps the
	// operation total without masking a real fault for long.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		id, err := generateToken()
		if err != nil {
			return nil, err
		}

		session := &domain.Session{
			ID:        id,
			Status:    domain.StatusCreated,
			Data:      payload,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
			UpdatedAt: now,
		}

		err = s.sessions.Create(ctx, session)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, domain.ErrDuplicateID) {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// ApplyUpdate shallow-merges data into the session payload and moves a
// created session to active. The action is an opaque step label supplied by
// the caller; it is validated upstream and not interpreted here.
func (s *SessionService) ApplyUpdate(ctx context.Context, id, action string, data domain.Payload) (*domain.Session, error) {
	return s.mutate(ctx, id, func(session *domain.Session) {
		session.Data = session.Data.Merge(data)
		if session.Status == domain.StatusCreated {
			session.Status = domain.StatusActive
		}
	})
}

// Complete moves the session into a terminal outcome, merging metadata into
// the payload. Completing an already-terminal session fails with
// ErrInvalidTransition; the call is single-use by design.
func (s *SessionService) Complete(ctx context.Context, id string, outcome domain.SessionStatus, metadata domain.Payload) (*domain.Session, error) {
	if !outcome.IsOutcome() {
		return nil, fmt.Errorf("%w: %q is not a valid outcome", domain.ErrInvalidTransition, outcome)
	}

	return s.mutate(ctx, id, func(session *domain.Session) {
		session.Data = session.Data.Merge(metadata)
		session.Status = outcome
	})
}

// mutate runs the read-check-apply-write cycle shared by ApplyUpdate and
// Complete, retrying on optimistic-concurrency failures up to
// maxWriteAttempts before surfacing ErrConflict.
func (s *SessionService) mutate(ctx context.Context, id string, apply func(*domain.Session)) (*domain.Session, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		session, err := s.sessions.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		now := s.now().UTC().Truncate(time.Microsecond)
		if session.ExpiredAt(now) {
			return nil, domain.ErrExpired
		}
		if session.Status.IsTerminal() {
			return nil, domain.ErrInvalidTransition
		}

		expected := session.UpdatedAt
		apply(session)

		// updated_at must strictly increase; it doubles as the optimistic
		// version, so two writes in the same microsecond would otherwise
		// be indistinguishable.
		session.UpdatedAt = now
		if !session.UpdatedAt.After(expected) {
			session.UpdatedAt = expected.Add(time.Microsecond)
		}

		err = s.sessions.Update(ctx, session, expected)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return nil, err
		}
	}

	return nil, domain.ErrConflict
}

// GetStatus is a pure read returning the session with the lazy-expiry rule
// applied to its status.
func (s *SessionService) GetStatus(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	session.Status = session.EffectiveStatus(s.now())
	return session, nil
}

// CleanupExpired removes sessions that expired more than grace ago. It is
// maintenance, not request-path work; callers log failures and move on.
func (s *SessionService) CleanupExpired(ctx context.Context, grace time.Duration) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.now().Add(-grace))
}
