package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucplabs/session-service/internal/domain"
)

// mockSessionRepository is an in-memory store that enforces the same
// optimistic-concurrency contract as the Postgres implementation.
type mockSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session

	createCalls int
	updateCalls int

	// failCreates makes that many Create calls fail with ErrDuplicateID.
	failCreates int
	// forceConflicts makes that many Update calls fail with
	// ErrConcurrentModification regardless of the guard.
	forceConflicts int
}

func newMockRepo() *mockSessionRepository {
	return &mockSessionRepository{sessions: make(map[string]*domain.Session)}
}

func cloneSession(s *domain.Session) *domain.Session {
	copied := *s
	copied.Data = make(domain.Payload, len(s.Data))
	for k, v := range s.Data {
		copied.Data[k] = v
	}
	return &copied
}

func (m *mockSessionRepository) Create(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	if m.failCreates > 0 {
		m.failCreates--
		return domain.ErrDuplicateID
	}
	if _, exists := m.sessions[session.ID]; exists {
		return domain.ErrDuplicateID
	}

	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *mockSessionRepository) GetByID(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *mockSessionRepository) Update(_ context.Context, session *domain.Session, expectedUpdatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateCalls++
	if m.forceConflicts > 0 {
		m.forceConflicts--
		return domain.ErrConcurrentModification
	}

	stored, ok := m.sessions[session.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return domain.ErrConcurrentModification
	}

	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *mockSessionRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, session := range m.sessions {
		if session.ExpiresAt.Before(before) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func newTestService(repo *mockSessionRepository) *SessionService {
	return NewSessionService(repo, time.Hour, 7*24*time.Hour)
}

func TestCreateDefaults(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	session, err := svc.Create(context.Background(), nil, 0)
	require.NoError(t, err)

	// 32 random bytes, raw URL encoding
	assert.Len(t, session.ID, 43)
	assert.Equal(t, domain.StatusCreated, session.Status)
	assert.Equal(t, domain.Payload{}, session.Data)
	assert.Equal(t, session.CreatedAt.Add(time.Hour), session.ExpiresAt)
	assert.Equal(t, session.CreatedAt, session.UpdatedAt)
}

func TestCreateTTL(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	session, err := svc.Create(context.Background(), domain.Payload{"a": 1}, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, session.CreatedAt.Add(30*time.Minute), session.ExpiresAt)

	// Requests above the cap are clamped
	clamped, err := svc.Create(context.Background(), nil, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, clamped.CreatedAt.Add(7*24*time.Hour), clamped.ExpiresAt)
}

func TestCreateUniqueIDs(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		session, err := svc.Create(context.Background(), nil, 0)
		require.NoError(t, err)
		assert.False(t, seen[session.ID])
		seen[session.ID] = true
	}
}

func TestCreateRegeneratesOnDuplicate(t *testing.T) {
	repo := newMockRepo()
	repo.failCreates = 1
	svc := newTestService(repo)

	session, err := svc.Create(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, 2, repo.createCalls)

	// A persistent collision surfaces instead of looping
	repo.failCreates = 2
	_, err = svc.Create(context.Background(), nil, 0)
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
}

func TestGetStatusAfterCreate(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), nil, time.Hour)
	require.NoError(t, err)

	session, err := svc.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, session.Status)
	assert.Equal(t, created.CreatedAt.Add(time.Hour), session.ExpiresAt)
}

func TestGetStatusUnknown(t *testing.T) {
	svc := newTestService(newMockRepo())

	_, err := svc.GetStatus(context.Background(), "never-issued")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetStatusReportsExpired(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), nil, time.Hour)
	require.NoError(t, err)

	svc.now = func() time.Time { return created.ExpiresAt.Add(time.Minute) }

	session, err := svc.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, session.Status)
}

func TestApplyUpdateMergesAndActivates(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), domain.Payload{"a": 1}, time.Hour)
	require.NoError(t, err)

	session, err := svc.ApplyUpdate(context.Background(), created.ID, "checkout", domain.Payload{"b": 2})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, session.Status)
	assert.Equal(t, 1, session.Data["a"])
	assert.Equal(t, 2, session.Data["b"])
	assert.True(t, session.UpdatedAt.After(created.UpdatedAt))

	// Caller-supplied keys overwrite, others are preserved
	session, err = svc.ApplyUpdate(context.Background(), created.ID, "checkout", domain.Payload{"a": 9})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, session.Status)
	assert.Equal(t, 9, session.Data["a"])
	assert.Equal(t, 2, session.Data["b"])
}

func TestApplyUpdateNotFound(t *testing.T) {
	svc := newTestService(newMockRepo())

	_, err := svc.ApplyUpdate(context.Background(), "missing", "checkout", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyUpdateExpired(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), nil, time.Hour)
	require.NoError(t, err)

	svc.now = func() time.Time { return created.ExpiresAt }

	_, err = svc.ApplyUpdate(context.Background(), created.ID, "checkout", domain.Payload{"a": 1})
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestCompleteIsSingleUse(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), nil, time.Hour)
	require.NoError(t, err)

	_, err = svc.ApplyUpdate(context.Background(), created.ID, "checkout", domain.Payload{"cart": "c-1"})
	require.NoError(t, err)

	session, err := svc.Complete(context.Background(), created.ID, domain.StatusCompleted, domain.Payload{"order_id": 42})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, session.Status)
	assert.Equal(t, 42, session.Data["order_id"])
	assert.Equal(t, "c-1", session.Data["cart"])

	// Completing twice is rejected, not silently accepted
	_, err = svc.Complete(context.Background(), created.ID, domain.StatusCompleted, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// And so is updating a terminal session
	_, err = svc.ApplyUpdate(context.Background(), created.ID, "checkout", domain.Payload{"a": 1})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCompleteFromCreated(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), nil, time.Hour)
	require.NoError(t, err)

	// Abandoning straight from created is legal
	session, err := svc.Complete(context.Background(), created.ID, domain.StatusFailed, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, session.Status)
}

func TestCompleteRejectsBadOutcome(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), nil, time.Hour)
	require.NoError(t, err)

	for _, outcome := range []domain.SessionStatus{domain.StatusCreated, domain.StatusActive, domain.StatusExpired, "done"} {
		_, err = svc.Complete(context.Background(), created.ID, outcome, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	}
}

func TestCompleteExpired(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), nil, time.Hour)
	require.NoError(t, err)

	svc.now = func() time.Time { return created.ExpiresAt.Add(time.Second) }

	_, err = svc.Complete(context.Background(), created.ID, domain.StatusCompleted, nil)
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestConflictRetry(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), nil, time.Hour)
	require.NoError(t, err)

	// Two injected conflicts are absorbed by the retry loop
	repo.forceConflicts = 2
	session, err := svc.ApplyUpdate(context.Background(), created.ID, "checkout", domain.Payload{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, session.Status)
	assert.Equal(t, 3, repo.updateCalls)
}

func TestConflictExhaustion(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), nil, time.Hour)
	require.NoError(t, err)

	repo.forceConflicts = maxWriteAttempts
	_, err = svc.ApplyUpdate(context.Background(), created.ID, "checkout", domain.Payload{"a": 1})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestConcurrentUpdatesNeverLoseActivation(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), nil, time.Hour)
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = svc.ApplyUpdate(context.Background(), created.ID, "checkout", domain.Payload{"n": n})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			// Losers of the race may exhaust retries, nothing else
			assert.ErrorIs(t, err, domain.ErrConflict)
		}
	}
	require.Greater(t, succeeded, 0)

	// The created→active transition survives any interleaving
	session, err := svc.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, session.Status)
}

func TestCleanupExpired(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	now := time.Now().UTC().Truncate(time.Microsecond)
	svc.now = func() time.Time { return now }

	stale, err := svc.Create(context.Background(), nil, time.Hour)
	require.NoError(t, err)
	fresh, err := svc.Create(context.Background(), nil, 48*time.Hour)
	require.NoError(t, err)

	// A day past stale's expiry, but within fresh's ttl
	svc.now = func() time.Time { return now.Add(26 * time.Hour) }

	removed, err := svc.CleanupExpired(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = svc.GetStatus(context.Background(), stale.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	session, err := svc.GetStatus(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, session.Status)
}

func TestCleanupHonorsGracePeriod(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	now := time.Now().UTC().Truncate(time.Microsecond)
	svc.now = func() time.Time { return now }

	session, err := svc.Create(context.Background(), nil, time.Hour)
	require.NoError(t, err)

	// Expired, but still inside the retention grace window
	svc.now = func() time.Time { return now.Add(2 * time.Hour) }

	removed, err := svc.CleanupExpired(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	// Still readable as expired while retained
	got, err := svc.GetStatus(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
}
