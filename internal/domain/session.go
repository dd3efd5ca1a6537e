package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type SessionStatus string

const (
	StatusCreated   SessionStatus = "created"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusExpired   SessionStatus = "expired"
)

// IsTerminal reports whether no further transition is legal from s.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// IsOutcome reports whether s is a status a caller may complete a session
// with. Expiry is derived from time, never set by a caller.
func (s SessionStatus) IsOutcome() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Payload is the caller-supplied session data, persisted as JSONB.
type Payload map[string]interface{}

// Value implements driver.Valuer so Payload can be bound directly in queries.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for reading the JSONB column back.
func (p *Payload) Scan(src interface{}) error {
	if src == nil {
		*p = Payload{}
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Payload", src)
	}

	return json.Unmarshal(data, p)
}

// Merge returns a new payload with other applied on top of p. The merge is
// shallow: keys present in other overwrite, keys only in p are preserved.
func (p Payload) Merge(other Payload) Payload {
	merged := make(Payload, len(p)+len(other))
	for k, v := range p {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

type Session struct {
	ID        string        `json:"id" db:"id"`
	Status    SessionStatus `json:"status" db:"status"`
	Data      Payload       `json:"data" db:"data"`
	ExpiresAt time.Time     `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// ExpiredAt reports whether the session is unusable at t. Expiry is
// inclusive: a session is already expired at exactly expires_at.
func (s *Session) ExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// EffectiveStatus applies the lazy-expiry rule: past expires_at the session
// reads as expired regardless of the stored status. The expired status is
// never written back; it exists only as a read-time derivation.
func (s *Session) EffectiveStatus(now time.Time) SessionStatus {
	if s.ExpiredAt(now) {
		return StatusExpired
	}
	return s.Status
}
