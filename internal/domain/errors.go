package domain

import "errors"

var (
	ErrNotFound          = errors.New("session not found")
	ErrExpired           = errors.New("session expired")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("session update conflict")

	// ErrDuplicateID surfaces from the store on an id collision. Ids are
	// service-generated, so this should never reach a caller.
	ErrDuplicateID = errors.New("session id already exists")

	// ErrConcurrentModification is the store's optimistic-concurrency
	// failure. The service absorbs it with bounded retries and escalates
	// to ErrConflict only after exhausting them.
	ErrConcurrentModification = errors.New("session modified concurrently")
)
