package database

import "errors"

var (
	// ErrNotFound is returned when a referenced room, account or message
	// does not exist. Membership failures surface the same error so room
	// existence is not leaked to non-members.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on uniqueness or invariant violations, such
	// as a duplicate membership pair or a direct room that already holds
	// two members.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable is returned when a write could not complete after
	// bounded retries on store contention.
	ErrUnavailable = errors.New("unavailable")
)
