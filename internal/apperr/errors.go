// Package apperr defines the error kinds produced by the synchronization core.
//
// Every concrete error type reports its kind through errors.Is against one of
// the sentinels below, so callers can branch on the kind without knowing the
// concrete type, while errors.As still reaches the concrete value and any
// wrapped cause.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind sentinels.
var (
	ErrNetwork      = errors.New("network failure")
	ErrParse        = errors.New("parse failure")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrProfile      = errors.New("profile failure")
	ErrSync         = errors.New("synchronization failure")
)

// NetworkError is a transport failure that survived the retry budget.
type NetworkError struct {
	URL    string
	Reason string
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error for %s: %s", e.URL, e.Reason)
}

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// RateLimitError is returned when upstream keeps answering 429 after the
// exponential backoff budget is spent.
type RateLimitError struct {
	URL string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("network error for %s: rate limit exceeded (429 Too Many Requests)", e.URL)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrNetwork }

// CardCountParseError means none of the known count selectors produced a number.
type CardCountParseError struct {
	UserID string
	Reason string
}

func (e *CardCountParseError) Error() string {
	return fmt.Sprintf("failed to parse card count for user %s: %s", e.UserID, e.Reason)
}

func (e *CardCountParseError) Is(target error) bool { return target == ErrParse }

// CardsParseError reports a failed card collection for a user. Err, when set,
// is the underlying cause and may itself be a network error.
type CardsParseError struct {
	UserID string
	Reason string
	Err    error
}

func (e *CardsParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to parse user cards for user %s: %s: %v", e.UserID, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to parse user cards for user %s: %s", e.UserID, e.Reason)
}

func (e *CardsParseError) Is(target error) bool { return target == ErrParse }

func (e *CardsParseError) Unwrap() error { return e.Err }

// UserNotFoundError is returned when the referenced user row does not exist.
type UserNotFoundError struct {
	UserID string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user with id %s does not exist", e.UserID)
}

func (e *UserNotFoundError) Is(target error) bool { return target == ErrNotFound }

// CardNotFoundError is returned when the (card, user) row does not exist.
type CardNotFoundError struct {
	UserID string
	CardID string
}

func (e *CardNotFoundError) Error() string {
	return fmt.Sprintf("card %s for user %s does not exist", e.CardID, e.UserID)
}

func (e *CardNotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidCategoryError rejects a category outside the closed set.
type InvalidCategoryError struct {
	Category string
	Valid    []string
}

func (e *InvalidCategoryError) Error() string {
	return fmt.Sprintf("invalid category %q, valid categories: %s", e.Category, strings.Join(e.Valid, ", "))
}

func (e *InvalidCategoryError) Is(target error) bool { return target == ErrInvalidInput }

// SynchronizationError wraps any failure during a refresh with the user it
// concerned.
type SynchronizationError struct {
	UserID string
	Err    error
}

func (e *SynchronizationError) Error() string {
	return fmt.Sprintf("failed to refresh cards for user %s: %v", e.UserID, e.Err)
}

func (e *SynchronizationError) Is(target error) bool { return target == ErrSync }

func (e *SynchronizationError) Unwrap() error { return e.Err }

// StatusUpdateError is returned by the explicit status-set loop when it could
// not confirm the update.
type StatusUpdateError struct {
	UserID    string
	Attempts  int
	Successes int
	Err       error
}

func (e *StatusUpdateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to update status for user %s: %v", e.UserID, e.Err)
	}
	return fmt.Sprintf("failed to update status for user %s after %d attempts (%d confirmed)",
		e.UserID, e.Attempts, e.Successes)
}

func (e *StatusUpdateError) Unwrap() error { return e.Err }

// InvalidTokenError is returned for a missing or mismatched access token.
type InvalidTokenError struct {
	Reason string
}

func (e *InvalidTokenError) Error() string { return e.Reason }

func (e *InvalidTokenError) Is(target error) bool { return target == ErrUnauthorized }

// ProfileCorruptedError is returned when the profile file cannot be decoded.
type ProfileCorruptedError struct {
	Path string
	Err  error
}

func (e *ProfileCorruptedError) Error() string {
	return fmt.Sprintf("profile file %s corrupted: %v", e.Path, e.Err)
}

func (e *ProfileCorruptedError) Is(target error) bool { return target == ErrProfile }

func (e *ProfileCorruptedError) Unwrap() error { return e.Err }
