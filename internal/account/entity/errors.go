package entity

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when no account matches a lookup.
var ErrNotFound = errors.New("account not found")

// ErrStale is returned by conditional store writes when the account no longer
// matches the state the caller read.
var ErrStale = errors.New("account changed concurrently")

// ValidationError reports a required field that was missing or malformed at
// creation time. Nothing is persisted when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "must be set"
	}
	return fmt.Sprintf("the %s value %s", e.Field, reason)
}

// DuplicateFieldError reports a uniqueness violation detected by the store.
type DuplicateFieldError struct {
	Field string
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("an account with this %s already exists", e.Field)
}

// TierInvariantError reports tier flags that resolved inconsistently with the
// constructor that was called, e.g. a superuser requested with is_staff=false.
type TierInvariantError struct {
	Tier Tier
	Flag string
	Want bool
}

func (e *TierInvariantError) Error() string {
	return fmt.Sprintf("%s must have %s=%t", e.Tier, e.Flag, e.Want)
}
