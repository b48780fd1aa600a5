package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrUnauthenticated    = errors.New("webhook authentication failed")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrOperationFailed    = errors.New("operation failed")
	ErrLockNotAcquired    = errors.New("lock not acquired")
	ErrAlreadyTerminal    = errors.New("payment link already in a terminal state")
)

// ConflictError is returned when an active pending payment link blocks a
// new checkout attempt. ExistingLinkID lets the caller offer the user a
// resume-or-cancel choice for the link that is in the way.
type ConflictError struct {
	ExistingLinkID string
	Phone          string
	SameBundle     bool
}

func (e *ConflictError) Error() string {
	if e.SameBundle {
		return fmt.Sprintf("a pending payment link %s already exists for this phone and bundle", e.ExistingLinkID)
	}
	return fmt.Sprintf("a pending payment link %s exists for this phone on another bundle", e.ExistingLinkID)
}
