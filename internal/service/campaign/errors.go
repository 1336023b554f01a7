package campaign

import "errors"

var (
	// ErrNotFound is returned when a campaign does not exist for the
	// tenant.
	ErrNotFound = errors.New("campaign not found")

	// ErrInvalidTransition is returned when an operation is not allowed
	// from the campaign's current status.
	ErrInvalidTransition = errors.New("invalid campaign status transition")

	// ErrNoMessages is returned when a campaign has no non-empty
	// message variant to send.
	ErrNoMessages = errors.New("campaign has no message variants")
)
