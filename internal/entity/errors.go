package entity

import "errors"

var (
	// ErrInvalidState means a precondition was not met; nothing was attempted.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnauthorized means a webhook signature was missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUpstreamUnavailable means a payment provider could not be reached. Retryable.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrDataIntegrityGap means an approved payment lacks the metadata needed to apply it.
	ErrDataIntegrityGap = errors.New("data integrity gap")
	ErrNotFound         = errors.New("not found")
	// ErrAlreadyInvoiced is returned when another run persisted the shipping charge first.
	ErrAlreadyInvoiced = errors.New("participant already invoiced")
)
