package services

import "errors"

var (
	// ErrUnknownTransaction is returned when a referenced transaction does
	// not exist. Logged and answered with 404, never retried.
	ErrUnknownTransaction = errors.New("transaction not found")
	ErrUnknownGrant       = errors.New("grant not found")
	ErrUnknownUser        = errors.New("user not found")

	// ErrInvalidStatus is the ledger refusing a transition out of a
	// terminal state.
	ErrInvalidStatus = errors.New("invalid status transition")

	// ErrInsufficientStock rejects the whole checkout before any
	// transaction is created.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNoGameIdentity marks a grant whose user has no linked game
	// character yet; the bulk queue counts these as skipped.
	ErrNoGameIdentity = errors.New("user has no linked game identity")
)
