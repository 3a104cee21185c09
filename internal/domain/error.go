package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Purchase flow
	ErrInvalidPlan        = errors.New("no catalog entry matches the selected plan")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrReferenceExhausted = errors.New("could not allocate a unique payment reference")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrPaymentInProgress  = errors.New("payment verification already in progress")
	ErrUnknownAccount     = errors.New("token subject has no billing account")

	// Expiry scanner
	ErrMissingRecipient = errors.New("no phone number for recipient")
)
