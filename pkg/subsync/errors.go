package subsync

import "errors"

var (
	// ErrSubscriptionNotFound is returned when no record exists for a
	// provider subscription id.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrAlreadyExists is returned by Store.Insert when a record with the
	// same provider subscription id already exists.
	ErrAlreadyExists = errors.New("subscription already exists")

	// ErrPaymentNotFound is returned when no payment row matches a
	// provider transaction id.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrInvalidSubscription is returned when a record is missing
	// required fields.
	ErrInvalidSubscription = errors.New("invalid subscription")
)
