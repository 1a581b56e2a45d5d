package subsync

import "context"

// Store is the persistence capability the reconciler writes through.
// Implementations must enforce uniqueness of ProviderSubscriptionID and
// make UpdateIfNewEvent a single atomic conditional write: the event-id
// comparison and the field update happen together, so two concurrent
// deliveries of the same event cannot both apply.
type Store interface {
	// FindByProviderSubscriptionID returns the record for the given
	// provider subscription id, or ErrSubscriptionNotFound.
	FindByProviderSubscriptionID(ctx context.Context, provider, providerSubscriptionID string) (*Subscription, error)

	// Insert creates a new record, generating its ID. Returns
	// ErrAlreadyExists when a record with the same provider
	// subscription id is present.
	Insert(ctx context.Context, sub *Subscription) error

	// UpdateIfNewEvent applies change and records eventID as the last
	// applied event, but only when the stored last event id differs
	// from eventID. Returns (false, nil) when the event was already
	// applied, and ErrSubscriptionNotFound when no record exists.
	UpdateIfNewEvent(ctx context.Context, provider, providerSubscriptionID, eventID string, change Change) (bool, error)
}

// PaymentStatus is the terminal outcome recorded for a payment row.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentStore marks one-off payment rows from payment-intent events.
// It is optional; a reconciler without one acknowledges payment events
// and does nothing.
type PaymentStore interface {
	// MarkPaymentStatus updates the payment row matching the provider
	// transaction id, or returns ErrPaymentNotFound.
	MarkPaymentStatus(ctx context.Context, providerTransactionID string, status PaymentStatus) error
}
