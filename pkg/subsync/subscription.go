// Package subsync reconciles payment-provider webhook events into a local
// subscriptions table with exactly-once effect per event id.
package subsync

import "time"

// Status is the lifecycle state of a subscription as reported by the
// payment provider.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusUnpaid     Status = "unpaid"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether the status is an end state. Rows in a terminal
// state are kept, never physically deleted.
func (s Status) Terminal() bool {
	return s == StatusCanceled
}

// Subscription is one record per (user, provider-subscription) pair.
// ProviderSubscriptionID is unique across all records.
type Subscription struct {
	// ID is an opaque identifier generated on first insert, immutable.
	ID string

	// UserID references the owning account; set once, never changed.
	UserID string

	// Provider is the payment provider tag (e.g. "stripe").
	Provider string

	// ProviderSubscriptionID is the provider's subscription identifier.
	ProviderSubscriptionID string

	// PlanID is the provider price/plan identifier, empty when unknown.
	// When a subscription carries multiple line items, only the first
	// item's price id is recorded.
	PlanID string

	Status Status

	// CurrentPeriodEnd is the end of the current billing period, nil when
	// the provider did not report one.
	CurrentPeriodEnd *time.Time

	// LastEventID is the id of the most recently applied provider event.
	// It is the idempotency guard: an incoming event with the same id is
	// a no-op.
	LastEventID string

	// Metadata is free-form key/value attached by the provider.
	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Change is the mutable field set a new event applies to an existing
// record. Everything outside this set (ID, UserID, Provider,
// ProviderSubscriptionID, CreatedAt) is immutable after insert.
type Change struct {
	Status           Status
	PlanID           string
	CurrentPeriodEnd *time.Time
	Metadata         map[string]string
}
