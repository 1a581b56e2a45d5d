package subsync

import "time"

// Kind is a closed enumeration of the webhook event categories the
// reconciler understands. Provider event types outside this set map to
// KindIgnored and are acknowledged without effect.
type Kind int

const (
	KindIgnored Kind = iota
	KindSubscriptionCreated
	KindSubscriptionUpdated
	KindSubscriptionDeleted
	KindPaymentSucceeded
	KindPaymentFailed
)

// String returns a stable label for logging and metrics.
func (k Kind) String() string {
	switch k {
	case KindSubscriptionCreated:
		return "subscription_created"
	case KindSubscriptionUpdated:
		return "subscription_updated"
	case KindSubscriptionDeleted:
		return "subscription_deleted"
	case KindPaymentSucceeded:
		return "payment_succeeded"
	case KindPaymentFailed:
		return "payment_failed"
	default:
		return "ignored"
	}
}

// Event is a provider webhook event after signature verification and
// parsing. Providers translate their wire envelope into this type; the
// reconciler never sees provider-specific payloads.
type Event struct {
	// ID is the provider's event identifier, the idempotency key.
	ID string

	Kind Kind

	// Provider is the payment provider tag (e.g. "stripe").
	Provider string

	// OccurredAt is the provider-reported event time.
	OccurredAt time.Time

	// Subscription fields, populated for subscription-class events.
	ProviderSubscriptionID string
	UserID                 string
	Status                 Status
	PlanID                 string
	CurrentPeriodEnd       *time.Time
	Metadata               map[string]string

	// ProviderTransactionID is populated for payment-class events.
	ProviderTransactionID string
}

// change extracts the mutable field set this event carries.
func (e *Event) change() Change {
	return Change{
		Status:           e.Status,
		PlanID:           e.PlanID,
		CurrentPeriodEnd: e.CurrentPeriodEnd,
		Metadata:         e.Metadata,
	}
}
