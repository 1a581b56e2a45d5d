package billing

import (
	"context"
	"time"

	"github.com/immigrationai/subsync/pkg/subsync"
)

// WebhookEvent describes a successfully applied webhook event. It is
// passed to the WebhookCallback after the subscription or payment row
// has been updated in storage, so applications can trigger follow-up
// work (confirmation emails, cache invalidation) without reprocessing
// the raw payload.
type WebhookEvent struct {
	// UserID is the internal user identifier, empty for payment events
	// that carry no user metadata.
	UserID string

	// ProviderSubscriptionID is the provider's subscription identifier,
	// empty for payment-class events.
	ProviderSubscriptionID string

	// Status is the subscription status after the event was applied.
	Status subsync.Status

	// Plan is the resolved plan name after the event was applied.
	Plan string

	// Provider is the billing provider name ("stripe").
	Provider string

	// EventType is the provider-specific event type, e.g.
	// "customer.subscription.updated".
	EventType string

	// EventID is the provider's event identifier.
	EventID string

	// EventTimestamp is when the event occurred (from provider).
	EventTimestamp time.Time

	// Metadata contains provider-specific additional data.
	Metadata map[string]string
}

// WebhookCallback is invoked after storage has been updated for an event.
type WebhookCallback func(ctx context.Context, event WebhookEvent) error
