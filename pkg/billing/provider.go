// Package billing defines the provider-agnostic surface for payment
// backends that feed the subscription reconciler.
package billing

import (
	"context"
	"net/http"
	"time"
)

// Provider is the generic interface that any billing backend must implement.
// This allows the application to swap payment providers with zero logic changes.
type Provider interface {
	// Name returns the provider name (e.g. "stripe").
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles verification, parsing, and reconciliation
	// internally.
	WebhookHandler() http.Handler

	// ReplaySince re-applies events from the provider's event log starting
	// at the given time. Idempotency makes replay safe; operators use it
	// to recover events dropped while the database was unavailable.
	// Returns the number of events that changed state.
	ReplaySince(ctx context.Context, since time.Time) (int, error)
}
