package billing

import (
	"net/http"

	"github.com/immigrationai/subsync/pkg/subsync"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Reconciler applies verified events to the local subscription table.
	Reconciler *subsync.Reconciler

	// PlanMapping maps provider price/product IDs to plan names.
	// For example: map[string]string{"price_starter_m": "starter",
	// "price_professional_m": "professional"}
	PlanMapping map[string]string

	// WebhookSecret is used to verify incoming webhook requests.
	// Providers use it when no provider-specific secret is set.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider
	// (checkout, plan changes, event-log replay). Providers use it when
	// no provider-specific key is set.
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Logger is an optional structured logger. Defaults to no-op.
	Logger subsync.Logger

	// Metrics is an optional metrics collector for webhook and API
	// operations. If nil, metrics are silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for
	// Prometheus metrics.
	Metrics Metrics

	// WebhookCallback, when set, is invoked after an event has been
	// applied to storage. The webhook response does not wait for
	// provider redelivery on callback failure: a callback error is
	// logged and the event is still acknowledged.
	WebhookCallback WebhookCallback
}
