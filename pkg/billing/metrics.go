package billing

import "time"

// Metrics defines the interface for tracking billing provider operations.
// All methods are optional - providers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// eventType: The provider event type (e.g. "customer.subscription.updated")
	// status: "applied", "skipped", or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: The type of error (e.g. "auth_failed", "invalid_payload", "processing_error")
	RecordWebhookError(provider, errorType string)

	// RecordStatusChange records a subscription status transition applied
	// by the reconciler.
	RecordStatusChange(provider, status string)

	// RecordReplay records an event-log replay run.
	// status: "success" or "error"
	RecordReplay(provider, status string)

	// RecordReplayDuration records how long a replay run took.
	RecordReplayDuration(provider string, duration time.Duration)

	// RecordAPICall records an API call to the billing provider.
	// endpoint: The API endpoint called (e.g. "/checkout/sessions")
	// status: HTTP status code or outcome label
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordStatusChange(_, _ string)                               {}
func (n *NoopMetrics) RecordReplay(_, _ string)                                     {}
func (n *NoopMetrics) RecordReplayDuration(_ string, _ time.Duration)               {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
