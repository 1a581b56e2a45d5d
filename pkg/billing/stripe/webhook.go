package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/immigrationai/subsync/pkg/billing"
	"github.com/immigrationai/subsync/pkg/billing/internal"
	"github.com/immigrationai/subsync/pkg/subsync"
)

// handleWebhook processes incoming Stripe webhook events.
//
// Response contract: verification or parse failures are rejected with a
// 4xx and produce no side effects. Everything past verification is
// acknowledged with 200 {"received": true}, including unknown event
// types and storage failures, so the provider's retry mechanism cannot
// hammer an endpoint that is already systemically broken. Lost events
// are recovered through ReplaySince.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	select {
	case <-r.Context().Done():
		http.Error(w, "request timeout", http.StatusRequestTimeout)
		return
	default:
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	ev, err := parseEvent(&event)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		return
	}

	status := "skipped"
	applied, err := p.reconciler.Apply(r.Context(), ev)
	if err != nil {
		// Business failure (storage down, constraint violation): acked
		// anyway, see the response contract above.
		p.logger.Error("webhook processing failed",
			subsync.Field{Key: "event_id", Value: ev.ID},
			subsync.Field{Key: "event_type", Value: eventType},
			subsync.Field{Key: "error", Value: err.Error()})
		p.metrics.RecordWebhookError(providerName, "processing_error")
		status = "error"
	} else if applied {
		status = "applied"
		if ev.Status != "" {
			p.metrics.RecordStatusChange(providerName, string(ev.Status))
		}
		p.runCallback(r.Context(), ev, eventType)
	}

	_ = internal.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})

	p.metrics.RecordWebhookEvent(providerName, eventType, status)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// runCallback notifies the application of an applied event. Callback
// failures are logged, never propagated: the event is already durable.
func (p *Provider) runCallback(ctx context.Context, ev subsync.Event, eventType string) {
	if p.callback == nil {
		return
	}
	err := p.callback(ctx, billing.WebhookEvent{
		UserID:                 ev.UserID,
		ProviderSubscriptionID: ev.ProviderSubscriptionID,
		Status:                 ev.Status,
		Plan:                   p.MapPriceToPlan(ev.PlanID),
		Provider:               providerName,
		EventType:              eventType,
		EventID:                ev.ID,
		EventTimestamp:         ev.OccurredAt,
		Metadata:               ev.Metadata,
	})
	if err != nil {
		p.logger.Error("webhook callback failed",
			subsync.Field{Key: "event_id", Value: ev.ID},
			subsync.Field{Key: "error", Value: err.Error()})
	}
}

// subscriptionPayload is the slice of the subscription object the
// reconciler needs. Parsed from the event's raw data rather than the SDK
// struct so period fields survive Stripe API version drift.
type subscriptionPayload struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// paymentIntentPayload is the slice of a payment_intent object used by
// payment-class events.
type paymentIntentPayload struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

// parseEvent translates a verified Stripe event envelope into the
// reconciler's typed event. Provider event types outside the handled set
// map to subsync.KindIgnored.
func parseEvent(event *stripe.Event) (subsync.Event, error) {
	ev := subsync.Event{
		ID:         event.ID,
		Provider:   providerName,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Kind:       kindForType(string(event.Type)),
	}

	switch ev.Kind {
	case subsync.KindSubscriptionCreated, subsync.KindSubscriptionUpdated, subsync.KindSubscriptionDeleted:
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return ev, fmt.Errorf("failed to unmarshal subscription: %w", err)
		}
		ev.ProviderSubscriptionID = sub.ID
		ev.UserID = userIDFromMetadata(sub.Metadata)
		ev.Status = mapStatus(sub.Status)
		ev.Metadata = sub.Metadata
		// Only the first line item's price is recorded.
		if len(sub.Items.Data) > 0 {
			ev.PlanID = sub.Items.Data[0].Price.ID
		}
		if end := periodEnd(&sub); end != nil {
			ev.CurrentPeriodEnd = end
		}

	case subsync.KindPaymentSucceeded, subsync.KindPaymentFailed:
		var pi paymentIntentPayload
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return ev, fmt.Errorf("failed to unmarshal payment intent: %w", err)
		}
		ev.ProviderTransactionID = pi.ID
		ev.UserID = userIDFromMetadata(pi.Metadata)
		ev.Metadata = pi.Metadata
	}

	return ev, nil
}

// kindForType maps Stripe event type strings onto the closed event enum.
func kindForType(eventType string) subsync.Kind {
	switch eventType {
	case "customer.subscription.created":
		return subsync.KindSubscriptionCreated
	case "customer.subscription.updated":
		return subsync.KindSubscriptionUpdated
	case "customer.subscription.deleted":
		return subsync.KindSubscriptionDeleted
	case "payment_intent.succeeded":
		return subsync.KindPaymentSucceeded
	case "payment_intent.payment_failed":
		return subsync.KindPaymentFailed
	default:
		return subsync.KindIgnored
	}
}

// mapStatus normalizes Stripe subscription statuses onto the local enum.
func mapStatus(status string) subsync.Status {
	switch status {
	case "active":
		return subsync.StatusActive
	case "trialing":
		return subsync.StatusTrialing
	case "past_due":
		return subsync.StatusPastDue
	case "unpaid":
		return subsync.StatusUnpaid
	case "canceled":
		return subsync.StatusCanceled
	default:
		return subsync.StatusIncomplete
	}
}

// userIDFromMetadata extracts the internal user id injected at checkout.
// The snake_case key is accepted for rows created before the checkout
// flow standardized on camelCase.
func userIDFromMetadata(metadata map[string]string) string {
	if metadata == nil {
		return ""
	}
	if id := metadata["userId"]; id != "" {
		return id
	}
	return metadata["user_id"]
}

// periodEnd reads current_period_end from the subscription, falling back
// to the first item; newer Stripe API versions report the period on the
// item instead of the subscription.
func periodEnd(sub *subscriptionPayload) *time.Time {
	epoch := sub.CurrentPeriodEnd
	if epoch == 0 && len(sub.Items.Data) > 0 {
		epoch = sub.Items.Data[0].CurrentPeriodEnd
	}
	if epoch == 0 {
		return nil
	}
	t := time.Unix(epoch, 0).UTC()
	return &t
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
