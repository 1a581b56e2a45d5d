package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/immigrationai/subsync/pkg/billing"
)

// CheckoutURL creates a Stripe Checkout Session for a subscription and
// returns the URL. The plan is resolved to a Stripe Price ID using the
// configured PlanMapping, and the internal user id is injected into the
// subscription metadata so webhook events can be attributed to the user.
func (p *Provider) CheckoutURL(ctx context.Context, userID, plan, successURL, cancelURL string) (string, error) {
	startTime := time.Now()

	if p.stripeClient == nil {
		return "", billing.ErrProviderNotConfigured
	}

	priceID := p.priceIDForPlan(plan)
	if priceID == "" {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "plan_not_found")
		return "", fmt.Errorf("%w: %s", billing.ErrPlanNotConfigured, plan)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}

	// The webhook handler reads userId back out of the subscription
	// metadata; without it, subscription events are skipped.
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata("userId", userID)
	params.ClientReferenceID = stripe.String(userID)

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))

	return session.URL, nil
}

// CancelAtPeriodEnd schedules a subscription for cancellation at the end
// of the current billing period. The local record is not touched here;
// the resulting customer.subscription.updated webhook carries the change.
func (p *Provider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	startTime := time.Now()

	if p.stripeClient == nil {
		return billing.ErrProviderNotConfigured
	}

	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	_, err := p.stripeClient.V1Subscriptions.Update(ctx, subscriptionID, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/subscriptions/update", "error")
		p.metrics.RecordAPICallDuration(providerName, "/subscriptions/update", time.Since(startTime))
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/subscriptions/update", "success")
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/update", time.Since(startTime))
	return nil
}

// ChangePlan swaps the subscription's first line item to the price
// configured for the new plan. As with cancellation, the local record is
// updated by the webhook, not here.
func (p *Provider) ChangePlan(ctx context.Context, subscriptionID, newPlan string) error {
	startTime := time.Now()

	if p.stripeClient == nil {
		return billing.ErrProviderNotConfigured
	}

	priceID := p.priceIDForPlan(newPlan)
	if priceID == "" {
		return fmt.Errorf("%w: %s", billing.ErrPlanNotConfigured, newPlan)
	}

	sub, err := p.stripeClient.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/subscriptions/retrieve", "error")
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return fmt.Errorf("%w: subscription %s has no items", billing.ErrSubscriptionNotFound, subscriptionID)
	}

	params := &stripe.SubscriptionUpdateParams{
		Items: []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(sub.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
	}
	_, err = p.stripeClient.V1Subscriptions.Update(ctx, subscriptionID, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/subscriptions/update", "error")
		p.metrics.RecordAPICallDuration(providerName, "/subscriptions/update", time.Since(startTime))
		return fmt.Errorf("failed to change plan: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/subscriptions/update", "success")
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/update", time.Since(startTime))
	return nil
}

// Invoice is a billing-history line exposed to the application.
type Invoice struct {
	ID        string
	Number    string
	Status    string
	AmountDue int64
	Currency  string
	CreatedAt time.Time
	HostedURL string
}

// ListInvoices returns up to limit invoices for a Stripe customer,
// newest first.
func (p *Provider) ListInvoices(ctx context.Context, customerID string, limit int64) ([]Invoice, error) {
	startTime := time.Now()

	if p.stripeClient == nil {
		return nil, billing.ErrProviderNotConfigured
	}
	if limit <= 0 {
		limit = 10
	}

	params := &stripe.InvoiceListParams{}
	params.Customer = stripe.String(customerID)
	params.Limit = stripe.Int64(limit)

	var invoices []Invoice
	for inv, err := range p.stripeClient.V1Invoices.List(ctx, params) {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "/invoices/list", "error")
			p.metrics.RecordAPICallDuration(providerName, "/invoices/list", time.Since(startTime))
			return nil, fmt.Errorf("failed to list invoices: %w", err)
		}
		invoices = append(invoices, Invoice{
			ID:        inv.ID,
			Number:    inv.Number,
			Status:    string(inv.Status),
			AmountDue: inv.AmountDue,
			Currency:  string(inv.Currency),
			CreatedAt: time.Unix(inv.Created, 0).UTC(),
			HostedURL: inv.HostedInvoiceURL,
		})
		if int64(len(invoices)) >= limit {
			break
		}
	}

	p.metrics.RecordAPICall(providerName, "/invoices/list", "success")
	p.metrics.RecordAPICallDuration(providerName, "/invoices/list", time.Since(startTime))
	return invoices, nil
}
