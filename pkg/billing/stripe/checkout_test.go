package stripe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/immigrationai/subsync/pkg/billing"
)

// webhook-only provider, no API key configured
func newWebhookOnlyProvider(t *testing.T) *Provider {
	t.Helper()
	return newTestProvider(t, newTrackingStore(), nil)
}

func TestCheckoutURL_RequiresAPIKey(t *testing.T) {
	provider := newWebhookOnlyProvider(t)

	_, err := provider.CheckoutURL(context.Background(), testUserID, "pro", "https://app.example/success", "https://app.example/cancel")
	if !errors.Is(err, billing.ErrProviderNotConfigured) {
		t.Errorf("Expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestCancelAtPeriodEnd_RequiresAPIKey(t *testing.T) {
	provider := newWebhookOnlyProvider(t)

	err := provider.CancelAtPeriodEnd(context.Background(), "sub_1")
	if !errors.Is(err, billing.ErrProviderNotConfigured) {
		t.Errorf("Expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestChangePlan_RequiresAPIKey(t *testing.T) {
	provider := newWebhookOnlyProvider(t)

	err := provider.ChangePlan(context.Background(), "sub_1", "pro")
	if !errors.Is(err, billing.ErrProviderNotConfigured) {
		t.Errorf("Expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestListInvoices_RequiresAPIKey(t *testing.T) {
	provider := newWebhookOnlyProvider(t)

	_, err := provider.ListInvoices(context.Background(), "cus_1", 10)
	if !errors.Is(err, billing.ErrProviderNotConfigured) {
		t.Errorf("Expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestReplaySince_RequiresAPIKey(t *testing.T) {
	provider := newWebhookOnlyProvider(t)

	_, err := provider.ReplaySince(context.Background(), time.Now().Add(-time.Hour))
	if !errors.Is(err, billing.ErrProviderNotConfigured) {
		t.Errorf("Expected ErrProviderNotConfigured, got %v", err)
	}
}
