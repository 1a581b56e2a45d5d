// Package stripe implements the billing.Provider interface for Stripe.
package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/immigrationai/subsync/pkg/billing"
	"github.com/immigrationai/subsync/pkg/billing/internal"
	"github.com/immigrationai/subsync/pkg/subsync"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Reconciler, PlanMapping, etc.)

	// StripeAPIKey is the secret key for outbound API calls. Optional
	// for webhook-only deployments; checkout and replay require it.
	// Falls back to the base Config.APIKey when empty.
	StripeAPIKey string

	// StripeWebhookSecret is the endpoint signing secret ("whsec_...").
	// Falls back to the base Config.WebhookSecret when empty.
	StripeWebhookSecret string
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	reconciler    *subsync.Reconciler
	config        Config
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	planMapping   map[string]string // Price/Product ID -> plan name
	priceMapping  map[string]string // plan name -> Price ID
	webhookSecret []byte
	apiKey        string
	stripeClient  *stripe.Client
	logger        subsync.Logger
	metrics       billing.Metrics
	callback      billing.WebhookCallback
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Reconciler == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(config.APIKey)
	}
	var stripeClient *stripe.Client
	if apiKey != "" {
		stripeClient = stripe.NewClient(apiKey)
	}

	secret := strings.TrimSpace(config.StripeWebhookSecret)
	if secret == "" {
		secret = strings.TrimSpace(config.WebhookSecret)
	}
	webhookSecret := []byte(secret)

	// Plan mapping is kept in both directions: webhooks resolve price ids
	// to plan names, checkout resolves plan names to price ids.
	planMapping := make(map[string]string)
	priceMapping := make(map[string]string)
	for priceID, plan := range config.PlanMapping {
		planMapping[strings.ToLower(priceID)] = plan
		priceMapping[plan] = priceID
	}

	logger := config.Logger
	if logger == nil {
		logger = &subsync.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		reconciler:    config.Reconciler,
		config:        config,
		httpClient:    httpClient,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		planMapping:   planMapping,
		priceMapping:  priceMapping,
		webhookSecret: webhookSecret,
		apiKey:        apiKey,
		stripeClient:  stripeClient,
		logger:        logger,
		metrics:       metrics,
		callback:      config.WebhookCallback,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	return p.rateLimiter.Middleware(handler)
}

// MapPriceToPlan maps a Stripe Price ID to a configured plan name.
// Unmapped prices resolve to the empty string.
func (p *Provider) MapPriceToPlan(priceID string) string {
	if priceID == "" {
		return ""
	}
	return p.planMapping[strings.ToLower(strings.TrimSpace(priceID))]
}

// priceIDForPlan resolves a plan name to its Stripe Price ID.
func (p *Provider) priceIDForPlan(plan string) string {
	return p.priceMapping[plan]
}
