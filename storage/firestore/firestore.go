// Package firestore provides a Google Cloud Firestore implementation of
// the subsync.Store and subsync.PaymentStore interfaces. The conditional
// update runs inside a Firestore transaction, which gives the event-id
// guard the same atomicity the PostgreSQL adapter gets from a single
// conditional UPDATE.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/immigrationai/subsync/pkg/subsync"
)

// Store implements subsync.Store and subsync.PaymentStore using Firestore.
type Store struct {
	client                  *firestore.Client
	subscriptionsCollection string
	paymentsCollection      string
}

// Config holds Firestore store configuration
type Config struct {
	// SubscriptionsCollection is the Firestore collection for
	// subscription records. Default: "billing_subscriptions"
	SubscriptionsCollection string

	// PaymentsCollection is the Firestore collection for payment rows.
	// Default: "billing_payments"
	PaymentsCollection string
}

// New creates a new Firestore store
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "billing_subscriptions"
	}
	if config.PaymentsCollection == "" {
		config.PaymentsCollection = "billing_payments"
	}

	return &Store{
		client:                  client,
		subscriptionsCollection: config.SubscriptionsCollection,
		paymentsCollection:      config.PaymentsCollection,
	}, nil
}

// docID keys subscription documents. Firestore gives us atomic access
// per document, so the unique-record invariant holds by construction.
func docID(provider, providerSubscriptionID string) string {
	return provider + ":" + providerSubscriptionID
}

// FindByProviderSubscriptionID implements subsync.Store
func (s *Store) FindByProviderSubscriptionID(ctx context.Context, provider, providerSubscriptionID string) (*subsync.Subscription, error) {
	doc := s.client.Collection(s.subscriptionsCollection).Doc(docID(provider, providerSubscriptionID))
	snap, err := doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, subsync.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return subscriptionFromDoc(snap.Data()), nil
}

// Insert implements subsync.Store
func (s *Store) Insert(ctx context.Context, sub *subsync.Subscription) error {
	if sub == nil || sub.ProviderSubscriptionID == "" || sub.UserID == "" {
		return subsync.ErrInvalidSubscription
	}

	now := time.Now().UTC()
	id := uuid.NewString()

	doc := s.client.Collection(s.subscriptionsCollection).Doc(docID(sub.Provider, sub.ProviderSubscriptionID))
	_, err := doc.Create(ctx, map[string]interface{}{
		"id":                     id,
		"userId":                 sub.UserID,
		"provider":               sub.Provider,
		"providerSubscriptionId": sub.ProviderSubscriptionID,
		"planId":                 sub.PlanID,
		"status":                 string(sub.Status),
		"currentPeriodEnd":       timeOrNil(sub.CurrentPeriodEnd),
		"lastEventId":            sub.LastEventID,
		"metadata":               metadataOrEmpty(sub.Metadata),
		"createdAt":              now,
		"updatedAt":              now,
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return subsync.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert subscription: %w", err)
	}

	sub.ID = id
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return nil
}

// UpdateIfNewEvent implements subsync.Store
func (s *Store) UpdateIfNewEvent(ctx context.Context, provider, providerSubscriptionID, eventID string, change subsync.Change) (bool, error) {
	doc := s.client.Collection(s.subscriptionsCollection).Doc(docID(provider, providerSubscriptionID))

	applied := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// The closure re-runs on contention; state from an aborted
		// attempt must not leak into the retry.
		applied = false

		snap, err := tx.Get(doc)
		if err != nil {
			return err
		}
		data := snap.Data()
		if last, _ := data["lastEventId"].(string); last == eventID {
			// Already applied, leave every mutable field untouched.
			return nil
		}

		update := map[string]interface{}{
			"status":           string(change.Status),
			"planId":           change.PlanID,
			"currentPeriodEnd": timeOrNil(change.CurrentPeriodEnd),
			"lastEventId":      eventID,
			"updatedAt":        time.Now().UTC(),
		}
		if change.Metadata != nil {
			update["metadata"] = change.Metadata
		}
		if err := tx.Set(doc, update, firestore.MergeAll); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, subsync.ErrSubscriptionNotFound
		}
		return false, fmt.Errorf("failed to update subscription: %w", err)
	}
	return applied, nil
}

// MarkPaymentStatus implements subsync.PaymentStore
func (s *Store) MarkPaymentStatus(ctx context.Context, providerTransactionID string, paymentStatus subsync.PaymentStatus) error {
	doc := s.client.Collection(s.paymentsCollection).Doc(providerTransactionID)
	_, err := doc.Update(ctx, []firestore.Update{
		{Path: "status", Value: string(paymentStatus)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return subsync.ErrPaymentNotFound
		}
		return fmt.Errorf("failed to mark payment: %w", err)
	}
	return nil
}

// subscriptionFromDoc rebuilds a record from document fields.
func subscriptionFromDoc(data map[string]interface{}) *subsync.Subscription {
	sub := &subsync.Subscription{
		ID:                     getString(data, "id"),
		UserID:                 getString(data, "userId"),
		Provider:               getString(data, "provider"),
		ProviderSubscriptionID: getString(data, "providerSubscriptionId"),
		PlanID:                 getString(data, "planId"),
		Status:                 subsync.Status(getString(data, "status")),
		LastEventID:            getString(data, "lastEventId"),
		CreatedAt:              getTime(data, "createdAt"),
		UpdatedAt:              getTime(data, "updatedAt"),
	}
	if end, ok := data["currentPeriodEnd"].(time.Time); ok && !end.IsZero() {
		sub.CurrentPeriodEnd = &end
	}
	if raw, ok := data["metadata"].(map[string]interface{}); ok {
		metadata := make(map[string]string, len(raw))
		for k, v := range raw {
			if str, ok := v.(string); ok {
				metadata[k] = str
			}
		}
		sub.Metadata = metadata
	}
	return sub
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
