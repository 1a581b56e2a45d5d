// Package memory provides an in-memory implementation of the subsync.Store
// and subsync.PaymentStore interfaces. This implementation is primarily
// intended for testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/immigrationai/subsync/pkg/subsync"
)

// Store implements subsync.Store and subsync.PaymentStore using
// in-memory maps guarded by a single mutex, which makes the conditional
// update atomic by construction.
type Store struct {
	mu            sync.RWMutex
	subscriptions map[string]*subsync.Subscription // keyed by provider:providerSubscriptionID
	payments      map[string]subsync.PaymentStatus // keyed by providerTransactionID
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		subscriptions: make(map[string]*subsync.Subscription),
		payments:      make(map[string]subsync.PaymentStatus),
	}
}

// FindByProviderSubscriptionID implements subsync.Store
func (s *Store) FindByProviderSubscriptionID(ctx context.Context, provider, providerSubscriptionID string) (*subsync.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subscriptionKey(provider, providerSubscriptionID)]
	if !ok {
		return nil, subsync.ErrSubscriptionNotFound
	}

	// Return a copy to prevent external mutations
	subCopy := *sub
	return &subCopy, nil
}

// Insert implements subsync.Store
func (s *Store) Insert(ctx context.Context, sub *subsync.Subscription) error {
	if sub == nil || sub.ProviderSubscriptionID == "" || sub.UserID == "" {
		return subsync.ErrInvalidSubscription
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := subscriptionKey(sub.Provider, sub.ProviderSubscriptionID)
	if _, exists := s.subscriptions[key]; exists {
		return subsync.ErrAlreadyExists
	}

	now := time.Now().UTC()
	subCopy := *sub
	subCopy.ID = uuid.NewString()
	subCopy.CreatedAt = now
	subCopy.UpdatedAt = now
	s.subscriptions[key] = &subCopy

	// Report the generated identity back to the caller.
	sub.ID = subCopy.ID
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return nil
}

// UpdateIfNewEvent implements subsync.Store. The event-id comparison and
// the field update happen under the same lock.
func (s *Store) UpdateIfNewEvent(ctx context.Context, provider, providerSubscriptionID, eventID string, change subsync.Change) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subscriptionKey(provider, providerSubscriptionID)]
	if !ok {
		return false, subsync.ErrSubscriptionNotFound
	}
	if sub.LastEventID == eventID {
		return false, nil
	}

	sub.Status = change.Status
	sub.PlanID = change.PlanID
	sub.CurrentPeriodEnd = change.CurrentPeriodEnd
	if change.Metadata != nil {
		sub.Metadata = change.Metadata
	}
	sub.LastEventID = eventID
	sub.UpdatedAt = time.Now().UTC()
	return true, nil
}

// RecordPayment seeds a payment row, as the checkout flow would.
func (s *Store) RecordPayment(providerTransactionID string, status subsync.PaymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[providerTransactionID] = status
}

// MarkPaymentStatus implements subsync.PaymentStore
func (s *Store) MarkPaymentStatus(ctx context.Context, providerTransactionID string, status subsync.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[providerTransactionID]; !ok {
		return subsync.ErrPaymentNotFound
	}
	s.payments[providerTransactionID] = status
	return nil
}

// PaymentStatus returns the recorded status for a transaction, for tests.
func (s *Store) PaymentStatus(providerTransactionID string) (subsync.PaymentStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.payments[providerTransactionID]
	return status, ok
}

// Clear removes all data (useful for testing)
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions = make(map[string]*subsync.Subscription)
	s.payments = make(map[string]subsync.PaymentStatus)
}

func subscriptionKey(provider, providerSubscriptionID string) string {
	return provider + ":" + providerSubscriptionID
}
