package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immigrationai/subsync/pkg/subsync"
)

func newSub(userID, providerSubID string) *subsync.Subscription {
	return &subsync.Subscription{
		UserID:                 userID,
		Provider:               "stripe",
		ProviderSubscriptionID: providerSubID,
		PlanID:                 "pro",
		Status:                 subsync.StatusActive,
		LastEventID:            "evt_1",
	}
}

func TestInsertAndFind(t *testing.T) {
	store := New()
	ctx := context.Background()

	sub := newSub("user-1", "sub_123")
	require.NoError(t, store.Insert(ctx, sub))
	assert.NotEmpty(t, sub.ID)
	assert.False(t, sub.CreatedAt.IsZero())

	found, err := store.FindByProviderSubscriptionID(ctx, "stripe", "sub_123")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, found.ID)
	assert.Equal(t, "user-1", found.UserID)
	assert.Equal(t, subsync.StatusActive, found.Status)
	assert.Equal(t, "evt_1", found.LastEventID)
}

func TestFindNotFound(t *testing.T) {
	store := New()

	_, err := store.FindByProviderSubscriptionID(context.Background(), "stripe", "sub_missing")
	assert.ErrorIs(t, err, subsync.ErrSubscriptionNotFound)
}

func TestInsertDuplicate(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newSub("user-1", "sub_123")))
	err := store.Insert(ctx, newSub("user-2", "sub_123"))
	assert.ErrorIs(t, err, subsync.ErrAlreadyExists)
}

func TestInsertInvalid(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.Insert(ctx, &subsync.Subscription{Provider: "stripe", UserID: "user-1"})
	assert.ErrorIs(t, err, subsync.ErrInvalidSubscription)

	err = store.Insert(ctx, &subsync.Subscription{Provider: "stripe", ProviderSubscriptionID: "sub_123"})
	assert.ErrorIs(t, err, subsync.ErrInvalidSubscription)
}

func TestUpdateIfNewEvent(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newSub("user-1", "sub_123")))

	end := time.Now().Add(30 * 24 * time.Hour).UTC()
	applied, err := store.UpdateIfNewEvent(ctx, "stripe", "sub_123", "evt_2", subsync.Change{
		Status:           subsync.StatusPastDue,
		PlanID:           "pro",
		CurrentPeriodEnd: &end,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	found, err := store.FindByProviderSubscriptionID(ctx, "stripe", "sub_123")
	require.NoError(t, err)
	assert.Equal(t, subsync.StatusPastDue, found.Status)
	assert.Equal(t, "evt_2", found.LastEventID)
	require.NotNil(t, found.CurrentPeriodEnd)
	assert.True(t, found.CurrentPeriodEnd.Equal(end))
}

func TestUpdateIfNewEventRedelivery(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newSub("user-1", "sub_123")))

	applied, err := store.UpdateIfNewEvent(ctx, "stripe", "sub_123", "evt_1", subsync.Change{
		Status: subsync.StatusCanceled,
		PlanID: "pro",
	})
	require.NoError(t, err)
	assert.False(t, applied)

	found, err := store.FindByProviderSubscriptionID(ctx, "stripe", "sub_123")
	require.NoError(t, err)
	assert.Equal(t, subsync.StatusActive, found.Status, "redelivered event must not change the record")
	assert.Equal(t, "evt_1", found.LastEventID)
}

func TestUpdateIfNewEventNotFound(t *testing.T) {
	store := New()

	_, err := store.UpdateIfNewEvent(context.Background(), "stripe", "sub_missing", "evt_1", subsync.Change{
		Status: subsync.StatusActive,
	})
	assert.ErrorIs(t, err, subsync.ErrSubscriptionNotFound)
}

func TestUpdateKeepsMetadataWhenNil(t *testing.T) {
	store := New()
	ctx := context.Background()

	sub := newSub("user-1", "sub_123")
	sub.Metadata = map[string]string{"userId": "user-1"}
	require.NoError(t, store.Insert(ctx, sub))

	_, err := store.UpdateIfNewEvent(ctx, "stripe", "sub_123", "evt_2", subsync.Change{
		Status: subsync.StatusActive,
		PlanID: "pro",
	})
	require.NoError(t, err)

	found, err := store.FindByProviderSubscriptionID(ctx, "stripe", "sub_123")
	require.NoError(t, err)
	assert.Equal(t, "user-1", found.Metadata["userId"])
}

func TestConcurrentRedelivery(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newSub("user-1", "sub_123")))

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	appliedCount := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := store.UpdateIfNewEvent(ctx, "stripe", "sub_123", "evt_2", subsync.Change{
				Status: subsync.StatusCanceled,
				PlanID: "pro",
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if applied {
				mu.Lock()
				appliedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, appliedCount, "exactly one delivery should apply")
}

func TestMarkPaymentStatus(t *testing.T) {
	store := New()
	ctx := context.Background()

	store.RecordPayment("pi_123", subsync.PaymentStatusFailed)
	require.NoError(t, store.MarkPaymentStatus(ctx, "pi_123", subsync.PaymentStatusCompleted))

	got, ok := store.PaymentStatus("pi_123")
	require.True(t, ok)
	assert.Equal(t, subsync.PaymentStatusCompleted, got)

	err := store.MarkPaymentStatus(ctx, "pi_missing", subsync.PaymentStatusFailed)
	assert.True(t, errors.Is(err, subsync.ErrPaymentNotFound))
}
