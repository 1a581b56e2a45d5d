package subsync

import (
	"context"
	"errors"
	"fmt"
)

// Config holds reconciler configuration.
type Config struct {
	// Store is the subscription persistence layer. Required.
	Store Store

	// Payments is the payment persistence layer used by payment-class
	// events. Optional; payment events are ignored without one.
	Payments PaymentStore

	// Logger is an optional structured logger. Defaults to no-op.
	Logger Logger
}

// Reconciler translates verified provider events into the local
// subscription table. Every mutation goes through the store's conditional
// write, so applying the same event id twice is a guaranteed no-op on the
// mutable fields even under concurrent redelivery.
type Reconciler struct {
	store    Store
	payments PaymentStore
	logger   Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &Reconciler{
		store:    cfg.Store,
		payments: cfg.Payments,
		logger:   logger,
	}, nil
}

// Apply routes the event to its handler and reports whether it changed
// state. Events that are malformed, already applied, or of an ignored
// kind return (false, nil): the caller still acknowledges them so the
// provider stops redelivering.
//
// When the event id check passes, incoming field values are applied
// unconditionally. There is no timestamp or version comparison, so a
// late-arriving older event with a fresh id overwrites newer state; the
// provider's redelivery window makes this window acceptable in practice.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (bool, error) {
	switch ev.Kind {
	case KindSubscriptionCreated:
		return r.applyCreated(ctx, ev)
	case KindSubscriptionUpdated:
		return r.applyUpdated(ctx, ev)
	case KindSubscriptionDeleted:
		return r.applyDeleted(ctx, ev)
	case KindPaymentSucceeded:
		return r.applyPayment(ctx, ev, PaymentStatusCompleted)
	case KindPaymentFailed:
		return r.applyPayment(ctx, ev, PaymentStatusFailed)
	case KindIgnored:
		return false, nil
	default:
		return false, nil
	}
}

// applyCreated inserts a new record for a first-seen provider
// subscription id. Creation events may be redelivered, so an existing
// record falls through to update semantics instead of erroring.
func (r *Reconciler) applyCreated(ctx context.Context, ev Event) (bool, error) {
	if ev.ProviderSubscriptionID == "" {
		r.logger.Warn("event missing subscription id, skipping",
			Field{Key: "event_id", Value: ev.ID},
			Field{Key: "kind", Value: ev.Kind.String()})
		return false, nil
	}
	if ev.UserID == "" {
		r.logger.Warn("event missing metadata user id, skipping",
			Field{Key: "event_id", Value: ev.ID},
			Field{Key: "subscription_id", Value: ev.ProviderSubscriptionID})
		return false, nil
	}

	err := r.store.Insert(ctx, r.newRecord(ev))
	if err == nil {
		r.logger.Info("subscription created",
			Field{Key: "event_id", Value: ev.ID},
			Field{Key: "subscription_id", Value: ev.ProviderSubscriptionID},
			Field{Key: "user_id", Value: ev.UserID},
			Field{Key: "status", Value: string(ev.Status)})
		return true, nil
	}
	if !errors.Is(err, ErrAlreadyExists) {
		return false, fmt.Errorf("failed to insert subscription: %w", err)
	}

	// Redelivered or out-of-order create: the record exists, apply
	// update semantics guarded by the event id.
	return r.update(ctx, ev)
}

// applyUpdated applies the event's field values to the existing record.
// An update for an unknown subscription id is treated as a late-arriving
// creation.
func (r *Reconciler) applyUpdated(ctx context.Context, ev Event) (bool, error) {
	if ev.ProviderSubscriptionID == "" {
		r.logger.Warn("event missing subscription id, skipping",
			Field{Key: "event_id", Value: ev.ID},
			Field{Key: "kind", Value: ev.Kind.String()})
		return false, nil
	}

	applied, err := r.update(ctx, ev)
	if err == nil || !errors.Is(err, ErrSubscriptionNotFound) {
		return applied, err
	}

	// Late-arriving creation.
	if ev.UserID == "" {
		r.logger.Warn("event missing metadata user id, skipping",
			Field{Key: "event_id", Value: ev.ID},
			Field{Key: "subscription_id", Value: ev.ProviderSubscriptionID})
		return false, nil
	}
	err = r.store.Insert(ctx, r.newRecord(ev))
	if errors.Is(err, ErrAlreadyExists) {
		// Lost the race to a concurrent delivery; retry as update.
		return r.update(ctx, ev)
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert subscription: %w", err)
	}
	r.logger.Info("subscription created from update event",
		Field{Key: "event_id", Value: ev.ID},
		Field{Key: "subscription_id", Value: ev.ProviderSubscriptionID},
		Field{Key: "user_id", Value: ev.UserID})
	return true, nil
}

// applyDeleted marks the record canceled. The row is kept; deletion for
// an unknown subscription id is skipped, there is nothing to cancel.
func (r *Reconciler) applyDeleted(ctx context.Context, ev Event) (bool, error) {
	if ev.ProviderSubscriptionID == "" {
		r.logger.Warn("event missing subscription id, skipping",
			Field{Key: "event_id", Value: ev.ID},
			Field{Key: "kind", Value: ev.Kind.String()})
		return false, nil
	}

	ev.Status = StatusCanceled
	applied, err := r.update(ctx, ev)
	if errors.Is(err, ErrSubscriptionNotFound) {
		r.logger.Warn("delete event for unknown subscription, skipping",
			Field{Key: "event_id", Value: ev.ID},
			Field{Key: "subscription_id", Value: ev.ProviderSubscriptionID})
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if applied {
		r.logger.Info("subscription canceled",
			Field{Key: "event_id", Value: ev.ID},
			Field{Key: "subscription_id", Value: ev.ProviderSubscriptionID})
	}
	return applied, nil
}

// applyPayment records the terminal state of a one-off payment.
func (r *Reconciler) applyPayment(ctx context.Context, ev Event, status PaymentStatus) (bool, error) {
	if ev.ProviderTransactionID == "" {
		return false, nil
	}
	if r.payments == nil {
		r.logger.Debug("no payment store configured, ignoring payment event",
			Field{Key: "event_id", Value: ev.ID})
		return false, nil
	}

	err := r.payments.MarkPaymentStatus(ctx, ev.ProviderTransactionID, status)
	if errors.Is(err, ErrPaymentNotFound) {
		r.logger.Warn("payment event for unknown transaction, skipping",
			Field{Key: "event_id", Value: ev.ID},
			Field{Key: "transaction_id", Value: ev.ProviderTransactionID})
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark payment: %w", err)
	}
	r.logger.Info("payment status recorded",
		Field{Key: "event_id", Value: ev.ID},
		Field{Key: "transaction_id", Value: ev.ProviderTransactionID},
		Field{Key: "status", Value: string(status)})
	return true, nil
}

// update performs the guarded conditional write.
func (r *Reconciler) update(ctx context.Context, ev Event) (bool, error) {
	applied, err := r.store.UpdateIfNewEvent(ctx, ev.Provider, ev.ProviderSubscriptionID, ev.ID, ev.change())
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return false, err
		}
		return false, fmt.Errorf("failed to update subscription: %w", err)
	}
	if !applied {
		r.logger.Debug("event already applied, skipping",
			Field{Key: "event_id", Value: ev.ID},
			Field{Key: "subscription_id", Value: ev.ProviderSubscriptionID})
		return false, nil
	}
	r.logger.Info("subscription updated",
		Field{Key: "event_id", Value: ev.ID},
		Field{Key: "subscription_id", Value: ev.ProviderSubscriptionID},
		Field{Key: "status", Value: string(ev.Status)})
	return true, nil
}

// newRecord builds the row inserted for a first-seen subscription.
// Store implementations generate the opaque ID.
func (r *Reconciler) newRecord(ev Event) *Subscription {
	return &Subscription{
		UserID:                 ev.UserID,
		Provider:               ev.Provider,
		ProviderSubscriptionID: ev.ProviderSubscriptionID,
		PlanID:                 ev.PlanID,
		Status:                 ev.Status,
		CurrentPeriodEnd:       ev.CurrentPeriodEnd,
		LastEventID:            ev.ID,
		Metadata:               ev.Metadata,
	}
}
