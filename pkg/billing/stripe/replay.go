package stripe

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/stripe/stripe-go/v83"
	"golang.org/x/sync/errgroup"

	"github.com/immigrationai/subsync/pkg/billing"
	"github.com/immigrationai/subsync/pkg/subsync"
)

// replayConcurrency bounds parallel reconciler calls during a replay run.
const replayConcurrency = 4

// ReplaySince re-applies subscription and payment events from Stripe's
// event log starting at the given time. The webhook handler acknowledges
// events even when storage is down, so a database outage silently drops
// their effects; operators run a replay over the outage window to
// recover. Idempotency makes overlap with already-applied events safe.
//
// Events are applied oldest-first. Deliveries for the same subscription
// may interleave across workers, matching live webhook behavior.
// Returns the number of events that changed state.
func (p *Provider) ReplaySince(ctx context.Context, since time.Time) (int, error) {
	startTime := time.Now()

	if p.stripeClient == nil {
		p.metrics.RecordReplay(providerName, "error")
		return 0, billing.ErrProviderNotConfigured
	}

	params := &stripe.EventListParams{
		Types: stripe.StringSlice([]string{
			"customer.subscription.created",
			"customer.subscription.updated",
			"customer.subscription.deleted",
			"payment_intent.succeeded",
			"payment_intent.payment_failed",
		}),
	}
	params.CreatedRange = &stripe.RangeQueryParams{
		GreaterThanOrEqual: since.Unix(),
	}

	// The list API returns newest-first; collect, then walk backwards.
	var events []*stripe.Event
	for event, err := range p.stripeClient.V1Events.List(ctx, params) {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "/events/list", "error")
			p.metrics.RecordReplay(providerName, "error")
			p.metrics.RecordReplayDuration(providerName, time.Since(startTime))
			return 0, fmt.Errorf("failed to list events: %w", err)
		}
		events = append(events, event)
	}
	p.metrics.RecordAPICall(providerName, "/events/list", "success")

	var appliedCount atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(replayConcurrency)

	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		g.Go(func() error {
			ev, err := parseEvent(event)
			if err != nil {
				// A payload this module cannot parse was acked live
				// too; skip it rather than abort the whole run.
				p.logger.Warn("skipping unparseable event during replay",
					subsync.Field{Key: "event_id", Value: event.ID},
					subsync.Field{Key: "error", Value: err.Error()})
				return nil
			}
			applied, err := p.reconciler.Apply(gctx, ev)
			if err != nil {
				return fmt.Errorf("replay of event %s failed: %w", ev.ID, err)
			}
			if applied {
				appliedCount.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.metrics.RecordReplay(providerName, "error")
		p.metrics.RecordReplayDuration(providerName, time.Since(startTime))
		return int(appliedCount.Load()), err
	}

	p.logger.Info("event replay complete",
		subsync.Field{Key: "events", Value: len(events)},
		subsync.Field{Key: "applied", Value: appliedCount.Load()},
		subsync.Field{Key: "since", Value: since.UTC().Format(time.RFC3339)})
	p.metrics.RecordReplay(providerName, "success")
	p.metrics.RecordReplayDuration(providerName, time.Since(startTime))
	return int(appliedCount.Load()), nil
}
