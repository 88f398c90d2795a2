// Package reaper releases reservation holds that outlived their deadline.
// Sweep cadence is policy, not protocol: each expiry is a single transaction
// that CASes the order out of pending_payment before freeing its units, so a
// webhook landing mid-sweep either wins that CAS cleanly or finds nothing
// left to promote.
package reaper

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	kafkax "github.com/radityapw/go-digital-orders/internal/kafka"
	"github.com/radityapw/go-digital-orders/internal/orders"
)

type OrderStore interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]orders.Order, error)
	ExpireOrder(ctx context.Context, orderID string) (released int, won bool, err error)
}

type AuditAppender interface {
	AppendAudit(ctx context.Context, e orders.AuditEntry) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Reaper struct {
	Orders   OrderStore
	Audit    AuditAppender
	Producer Publisher
	Interval time.Duration
	Batch    int
	Service  string
	Log      *logrus.Entry
}

// Run sweeps on a ticker until the context ends.
func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				r.Log.WithError(err).Warn("sweep failed")
				continue
			}
			if n > 0 {
				r.Log.WithField("expired", n).Info("released stale reservations")
			}
		}
	}
}

// Sweep expires every pending order whose hold has lapsed. Each order is its
// own transaction, so one bad order cannot wedge the rest of the batch.
// Returns how many orders this sweep actually transitioned.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	batch := r.Batch
	if batch <= 0 {
		batch = 100
	}
	stale, err := r.Orders.ListExpired(ctx, time.Now().UTC(), batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, ord := range stale {
		released, won, err := r.Orders.ExpireOrder(ctx, ord.ID)
		if err != nil {
			r.Log.WithError(err).WithField("order_id", ord.ID).Warn("expire failed")
			continue
		}
		if !won {
			// a webhook fulfilled it between the list and the expiry CAS;
			// its units stay reserved or sold, never freed by this sweep
			continue
		}
		expired++

		payload, _ := json.Marshal(map[string]any{
			"order_code":     ord.OrderCode,
			"released_units": released,
		})
		if err := r.Audit.AppendAudit(ctx, orders.AuditEntry{
			EventType:  "ORDER_EXPIRED",
			EntityType: "order",
			EntityID:   ord.ID,
			Actor:      r.Service,
			Payload:    payload,
		}); err != nil {
			r.Log.WithError(err).WithField("order_id", ord.ID).Warn("audit failed")
		}

		r.publishExpired(ord, released)
	}
	return expired, nil
}

func (r *Reaper) publishExpired(ord orders.Order, released int) {
	if r.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderExpired,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      r.Service,
		CorrelationID: ord.ID,
		Payload: kafkax.MustMarshal(orders.OrderExpiredPayload{
			OrderID:   ord.ID,
			OrderCode: ord.OrderCode,
			Released:  released,
		}),
	}
	r.Producer.Publish(orders.PartitionKey(ord.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderExpired)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
