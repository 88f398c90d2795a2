// Package notifier projects fulfillment events into the redis status cache
// and records customer-notification intents. It consumes order.fulfilled
// with redis dedup, so at-least-once delivery never notifies twice.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	kafkax "github.com/radityapw/go-digital-orders/internal/kafka"
	"github.com/radityapw/go-digital-orders/internal/orders"
	"github.com/radityapw/go-digital-orders/internal/redisx"
)

type Service struct {
	Redis       *redis.Client
	ServiceName string
	Log         *logrus.Entry
}

// HandleOrderFulfilled is the consumer handler for order.fulfilled.
func (s *Service) HandleOrderFulfilled(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderFulfilled {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "notifier", env.EventID)
	seen, _ := redisx.Exists(ctx, s.Redis, dkey)
	if seen {
		return nil
	}
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	p, err := kafkax.UnwrapPayload[orders.OrderFulfilledPayload](env.Payload)
	if err != nil {
		return err
	}

	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, p.OrderCode)
	_ = s.Redis.Set(ctx, statusKey, `{"status":"fulfilled"}`, redisx.TTLStatusCache).Err()

	// delivery messaging itself (mail, chat) hangs off this log line for now
	s.Log.WithFields(logrus.Fields{
		"order_code": p.OrderCode,
		"email":      p.CustomerEmail,
		"invoice":    p.InvoiceNumber,
		"units":      len(p.UnitIDs),
	}).Info("customer delivery notification queued")
	return nil
}
