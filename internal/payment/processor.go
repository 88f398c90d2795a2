package payment

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/radityapw/go-digital-orders/internal/fulfillment"
	kafkax "github.com/radityapw/go-digital-orders/internal/kafka"
	"github.com/radityapw/go-digital-orders/internal/orders"
	"github.com/radityapw/go-digital-orders/internal/redisx"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type OrderStore interface {
	FindByCode(ctx context.Context, orderCode string) (*orders.Order, error)
}

type PaymentLookup interface {
	PaymentExists(ctx context.Context, provider, transactionID string) (bool, error)
}

type Fulfiller interface {
	Fulfill(ctx context.Context, ord *orders.Order, pay fulfillment.PaymentInfo) (*fulfillment.Result, error)
}

// Outcome is what the provider gets back. Success=true covers both real
// fulfillment and the deliberately-ignored cases (no matching order, stale
// order): returning an error there would wedge the provider's retry queue.
type Outcome struct {
	Success bool
	Message string
	Result  *fulfillment.Result
}

// Processor runs the webhook state machine:
// authenticate → normalize → match → amount check → delegate.
type Processor struct {
	Orders    OrderStore
	Payments  PaymentLookup
	Fulfiller Fulfiller
	APIKey    string
	// Producer and Redis are optional: set, they publish order.fulfilled and
	// refresh the status cache after a first-time fulfillment.
	Producer    Publisher
	Redis       *redis.Client
	ServiceName string
	Log         *logrus.Entry
}

// Authenticate checks the bearer credential in constant time. The caller
// returns a generic 401 on failure; no hint about which part was wrong.
func (p *Processor) Authenticate(bearer string) error {
	if p.APIKey == "" || subtle.ConstantTimeCompare([]byte(bearer), []byte(p.APIKey)) != 1 {
		return orders.ErrUnauthorized
	}
	return nil
}

// Process handles one webhook delivery. Terminal business failures come back
// as errors (ErrAmountMismatch); transient store failures come back as plain
// errors for the caller to surface as retryable. Everything the provider
// should not retry is a Success outcome.
func (p *Processor) Process(ctx context.Context, provider string, body []byte) (*Outcome, error) {
	n, err := Normalize(provider, body)
	if err != nil {
		return nil, err
	}
	log := p.Log.WithFields(logrus.Fields{
		"provider": n.Provider,
		"trans_id": n.TransactionID,
	})

	code := orders.ExtractOrderCode(n.Memo)
	if code == "" {
		log.Info("memo carries no order code, ignoring")
		return &Outcome{Success: true, Message: "no matching order"}, nil
	}

	ord, err := p.Orders.FindByCode(ctx, code)
	if errors.Is(err, orders.ErrOrderNotFound) {
		log.WithField("order_code", code).Info("no order for code, ignoring")
		return &Outcome{Success: true, Message: "no matching order"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("match order: %w", err)
	}

	switch ord.Status {
	case orders.OrderPendingPayment:
		// fall through to fulfillment
	case orders.OrderFulfilled:
		seen, err := p.Payments.PaymentExists(ctx, n.Provider, n.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("check payment: %w", err)
		}
		if !seen {
			// a different payment against an already-fulfilled order
			log.WithField("order_code", code).Warn("payment for fulfilled order, ignoring")
			return &Outcome{Success: true, Message: "no matching order"}, nil
		}
		res, err := p.Fulfiller.Fulfill(ctx, ord, paymentInfo(n))
		if err != nil {
			return nil, fmt.Errorf("replay fulfillment: %w", err)
		}
		log.WithError(orders.ErrAlreadyFulfilled).WithField("order_code", code).Info("duplicate delivery converged")
		return &Outcome{Success: true, Message: "Already fulfilled", Result: res}, nil
	default:
		// expired or cancelled: the hold is gone, treat as no match
		log.WithFields(logrus.Fields{"order_code": code, "status": ord.Status}).Info("stale order, ignoring")
		return &Outcome{Success: true, Message: "no matching order"}, nil
	}

	if n.AmountCents < ord.AmountTotal {
		log.WithFields(logrus.Fields{
			"order_code": code,
			"received":   n.AmountCents,
			"expected":   ord.AmountTotal,
		}).Warn("underpayment rejected")
		return nil, orders.ErrAmountMismatch
	}
	// overpayment is accepted as-is; no refund logic here

	res, err := p.Fulfiller.Fulfill(ctx, ord, paymentInfo(n))
	if errors.Is(err, orders.ErrOrderNotFound) {
		// reservation expired between match and fulfillment
		log.WithField("order_code", code).Info("reservation released mid-flight, ignoring")
		return &Outcome{Success: true, Message: "no matching order"}, nil
	}
	if err != nil {
		return nil, err
	}
	if res.Replayed {
		return &Outcome{Success: true, Message: "Already fulfilled", Result: res}, nil
	}

	p.announceFulfilled(ctx, ord, n, res)
	return &Outcome{Success: true, Message: "order fulfilled", Result: res}, nil
}

func paymentInfo(n Notification) fulfillment.PaymentInfo {
	return fulfillment.PaymentInfo{
		Provider:      n.Provider,
		TransactionID: n.TransactionID,
		AmountCents:   n.AmountCents,
		Raw:           n.Raw,
	}
}

func (p *Processor) announceFulfilled(ctx context.Context, ord *orders.Order, n Notification, res *fulfillment.Result) {
	if p.Redis != nil {
		statusKey := fmt.Sprintf(redisx.KeyOrderStatus, ord.OrderCode)
		_ = p.Redis.Set(ctx, statusKey, `{"status":"fulfilled"}`, redisx.TTLStatusCache).Err()
	}
	if p.Producer == nil {
		return
	}
	unitIDs := make([]int64, 0, len(res.Credentials))
	for _, c := range res.Credentials {
		unitIDs = append(unitIDs, c.UnitID)
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderFulfilled,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.ServiceName,
		CorrelationID: ord.ID,
		Payload: kafkax.MustMarshal(orders.OrderFulfilledPayload{
			OrderID:       ord.ID,
			OrderCode:     ord.OrderCode,
			CustomerEmail: ord.CustomerEmail,
			Provider:      n.Provider,
			TransactionID: n.TransactionID,
			AmountCents:   n.AmountCents,
			InvoiceNumber: res.InvoiceNumber,
			DeliveryToken: res.DeliveryToken,
			UnitIDs:       unitIDs,
		}),
	}
	p.Producer.Publish(orders.PartitionKey(ord.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderFulfilled)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
