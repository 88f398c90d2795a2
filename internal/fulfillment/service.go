// Package fulfillment turns a confirmed payment into sold stock, delivery
// records, an invoice and an audit trail. Every step is idempotent behind a
// unique constraint or a state-scoped update, so the whole sequence can be
// re-run end to end after a crash or a duplicate webhook.
package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/radityapw/go-digital-orders/internal/orders"
)

// Store is the persistence surface of the orchestrator, implemented by
// orders.FulfillmentRepo. InsertPayment reports whether the row was newly
// created so replays branch explicitly; InsertDelivery and InsertInvoice are
// insert-or-get, always answering what is on record.
type Store interface {
	InsertPayment(ctx context.Context, p orders.Payment) (created bool, err error)
	ListAllocations(ctx context.Context, orderID string) ([]orders.AllocatedUnit, error)
	PromoteAllocations(ctx context.Context, orderID string) (int, error)
	MarkFulfilled(ctx context.Context, orderID string) (bool, error)
	InsertDelivery(ctx context.Context, d orders.Delivery) (token string, err error)
	InsertInvoice(ctx context.Context, orderID, candidate string) (string, error)
	AppendAudit(ctx context.Context, e orders.AuditEntry) error
}

type SecretOpener interface {
	Open(sealed string) (string, error)
}

// PaymentInfo is the normalized payment fact handed over by the webhook
// processor. Raw is the provider's original payload, kept only for audit.
type PaymentInfo struct {
	Provider      string
	TransactionID string
	AmountCents   int64
	Raw           json.RawMessage
}

type Credential struct {
	UnitID   int64  `json:"unit_id"`
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

type Result struct {
	OrderID       string
	OrderCode     string
	DeliveryToken string
	InvoiceNumber string
	// Credentials in allocation order: repeated runs deliver the same
	// units in the same order.
	Credentials []Credential
	// Replayed means the payment row already existed: this run converged an
	// earlier fulfillment instead of performing a new one.
	Replayed bool
}

type Service struct {
	Store  Store
	Vault  SecretOpener
	Tokens *TokenMaker
	Actor  string // audit actor, e.g. the service name
	Log    *logrus.Entry
}

// Fulfill runs the fixed sequence: payment → promote → CAS order → token →
// deliveries → invoice → audit. Any error aborts the run; nothing beyond
// what the unique constraints already committed sticks, and the caller may
// invoke it again from scratch.
func (s *Service) Fulfill(ctx context.Context, ord *orders.Order, pay PaymentInfo) (*Result, error) {
	created, err := s.Store.InsertPayment(ctx, orders.Payment{
		OrderID:       ord.ID,
		Provider:      pay.Provider,
		TransactionID: pay.TransactionID,
		AmountCents:   pay.AmountCents,
	})
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	units, err := s.Store.ListAllocations(ctx, ord.ID)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	if len(units) == 0 {
		// reservation already released (expiry reaper won); stale order
		return nil, orders.ErrOrderNotFound
	}

	promoted, err := s.Store.PromoteAllocations(ctx, ord.ID)
	if err != nil {
		return nil, fmt.Errorf("promote allocations: %w", err)
	}
	alreadySold := 0
	for _, u := range units {
		if u.Status == orders.AllocationSold {
			alreadySold++
		}
	}
	if promoted+alreadySold != len(units) {
		// the expiry sweep released these units between the list and the
		// promotion: nothing was sold, so nothing may be delivered. The
		// payment row stays on file.
		return nil, orders.ErrOrderNotFound
	}

	won, err := s.Store.MarkFulfilled(ctx, ord.ID)
	if err != nil {
		return nil, fmt.Errorf("mark fulfilled: %w", err)
	}
	if !won && s.Log != nil {
		// normal on replay or when racing another delivery of the same payment
		s.Log.WithField("order_id", ord.ID).Debug("order already transitioned")
	}

	token := s.Tokens.DeliveryToken(ord.ID, ord.CustomerEmail, time.Now())

	unitIDs := make([]int64, 0, len(units))
	for _, u := range units {
		onFile, err := s.Store.InsertDelivery(ctx, orders.Delivery{
			OrderID:       ord.ID,
			UnitID:        u.UnitID,
			DeliveryToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("insert delivery unit %d: %w", u.UnitID, err)
		}
		// a replay on a later day keeps whatever token the first run stored
		token = onFile
		unitIDs = append(unitIDs, u.UnitID)
	}

	invoiceNumber, err := s.Store.InsertInvoice(ctx, ord.ID, newInvoiceNumber())
	if err != nil {
		return nil, fmt.Errorf("insert invoice: %w", err)
	}

	if err := s.appendAudits(ctx, ord, pay, unitIDs, invoiceNumber, token); err != nil {
		return nil, err
	}

	creds := make([]Credential, 0, len(units))
	for _, u := range units {
		secret, err := s.Vault.Open(u.SecretSealed)
		if err != nil {
			return nil, fmt.Errorf("open secret unit %d: %w", u.UnitID, err)
		}
		creds = append(creds, Credential{UnitID: u.UnitID, Username: u.Username, Secret: secret})
	}

	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{
			"order_id":  ord.ID,
			"promoted":  promoted,
			"units":     len(units),
			"invoice":   invoiceNumber,
			"replayed":  !created,
			"cas_won":   won,
			"provider":  pay.Provider,
			"trans_id":  pay.TransactionID,
			"amount":    pay.AmountCents,
			"ord_total": ord.AmountTotal,
		}).Info("fulfillment converged")
	}

	return &Result{
		OrderID:       ord.ID,
		OrderCode:     ord.OrderCode,
		DeliveryToken: token,
		InvoiceNumber: invoiceNumber,
		Credentials:   creds,
		Replayed:      !created,
	}, nil
}

func (s *Service) appendAudits(ctx context.Context, ord *orders.Order, pay PaymentInfo, unitIDs []int64, invoiceNumber, token string) error {
	paid, _ := json.Marshal(map[string]any{
		"provider":       pay.Provider,
		"transaction_id": pay.TransactionID,
		"amount_cents":   pay.AmountCents,
		"expected_cents": ord.AmountTotal,
		"raw":            pay.Raw,
	})
	if err := s.Store.AppendAudit(ctx, orders.AuditEntry{
		EventType:  "PAYMENT_CONFIRMED",
		EntityType: "order",
		EntityID:   ord.ID,
		Actor:      s.Actor,
		Payload:    paid,
	}); err != nil {
		return fmt.Errorf("audit payment: %w", err)
	}

	fulfilled, _ := json.Marshal(map[string]any{
		"transaction_id": pay.TransactionID,
		"amount_cents":   pay.AmountCents,
		"unit_ids":       unitIDs,
		"invoice_number": invoiceNumber,
		"delivery_token": token,
	})
	if err := s.Store.AppendAudit(ctx, orders.AuditEntry{
		EventType:  "ORDER_FULFILLED",
		EntityType: "order",
		EntityID:   ord.ID,
		Actor:      s.Actor,
		Payload:    fulfilled,
	}); err != nil {
		return fmt.Errorf("audit fulfilled: %w", err)
	}
	return nil
}

// newInvoiceNumber proposes a candidate; the insert-or-get on invoices keeps
// whichever candidate won first, so collisions across retries cannot
// reassign a number.
func newInvoiceNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "INV-" + time.Now().UTC().Format("20060102") + "-" + suffix
}
