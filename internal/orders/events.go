package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderFulfilled = "OrderFulfilled"
	EventOrderExpired   = "OrderExpired"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID       string `json:"order_id"`
	OrderCode     string `json:"order_code"`
	CustomerEmail string `json:"customer_email"`
	AmountTotal   int64  `json:"amount_total"`
	LineCount     int    `json:"line_count"`
}

type OrderFulfilledPayload struct {
	OrderID       string  `json:"order_id"`
	OrderCode     string  `json:"order_code"`
	CustomerEmail string  `json:"customer_email"`
	Provider      string  `json:"provider"`
	TransactionID string  `json:"transaction_id"`
	AmountCents   int64   `json:"amount_cents"`
	InvoiceNumber string  `json:"invoice_number"`
	DeliveryToken string  `json:"delivery_token"`
	UnitIDs       []int64 `json:"unit_ids"`
}

type OrderExpiredPayload struct {
	OrderID   string `json:"order_id"`
	OrderCode string `json:"order_code"`
	Released  int    `json:"released_units"`
}
