package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrBadPayload      = errors.New("malformed provider payload")
)

// Notification is the one canonical shape downstream code sees, whatever the
// provider sent. Raw keeps the original payload for the audit trail only;
// nothing downstream type-assumes into it.
type Notification struct {
	Provider      string
	TransactionID string
	AmountCents   int64
	Memo          string
	At            time.Time
	Raw           json.RawMessage
}

// sepayWebhook is SePay's bank-transfer notification shape.
type sepayWebhook struct {
	ID                 int64  `json:"id"`
	ReferenceCode      string `json:"referenceCode"`
	AmountIn           int64  `json:"amountIn"`
	TransactionContent string `json:"transactionContent"`
	TransactionDate    string `json:"transactionDate"`
}

// bankWebhook is the generic shape used by manual bank-feed integrations.
type bankWebhook struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Memo          string `json:"memo"`
	PaidAt        string `json:"paid_at"`
}

// Normalize maps a provider-specific body onto a Notification. Each provider
// is its own variant; adding one means adding a case here, nothing else.
func Normalize(provider string, body []byte) (Notification, error) {
	switch provider {
	case "sepay":
		var w sepayWebhook
		if err := json.Unmarshal(body, &w); err != nil {
			return Notification{}, fmt.Errorf("%w: sepay: %v", ErrBadPayload, err)
		}
		txn := w.ReferenceCode
		if txn == "" {
			if w.ID == 0 {
				return Notification{}, fmt.Errorf("%w: sepay payload has no transaction id", ErrBadPayload)
			}
			txn = strconv.FormatInt(w.ID, 10)
		}
		return Notification{
			Provider:      provider,
			TransactionID: txn,
			AmountCents:   w.AmountIn,
			Memo:          w.TransactionContent,
			At:            parseWhen(w.TransactionDate),
			Raw:           json.RawMessage(body),
		}, nil
	case "bank":
		var w bankWebhook
		if err := json.Unmarshal(body, &w); err != nil {
			return Notification{}, fmt.Errorf("%w: bank: %v", ErrBadPayload, err)
		}
		if w.TransactionID == "" {
			return Notification{}, fmt.Errorf("%w: bank payload has no transaction id", ErrBadPayload)
		}
		return Notification{
			Provider:      provider,
			TransactionID: w.TransactionID,
			AmountCents:   w.Amount,
			Memo:          w.Memo,
			At:            parseWhen(w.PaidAt),
			Raw:           json.RawMessage(body),
		}, nil
	default:
		return Notification{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
}

func parseWhen(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
